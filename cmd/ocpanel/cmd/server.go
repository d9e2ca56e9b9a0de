package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ocpanel/api"
	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/internal/util"
	"github.com/jmcleod/ocpanel/lockout"
	"github.com/jmcleod/ocpanel/session"
	"github.com/jmcleod/ocpanel/storage"
	"github.com/jmcleod/ocpanel/web"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the control panel server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		store, closeStore, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		// Load eagerly so a broken data dir fails startup, not the first login.
		if _, err := store.SetupRequired(); err != nil {
			return fmt.Errorf("failed to load auth state: %w", err)
		}

		ctx, stop := context.WithCancel(context.Background())
		defer stop()

		a, cleanup, err := newAPI(ctx, cfg, store, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		webHandler, err := web.Handler()
		if err != nil {
			return err
		}
		router := newRouter(a, webHandler, cfg, logger)

		tlsConfig, err := serverTLSConfig(cfg, logger)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           router,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      3 * time.Minute,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}

		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ServeTLS(ln, "", "")
			} else {
				err = server.Serve(ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("control panel listening",
			"addr", ln.Addr().String(),
			"tls", tlsConfig != nil,
			"store", cfg.Store,
			"data_dir", cfg.DataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// newAPI wires the auth core from cfg. The governor sweep runs until ctx is
// cancelled; cleanup stops the alert webhook.
func newAPI(ctx context.Context, cfg config, store *storage.Store, logger *slog.Logger) (*api.API, func(), error) {
	cleanup := func() {}

	proxies, err := api.WithTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid trusted-proxies: %w", err)
	}

	gov := lockout.New(
		lockout.WithThreshold(cfg.LockoutThreshold),
		lockout.WithLockDuration(cfg.LockoutDuration))
	if cfg.LockoutSweepInterval > 0 {
		go gov.Run(ctx, cfg.LockoutSweepInterval)
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithHasher(credential.NewHasher(credential.WithIterations(cfg.PBKDF2Iterations))),
		api.WithCodec(session.NewCodec(session.WithLifetime(cfg.SessionTTL))),
		api.WithGovernor(gov),
		proxies,
		api.WithAdminUsername(cfg.AdminUsername),
		api.WithRotateSecretOnPasswordChange(cfg.RotateSecretOnPasswordChange),
	}

	var patcher *execHotPatcher
	if cfg.HotpatchCommand != "" {
		if patcher, err = newExecHotPatcher(cfg.HotpatchCommand); err != nil {
			return nil, nil, err
		}
		opts = append(opts, api.WithHotPatcher(patcher))
	}
	opts = append(opts, api.WithStatusProber(&processProber{
		store:    store,
		started:  time.Now(),
		backend:  cfg.Store,
		hotPatch: patcher != nil,
	}))

	if cfg.AlertWebhookURL != "" {
		wh := api.NewAlertWebhook(cfg.AlertWebhookURL, cfg.AlertWebhookHeader, logger)
		opts = append(opts, api.WithAlertFunc(wh.Notify))
		cleanup = wh.Close
	}

	return api.New(store, opts...), cleanup, nil
}

// newRouter assembles the HTTP surface: the liveness probe, the gated API
// under /api and the gated pages everywhere else.
func newRouter(a *api.API, pages http.Handler, cfg config, logger *slog.Logger) http.Handler {
	proxies, _ := api.ParseTrustedProxies(cfg.TrustedProxies)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.SecurityHeaders(proxies))
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api", a.Router())
	r.Handle("/*", a.PageGate(pages))
	return r
}

// serverTLSConfig returns nil when the panel should serve plain HTTP, for
// example behind a TLS-terminating proxy.
func serverTLSConfig(cfg config, logger *slog.Logger) (*tls.Config, error) {
	switch {
	case cfg.TLSCert != "" && cfg.TLSKey != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	case cfg.TLSCert != "" || cfg.TLSKey != "":
		return nil, errors.New("tls-cert and tls-key must be set together")
	case cfg.SelfSignedTLS:
		cert, err := util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Info("using self-signed runtime generated certificate for TLS")
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	default:
		logger.Warn("serving plain HTTP; session cookies are only marked Secure behind a TLS proxy")
		return nil, nil
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	addServerFlags(serverCmd.Flags())
}
