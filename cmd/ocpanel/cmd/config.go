package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/lockout"
	"github.com/jmcleod/ocpanel/session"
	"github.com/jmcleod/ocpanel/storage"
	bboltstorage "github.com/jmcleod/ocpanel/storage/bbolt"
	filestorage "github.com/jmcleod/ocpanel/storage/file"
	"github.com/jmcleod/ocpanel/storage/memory"
	pgstorage "github.com/jmcleod/ocpanel/storage/postgres"
)

const envPrefix = "OCPANEL"

// config is the merged view of flags, environment and config file.
type config struct {
	ConfigFile  string `mapstructure:"config"`
	EnvFile     string `mapstructure:"env-file"`
	DataDir     string `mapstructure:"data-dir"`
	Store       string `mapstructure:"store"`
	PostgresDSN string `mapstructure:"postgres-dsn"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`

	Listen         string   `mapstructure:"listen"`
	TLSCert        string   `mapstructure:"tls-cert"`
	TLSKey         string   `mapstructure:"tls-key"`
	SelfSignedTLS  bool     `mapstructure:"self-signed-tls"`
	TrustedProxies []string `mapstructure:"trusted-proxies"`

	AdminUsername                string        `mapstructure:"admin-username"`
	SessionTTL                   time.Duration `mapstructure:"session-ttl"`
	LockoutThreshold             int           `mapstructure:"lockout-threshold"`
	LockoutDuration              time.Duration `mapstructure:"lockout-duration"`
	LockoutSweepInterval         time.Duration `mapstructure:"lockout-sweep-interval"`
	PBKDF2Iterations             int           `mapstructure:"pbkdf2-iterations"`
	RotateSecretOnPasswordChange bool          `mapstructure:"rotate-secret-on-password-change"`

	HotpatchCommand    string `mapstructure:"hotpatch-command"`
	AlertWebhookURL    string `mapstructure:"alert-webhook-url"`
	AlertWebhookHeader string `mapstructure:"alert-webhook-header"`
}

// addCommonFlags registers the flags every command that touches the auth
// state needs.
func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("env-file", "", "Path to a .env file loaded before reading OCPANEL_* variables")
	fs.String("data-dir", "./data", "Directory for persistent data")
	fs.String("store", "file", "Auth state backend: file, bbolt, postgres or memory")
	fs.String("postgres-dsn", "", "PostgreSQL connection string for the postgres store")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "json", "Log format: json or text")
}

func addServerFlags(fs *pflag.FlagSet) {
	fs.String("listen", "127.0.0.1:8443", "Address to listen on")
	fs.String("tls-cert", "", "Path to TLS certificate file")
	fs.String("tls-key", "", "Path to TLS key file")
	fs.Bool("self-signed-tls", true, "Serve TLS with a runtime generated certificate when no key pair is given")
	fs.StringSlice("trusted-proxies", nil, "CIDRs or addresses of reverse proxies whose forwarding headers are honored")
	fs.String("admin-username", "admin", "Name of the admin account created at setup")
	fs.Duration("session-ttl", session.DefaultLifetime, "Lifetime of a session token")
	fs.Int("lockout-threshold", lockout.DefaultThreshold, "Consecutive failed logins that lock a client out")
	fs.Duration("lockout-duration", lockout.DefaultLockDuration, "How long a lockout lasts")
	fs.Duration("lockout-sweep-interval", 5*time.Minute, "How often idle lockout records are discarded")
	fs.Int("pbkdf2-iterations", credential.DefaultIterations, "PBKDF2 iterations for new password hashes")
	fs.Bool("rotate-secret-on-password-change", true, "End every session when the password changes")
	fs.String("hotpatch-command", "", "Command run by POST /api/hotpatch")
	fs.String("alert-webhook-url", "", "URL that receives login failure and lockout alerts")
	fs.String("alert-webhook-header", "", "Authorization header value sent to the alert webhook")
}

// loadConfig merges, in increasing priority, the config file, the
// environment and explicitly set flags of cmd.
func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config{}, fmt.Errorf("binding flags: %w", err)
	}

	if envFile := v.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// openStore builds the auth state Store for the configured backend. The
// returned close function releases the backend.
func openStore(cfg config, logger *slog.Logger) (*storage.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "file", "":
		repo := filestorage.NewRepositoryInDir(cfg.DataDir)
		return storage.NewStore(repo, storage.WithLogger(logger)), noop, nil
	case "bbolt":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "auth.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open auth storage: %w", err)
		}
		return storage.NewStore(repo, storage.WithLogger(logger)), repo.Close, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("the postgres store needs postgres-dsn")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open auth storage: %w", err)
		}
		return storage.NewStore(repo, storage.WithLogger(logger)), repo.Close, nil
	case "memory":
		logger.Warn("using in-memory auth state; setup and sessions are lost on restart")
		return storage.NewStore(memory.NewRepository(), storage.WithLogger(logger)), noop, nil
	default:
		return nil, nil, errors.New("unknown store " + cfg.Store + ": want file, bbolt, postgres or memory")
	}
}
