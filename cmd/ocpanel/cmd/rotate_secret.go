package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret",
	Short: "Replace the session signing secret",
	Long: `Generates a new session signing secret, which invalidates every
outstanding session token. The admin credential is kept. A running server
keeps its cached secret until it is restarted; the bbolt store refuses to
open while the server holds it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store == "memory" {
			return errors.New("rotate-secret needs a persistent store")
		}
		logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.RotateSecret(); err != nil {
			return fmt.Errorf("failed to rotate signing secret: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signing secret rotated; all sessions are invalidated.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateSecretCmd)
}
