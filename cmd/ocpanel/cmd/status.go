package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type statusOutput struct {
	SetupRequired bool   `json:"setupRequired"`
	Username      string `json:"username,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
	Store         string `json:"store"`
	DataDir       string `json:"dataDir,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether first-run setup has been completed",
	Long: `Reads the auth state offline and prints whether an admin credential
exists. Neither the password hash nor the signing secret is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
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

		rec, err := store.Credential()
		if err != nil {
			return fmt.Errorf("failed to read auth state: %w", err)
		}
		out := statusOutput{SetupRequired: rec == nil, Store: cfg.Store}
		if cfg.Store != "memory" {
			out.DataDir = cfg.DataDir
		}
		if rec != nil {
			out.Username = rec.Username
			out.UpdatedAt = rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
