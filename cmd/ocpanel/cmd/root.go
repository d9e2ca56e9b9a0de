package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ocpanel",
	Short: "ocpanel is the admin control panel for the gateway",
	Long: `The admin control panel serves the dashboard and its API behind a single
admin login. Every flag may also be set through an OCPANEL_* environment
variable or a YAML file passed with --config.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	addCommonFlags(rootCmd.PersistentFlags())
}
