package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tabtime",
	Short: "tabtime - per-site browsing time tracker with pomodoro and daily limits",
	Long: `tabtime records how long each site is the active tab per local calendar day.
It runs as a small daemon fed by browser events over a local JSON API, raises
signals when a pomodoro cycle completes or a site exceeds its daily limit, and
keeps its data in a bolt file, SQLite database or Redis.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags. Empty means /etc/tabtime/tabtime.yaml or ./tabtime.yaml.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
