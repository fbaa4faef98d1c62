// Package main implements the reposyncd CLI for operating the
// repository synchronization engine: health checks, orphan cleanup,
// and working-copy repair.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; environment variables override it.
	configPath string
	// logLevel and logFormat override the configured logging settings.
	logLevel  string
	logFormat string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reposyncd",
	Short: "Repository synchronization engine operations",
	Long: `reposyncd keeps project records, their repositories on the remote Git
host, and their local working copies consistent with each other.

It provides commands for reconciliation health checks, batch cleanup of
orphaned repositories, and repairing individual projects.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: environment only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (json, console)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the reposyncd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
