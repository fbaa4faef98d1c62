package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reposyncd/internal/cleanup"
)

var (
	// cleanup-orphans command flags
	cleanupOwner      string
	cleanupDelete     bool
	cleanupOutputJSON bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVar(&cleanupOwner, "owner", "", "Sweep a single owner (default: all owners)")
	cleanupCmd.Flags().BoolVar(&cleanupDelete, "delete", false, "Actually delete orphans (default: dry run)")
	cleanupCmd.Flags().BoolVar(&cleanupOutputJSON, "json", false, "Output the summary as JSON")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-orphans",
	Short: "Sweep repositories on the host that no record claims",
	Long: `Find repositories on the remote host that no project record claims and,
with --delete, remove them. Without --delete the sweep only reports what
it would do.

Individual deletion failures are reported in the summary and do not
abort the sweep or fail the command; rerun to retry.

Examples:
  # Dry run over every owner
  reposyncd cleanup-orphans

  # Delete orphans for one owner
  reposyncd cleanup-orphans --owner alice --delete`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.cleanup.Run(cmd.Context(), cleanup.Options{
		Owner:  cleanupOwner,
		Delete: cleanupDelete,
	})
	if err != nil {
		return err
	}

	if cleanupOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	for _, line := range summary.Lines {
		fmt.Println(line)
	}
	if !cleanupDelete {
		fmt.Printf("dry run: %d orphan(s) across %d owner(s); rerun with --delete to remove them\n",
			summary.Orphans, summary.Owners)
		return nil
	}
	fmt.Printf("deleted %d of %d orphan(s) across %d owner(s)", summary.Succeeded, summary.Orphans, summary.Owners)
	if summary.Failed > 0 {
		fmt.Printf(", %d failed", summary.Failed)
	}
	fmt.Println()
	return nil
}
