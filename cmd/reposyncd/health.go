package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reposyncd/internal/health"
)

var (
	// health command flags
	healthOwner      string
	healthOutputJSON bool
)

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthOwner, "owner", "", "Check a single owner (default: all owners)")
	healthCmd.Flags().BoolVar(&healthOutputJSON, "json", false, "Output reports as JSON")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Reconcile records against the remote host and workspace",
	Long: `Compare project records with the repositories on the remote host and
the working copies on disk, and report every inconsistency found.

The check never mutates anything; use cleanup-orphans, resync, and
restore to repair what it reports.

Examples:
  # Check every owner
  reposyncd health

  # Check one owner
  reposyncd health --owner alice

  # Machine-readable output
  reposyncd health --owner alice --json`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var reports []*health.Report
	if healthOwner != "" {
		report, err := a.health.Check(ctx, healthOwner)
		if err != nil {
			return err
		}
		reports = []*health.Report{report}
	} else {
		if reports, err = a.health.CheckAll(ctx); err != nil {
			return err
		}
	}

	if healthOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	printReports(reports)
	return nil
}

func printReports(reports []*health.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tPROJECTS\tREMOTES\tHEALTHY\tCRITICAL\tWARNING\tSTATE")
	for _, report := range reports {
		state := "ok"
		switch {
		case report.Degraded:
			state = "degraded"
		case len(report.Issues) > 0:
			state = "issues"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			report.Owner, report.Stats.Projects, report.Stats.Remotes, report.Stats.Healthy,
			report.Stats.Critical, report.Stats.Warning, state)
	}
	w.Flush()

	for _, report := range reports {
		for _, issue := range report.Issues {
			name := issue.Slug
			if name == "" {
				name = issue.RemoteName
			}
			fmt.Printf("  %s/%s: %s (%s)\n", issue.Owner, name, issue.Kind, issue.Detail)
		}
	}
}
