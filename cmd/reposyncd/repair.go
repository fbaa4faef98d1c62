package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(restoreCmd)
}

var resyncCmd = &cobra.Command{
	Use:   "resync <owner> <slug>",
	Short: "Re-clone a project's working copy",
	Long: `Re-clone the working copy of a project whose local directory is unset,
missing, or unusable. A valid working copy is left alone.

Examples:
  reposyncd resync alice thesis`,
	Args: cobra.ExactArgs(2),
	RunE: runResync,
}

func runResync(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.remediation.ResyncLocal(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	return nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore <owner> <remote-name> [project-name]",
	Short: "Adopt an orphaned repository as a new project record",
	Long: `Create a project record for a repository that exists on the remote host
but has no record, and clone its working copy. The repository itself is
never modified.

The project name defaults to the repository name; its slug must be free
under the owner.

Examples:
  reposyncd restore alice legacy-data
  reposyncd restore alice legacy-data "Legacy Data"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	projectName := ""
	if len(args) == 3 {
		projectName = args[2]
	}

	rec, err := a.remediation.RestoreOrphan(cmd.Context(), args[0], args[1], projectName)
	if err != nil {
		return err
	}
	fmt.Printf("restored %s/%s as project %q", rec.OwnerID, rec.RemoteRepoName, rec.Slug)
	if rec.LocalClonePath != "" {
		fmt.Printf(" (working copy at %s)", rec.LocalClonePath)
	}
	fmt.Println()
	return nil
}
