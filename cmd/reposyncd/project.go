package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reposyncd/internal/store"
	"github.com/fyrsmithlabs/reposyncd/internal/syncer"
)

var (
	// project command flags
	projDescription string
	projPublic      bool
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectProvisionCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectVisibilityCmd)
	projectCmd.AddCommand(projectListCmd)

	projectCreateCmd.Flags().StringVar(&projDescription, "description", "", "Project description")
	projectCreateCmd.Flags().BoolVar(&projPublic, "public", false, "Create the project public (default: private)")
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage project records and their synchronized repositories",
	Long: `Manage project records. Every mutation is synchronized with the remote
host: creation provisions (or adopts) a repository and clones a working
copy, deletion removes both, and visibility changes are pushed through.

Examples:
  # Create a private project and its repository
  reposyncd project create alice thesis --description "PhD thesis"

  # Make it public on the host too
  reposyncd project set-visibility alice thesis public

  # Delete the record, the repository, and the working copy
  reposyncd project delete alice thesis`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <owner> <slug>",
	Short: "Create a project and provision its repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectCreate,
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	visibility := store.VisibilityPrivate
	if projPublic {
		visibility = store.VisibilityPublic
	}
	rec := &store.ProjectRecord{
		OwnerID:     args[0],
		Slug:        args[1],
		Visibility:  visibility,
		Description: projDescription,
	}
	if err := a.store.Create(cmd.Context(), rec); err != nil {
		return err
	}

	err = a.syncer.OnProjectCreated(cmd.Context(), rec)
	var cloneErr *syncer.CloneError
	switch {
	case errors.As(err, &cloneErr):
		// Record and repository are consistent; only the checkout failed.
		fmt.Printf("created project %s/%s (repository provisioned, clone failed: %v)\n", rec.OwnerID, rec.Slug, cloneErr.Unwrap())
		fmt.Printf("run `reposyncd resync %s %s` to retry the working copy\n", rec.OwnerID, rec.Slug)
		return nil
	case err != nil:
		return fmt.Errorf("project record created but repository provisioning failed: %w", err)
	}

	if !rec.RemoteEnabled {
		fmt.Printf("created project %s/%s; remote host unreachable, provisioning deferred\n", rec.OwnerID, rec.Slug)
		return nil
	}
	fmt.Printf("created project %s/%s (repository %s)\n", rec.OwnerID, rec.Slug, rec.CloneURL)
	return nil
}

var projectProvisionCmd = &cobra.Command{
	Use:   "provision <owner> <slug>",
	Short: "Retry repository provisioning for a pending project",
	Long: `Retry repository provisioning for a project whose creation was deferred
because the remote host was unreachable. Health checks report such
projects as missing on the host.

Provisioning adopts a pre-existing repository of the same name when one
exists, so retrying is always safe.`,
	Args: cobra.ExactArgs(2),
	RunE: runProjectProvision,
}

func runProjectProvision(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.Get(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if rec.RemoteEnabled {
		fmt.Printf("project %s/%s already has repository %s\n", rec.OwnerID, rec.Slug, rec.RemoteRepoName)
		return nil
	}

	err = a.syncer.OnProjectCreated(cmd.Context(), rec)
	var cloneErr *syncer.CloneError
	switch {
	case errors.As(err, &cloneErr):
		fmt.Printf("provisioned repository for %s/%s (clone failed: %v)\n", rec.OwnerID, rec.Slug, cloneErr.Unwrap())
		fmt.Printf("run `reposyncd resync %s %s` to retry the working copy\n", rec.OwnerID, rec.Slug)
		return nil
	case err != nil:
		return fmt.Errorf("provision repository for %s/%s: %w", rec.OwnerID, rec.Slug, err)
	}

	if !rec.RemoteEnabled {
		return fmt.Errorf("remote host is still unreachable, provisioning of %s/%s remains deferred", rec.OwnerID, rec.Slug)
	}
	fmt.Printf("provisioned repository for %s/%s (%s)\n", rec.OwnerID, rec.Slug, rec.CloneURL)
	return nil
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <owner> <slug>",
	Short: "Delete a project, its repository, and its working copy",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectDelete,
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.Get(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if err := a.store.Delete(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}

	a.syncer.OnProjectDeleted(cmd.Context(), syncer.DeletedProject{
		Owner:          rec.OwnerID,
		Slug:           rec.Slug,
		RemoteName:     rec.RemoteRepoName,
		HadRemote:      rec.RemoteEnabled,
		LocalClonePath: rec.LocalClonePath,
	})
	fmt.Printf("deleted project %s/%s\n", args[0], args[1])
	return nil
}

var projectVisibilityCmd = &cobra.Command{
	Use:   "set-visibility <owner> <slug> <public|private>",
	Short: "Change a project's visibility and push it to the host",
	Args:  cobra.ExactArgs(3),
	RunE:  runProjectVisibility,
}

func runProjectVisibility(cmd *cobra.Command, args []string) error {
	visibility := store.Visibility(args[2])
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q, want public or private", args[2])
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.Get(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	previous := rec.Visibility
	if previous == visibility {
		fmt.Printf("project %s/%s is already %s\n", args[0], args[1], visibility)
		return nil
	}

	rec.Visibility = visibility
	if err := a.store.Update(cmd.Context(), rec); err != nil {
		return err
	}
	a.syncer.OnVisibilityChanged(cmd.Context(), rec, previous)

	fmt.Printf("project %s/%s is now %s\n", args[0], args[1], visibility)
	return nil
}

var projectListCmd = &cobra.Command{
	Use:   "list <owner>",
	Short: "List an owner's projects",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectList,
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.store.ListByOwner(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tVISIBILITY\tREMOTE\tWORKING COPY")
	for _, rec := range recs {
		remoteState := "pending"
		if rec.RemoteEnabled {
			remoteState = rec.RemoteRepoName
		}
		local := rec.LocalClonePath
		if local == "" {
			local = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Slug, rec.Visibility, remoteState, local)
	}
	return w.Flush()
}
