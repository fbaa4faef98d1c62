// Package clone manages local working-copy directories.
//
// Clones run through the git binary into a private staging directory and
// are moved into their final location with a rename, so a working copy
// is never observable in a half-cloned state and two writers can never
// interleave inside the final path.
package clone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/config"
)

// CommandRunner executes one git invocation and returns its combined
// output. Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// GitError carries diagnostics from a failed git subprocess.
type GitError struct {
	// Args are the git arguments that failed.
	Args []string

	// Output is the subprocess's combined stdout/stderr.
	Output string

	err error
}

func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.err, out)
}

func (e *GitError) Unwrap() error {
	return e.err
}

// Manager stages, verifies, and removes working copies under a single
// workspace root.
type Manager struct {
	root    string
	gitPath string
	timeout time.Duration
	run     CommandRunner
	logger  *zap.Logger
}

// NewManager creates a Manager for the configured workspace.
func NewManager(cfg config.WorkspaceConfig, logger *zap.Logger) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.New("workspace root is required")
	}
	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("workspace root must be absolute, got %q", cfg.Root)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		// Resolution is retried by the OS at invocation time; a missing
		// binary then surfaces as a GitError from Clone.
		gitPath = "git"
	}

	return &Manager{
		root:    filepath.Clean(cfg.Root),
		gitPath: gitPath,
		timeout: cfg.CloneTimeout.Duration(),
		run:     defaultRunner,
		logger:  logger.Named("clone"),
	}, nil
}

// TargetDir returns the working-copy directory for an owner and slug.
func (m *Manager) TargetDir(owner, slug string) string {
	return filepath.Join(m.root, owner, slug)
}

// Clone clones cloneURL into targetDir. The clone lands in a staging
// directory next to the target and is renamed into place only once the
// subprocess has finished; a pre-existing target is swapped out and
// removed. The subprocess is bounded by the configured timeout and a
// timed-out clone is reported failed, never retried here.
func (m *Manager) Clone(ctx context.Context, cloneURL, targetDir string) error {
	target, err := m.withinRoot(targetDir)
	if err != nil {
		return err
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}

	staging, err := os.MkdirTemp(parent, ".reposyncd-stage-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	cloneCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := []string{"clone", cloneURL, staging}
	output, err := m.run(cloneCtx, m.gitPath, args...)
	if err != nil {
		if errors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
			return &GitError{Args: args, Output: string(output),
				err: fmt.Errorf("timed out after %s: %w", m.timeout, err)}
		}
		return &GitError{Args: args, Output: string(output), err: err}
	}

	if err := m.swapIntoPlace(staging, target); err != nil {
		return err
	}

	m.logger.Info("cloned working copy",
		zap.String("url", cloneURL),
		zap.String("target", target),
	)
	return nil
}

// swapIntoPlace renames staging onto target, displacing any previous
// working copy first so the final path flips in a single rename.
func (m *Manager) swapIntoPlace(staging, target string) error {
	displaced := ""
	if _, err := os.Stat(target); err == nil {
		displaced = staging + ".replaced"
		if err := os.Rename(target, displaced); err != nil {
			return fmt.Errorf("displace previous working copy: %w", err)
		}
	}

	if err := os.Rename(staging, target); err != nil {
		if displaced != "" {
			if restoreErr := os.Rename(displaced, target); restoreErr != nil {
				return fmt.Errorf("install working copy: %w (restore failed: %v)", err, restoreErr)
			}
		}
		return fmt.Errorf("install working copy: %w", err)
	}

	if displaced != "" {
		if err := os.RemoveAll(displaced); err != nil {
			m.logger.Warn("failed to remove displaced working copy",
				zap.String("path", displaced),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Remove deletes a working-copy directory. Missing directories are not
// an error.
func (m *Manager) Remove(targetDir string) error {
	target, err := m.withinRoot(targetDir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove working copy: %w", err)
	}
	return nil
}

// Verify reports whether dir holds a usable git working copy. A
// directory that exists but is not a repository does not count.
func (m *Manager) Verify(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := git.PlainOpen(dir)
	return err == nil
}

// withinRoot resolves dir and rejects paths escaping the workspace root.
func (m *Manager) withinRoot(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("target directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve target directory: %w", err)
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("target directory %q is outside workspace root %q", dir, m.root)
	}
	return abs, nil
}
