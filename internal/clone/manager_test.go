package clone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reposyncd/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.WorkspaceConfig{
		Root:         t.TempDir(),
		CloneTimeout: config.Duration(30 * time.Second),
	}, nil)
	require.NoError(t, err)
	return m
}

// fakeCloneRunner pretends to be git clone: it initializes a repository
// in the destination directory (the last argument) and drops a marker
// file with the given content.
func fakeCloneRunner(t *testing.T, marker string) CommandRunner {
	t.Helper()
	return func(_ context.Context, _ string, args ...string) ([]byte, error) {
		dest := args[len(args)-1]
		_, err := git.PlainInit(dest, false)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dest, "README.md"), []byte(marker), 0o644))
		return nil, nil
	}
}

func TestCloneCreatesWorkingCopy(t *testing.T) {
	m := newTestManager(t)
	m.run = fakeCloneRunner(t, "v1")

	target := m.TargetDir("alice", "thesis")
	require.NoError(t, m.Clone(context.Background(), "https://git.example.org/alice/thesis.git", target))

	content, err := os.ReadFile(filepath.Join(target, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
	assert.True(t, m.Verify(target))

	// No staging leftovers next to the target.
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "thesis", entries[0].Name())
}

func TestCloneReplacesExistingCopyAtomically(t *testing.T) {
	m := newTestManager(t)
	target := m.TargetDir("alice", "thesis")

	m.run = fakeCloneRunner(t, "v1")
	require.NoError(t, m.Clone(context.Background(), "url", target))
	require.NoError(t, os.WriteFile(filepath.Join(target, "stale.txt"), []byte("old"), 0o644))

	m.run = fakeCloneRunner(t, "v2")
	require.NoError(t, m.Clone(context.Background(), "url", target))

	content, err := os.ReadFile(filepath.Join(target, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	// The previous copy was displaced wholesale, not merged.
	_, err = os.Stat(filepath.Join(target, "stale.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCloneFailureCleansStaging(t *testing.T) {
	m := newTestManager(t)
	bootErr := errors.New("exit status 128")
	m.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("fatal: repository not found"), bootErr
	}

	target := m.TargetDir("alice", "thesis")
	err := m.Clone(context.Background(), "https://git.example.org/alice/thesis.git", target)
	require.Error(t, err)

	var gitErr *GitError
	require.ErrorAs(t, err, &gitErr)
	assert.Contains(t, gitErr.Error(), "repository not found")
	assert.ErrorIs(t, err, bootErr)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloneTimeout(t *testing.T) {
	m := newTestManager(t)
	m.timeout = 10 * time.Millisecond
	m.run = func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := m.Clone(context.Background(), "url", m.TargetDir("alice", "thesis"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPathsOutsideRootRejected(t *testing.T) {
	m := newTestManager(t)

	err := m.Clone(context.Background(), "url", "/tmp/elsewhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace root")

	err = m.Remove(filepath.Join(m.root, "..", "escape"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace root")
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	m.run = fakeCloneRunner(t, "v1")

	target := m.TargetDir("alice", "thesis")
	require.NoError(t, m.Clone(context.Background(), "url", target))
	require.NoError(t, m.Remove(target))

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-absent copy is not an error.
	require.NoError(t, m.Remove(target))
}

func TestVerify(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.Verify(""))
	assert.False(t, m.Verify(filepath.Join(m.root, "missing")))

	// A plain directory is not a working copy.
	plain := filepath.Join(m.root, "plain")
	require.NoError(t, os.MkdirAll(plain, 0o755))
	assert.False(t, m.Verify(plain))

	repo := filepath.Join(m.root, "repo")
	_, err := git.PlainInit(repo, false)
	require.NoError(t, err)
	assert.True(t, m.Verify(repo))
}
