package cleanup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reposyncd/internal/health"
	"github.com/fyrsmithlabs/reposyncd/internal/remediation"
)

// fakeChecker serves canned reports keyed by owner.
type fakeChecker struct {
	reports map[string]*health.Report
}

func (f *fakeChecker) Check(_ context.Context, owner string) (*health.Report, error) {
	if report, ok := f.reports[owner]; ok {
		return report, nil
	}
	return &health.Report{Owner: owner}, nil
}

func (f *fakeChecker) CheckAll(context.Context) ([]*health.Report, error) {
	var out []*health.Report
	for _, owner := range []string{"alice", "bob"} {
		if report, ok := f.reports[owner]; ok {
			out = append(out, report)
		}
	}
	return out, nil
}

// fakeRemediator records deletions and fails the configured names.
type fakeRemediator struct {
	remediation.Service
	deleted []string
	failOn  map[string]bool
}

func (f *fakeRemediator) DeleteOrphan(_ context.Context, owner, remoteName string) (*remediation.Result, error) {
	key := owner + "/" + remoteName
	if f.failOn[key] {
		return nil, errors.New("host returned status 500")
	}
	f.deleted = append(f.deleted, key)
	return &remediation.Result{Performed: true, Message: fmt.Sprintf("deleted %s", key)}, nil
}

func orphanReport(owner string, names ...string) *health.Report {
	report := &health.Report{Owner: owner}
	for _, name := range names {
		report.Issues = append(report.Issues, health.Issue{
			Kind:       health.KindOrphanedInRemote,
			Owner:      owner,
			RemoteName: name,
		})
		report.Stats.OrphanedInRemote++
	}
	return report
}

func newTestRunner(t *testing.T, checker health.Checker, remediator remediation.Service) Runner {
	t.Helper()
	r, err := NewRunner(checker, remediator, nil)
	require.NoError(t, err)
	return r
}

func TestRunDryRunByDefault(t *testing.T) {
	checker := &fakeChecker{reports: map[string]*health.Report{
		"alice": orphanReport("alice", "stray-a", "stray-b"),
	}}
	remediator := &fakeRemediator{}
	r := newTestRunner(t, checker, remediator)

	summary, err := r.Run(context.Background(), Options{Owner: "alice"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Orphans)
	assert.Zero(t, summary.Attempted)
	assert.Empty(t, remediator.deleted)
	require.Len(t, summary.Lines, 2)
	assert.Equal(t, "would delete alice/stray-a", summary.Lines[0])
}

func TestRunDeletesAndToleratesFailures(t *testing.T) {
	checker := &fakeChecker{reports: map[string]*health.Report{
		"alice": orphanReport("alice", "stray-a", "stray-b", "stray-c"),
	}}
	remediator := &fakeRemediator{failOn: map[string]bool{"alice/stray-b": true}}
	r := newTestRunner(t, checker, remediator)

	summary, err := r.Run(context.Background(), Options{Owner: "alice", Delete: true})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Orphans)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"alice/stray-a", "alice/stray-c"}, remediator.deleted)

	// One failure did not stop the sweep.
	assert.Contains(t, summary.Lines[1], "failed to delete alice/stray-b")
}

func TestRunSweepsAllOwners(t *testing.T) {
	checker := &fakeChecker{reports: map[string]*health.Report{
		"alice": orphanReport("alice", "stray"),
		"bob":   orphanReport("bob"),
	}}
	remediator := &fakeRemediator{}
	r := newTestRunner(t, checker, remediator)

	summary, err := r.Run(context.Background(), Options{Delete: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Owners)
	assert.Equal(t, 1, summary.Orphans)
	assert.Equal(t, []string{"alice/stray"}, remediator.deleted)
}

func TestRunSkipsDegradedOwners(t *testing.T) {
	degraded := &health.Report{Owner: "alice", Degraded: true}
	checker := &fakeChecker{reports: map[string]*health.Report{
		"alice": degraded,
		"bob":   orphanReport("bob", "stray"),
	}}
	remediator := &fakeRemediator{}
	r := newTestRunner(t, checker, remediator)

	summary, err := r.Run(context.Background(), Options{Delete: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, 1, summary.Orphans)
	assert.Equal(t, []string{"bob/stray"}, remediator.deleted)
	assert.Contains(t, summary.Lines[0], "remote listing unavailable")
}

// Non-orphan issues are reported by the health checker but are out of
// cleanup's scope.
func TestRunIgnoresNonOrphanIssues(t *testing.T) {
	report := &health.Report{Owner: "alice", Issues: []health.Issue{
		{Kind: health.KindMissingInRemote, Owner: "alice", Slug: "thesis"},
		{Kind: health.KindMissingLocalDirectory, Owner: "alice", Slug: "thesis"},
	}}
	checker := &fakeChecker{reports: map[string]*health.Report{"alice": report}}
	remediator := &fakeRemediator{}
	r := newTestRunner(t, checker, remediator)

	summary, err := r.Run(context.Background(), Options{Owner: "alice", Delete: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Orphans)
	assert.Empty(t, remediator.deleted)
}
