// Package health reconciles project records against the remote host and
// the local workspace without mutating either.
//
// The comparison itself is a pure function over two snapshots plus a
// working-copy probe, so the reconciliation rules are testable without a
// host or a filesystem. The Checker wraps it with the live lookups.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/remote"
	"github.com/fyrsmithlabs/reposyncd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/reposyncd/internal/health"

// IssueKind classifies a reconciliation finding.
type IssueKind string

const (
	// KindMissingInRemote means a record has no repository on the host:
	// either its repository disappeared, or provisioning was deferred
	// and never retried.
	KindMissingInRemote IssueKind = "missing_in_remote"

	// KindOrphanedInRemote means the host has a repository no record
	// claims.
	KindOrphanedInRemote IssueKind = "orphaned_in_remote"

	// KindMissingLocalDirectory means a record has no usable working
	// copy on disk.
	KindMissingLocalDirectory IssueKind = "missing_local_directory"
)

// Issue is one reconciliation finding.
type Issue struct {
	Kind  IssueKind `json:"kind"`
	Owner string    `json:"owner"`

	// Slug is the local project slug; empty for orphaned repositories,
	// which by definition have no record.
	Slug string `json:"slug,omitempty"`

	// RemoteName is the repository name on the host.
	RemoteName string `json:"remote_name,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// Stats summarizes one owner's reconciliation. Projects and Remotes are
// the raw totals on each side; Critical rolls up the record/repository
// mismatches, Warning the repairable local-directory findings.
type Stats struct {
	Projects              int `json:"projects"`
	Remotes               int `json:"remotes"`
	Healthy               int `json:"healthy"`
	MissingInRemote       int `json:"missing_in_remote"`
	OrphanedInRemote      int `json:"orphaned_in_remote"`
	MissingLocalDirectory int `json:"missing_local_directory"`
	Critical              int `json:"critical_count"`
	Warning               int `json:"warning_count"`
}

// Report is the outcome of checking one owner.
type Report struct {
	Owner string `json:"owner"`

	// Degraded is set when the remote listing failed and the remote
	// half of the comparison was skipped. Local findings are still
	// reported.
	Degraded bool `json:"degraded,omitempty"`

	Issues []Issue `json:"issues"`
	Stats  Stats   `json:"stats"`
}

// WorkingCopyVerifier probes whether a directory holds a usable working
// copy. Implemented by the clone manager.
type WorkingCopyVerifier interface {
	Verify(dir string) bool
}

// Classify compares one owner's records against the host's repositories
// and the working-copy probe. Pure: it never talks to the host, the
// store, or the filesystem beyond the probe it is handed. Issues come
// back sorted by kind, then name.
//
// Every record is classified, into exactly one state. A record that has
// not claimed a repository yet (provisioning was deferred during a host
// outage) is missing_in_remote like any other record the host lacks;
// reporting it healthy would hide the record that most needs repair.
func Classify(owner string, local []*store.ProjectRecord, remoteRepos []*remote.Repository, verify func(dir string) bool) Report {
	report := Report{Owner: owner, Stats: Stats{Projects: len(local), Remotes: len(remoteRepos)}}

	claimed := make(map[string]bool, len(local))
	for _, rec := range local {
		name := recordRemoteName(rec)
		claimed[name] = true

		switch {
		case remoteRepos != nil && !containsRepo(remoteRepos, name):
			report.Stats.MissingInRemote++
			detail := "record claims a repository the host does not have"
			if !rec.RemoteEnabled {
				detail = "provisioning is pending, no repository on the host yet"
			}
			report.Issues = append(report.Issues, Issue{
				Kind:       KindMissingInRemote,
				Owner:      owner,
				Slug:       rec.Slug,
				RemoteName: name,
				Detail:     detail,
			})
		case verify != nil && !verify(rec.LocalClonePath):
			report.Stats.MissingLocalDirectory++
			report.Issues = append(report.Issues, Issue{
				Kind:       KindMissingLocalDirectory,
				Owner:      owner,
				Slug:       rec.Slug,
				RemoteName: name,
				Detail:     "no usable working copy on disk",
			})
		default:
			report.Stats.Healthy++
		}
	}

	for _, repo := range remoteRepos {
		if !claimed[repo.Name] {
			report.Stats.OrphanedInRemote++
			report.Issues = append(report.Issues, Issue{
				Kind:       KindOrphanedInRemote,
				Owner:      owner,
				RemoteName: repo.Name,
				Detail:     "repository on the host has no matching record",
			})
		}
	}

	report.Stats.Critical = report.Stats.MissingInRemote + report.Stats.OrphanedInRemote
	report.Stats.Warning = report.Stats.MissingLocalDirectory

	sort.Slice(report.Issues, func(i, j int) bool {
		a, b := report.Issues[i], report.Issues[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Slug != b.Slug {
			return a.Slug < b.Slug
		}
		return a.RemoteName < b.RemoteName
	})
	return report
}

// recordRemoteName is the host-side name a record answers for: the
// claimed repository name once provisioned, the slug it will claim
// until then.
func recordRemoteName(rec *store.ProjectRecord) string {
	if rec.RemoteEnabled && rec.RemoteRepoName != "" {
		return rec.RemoteRepoName
	}
	return rec.Slug
}

func containsRepo(repos []*remote.Repository, name string) bool {
	for _, repo := range repos {
		if repo.Name == name {
			return true
		}
	}
	return false
}

// Checker runs reconciliation checks against the live store, host, and
// workspace.
type Checker interface {
	// Check reconciles a single owner.
	Check(ctx context.Context, owner string) (*Report, error)

	// CheckAll reconciles every owner known to the store, in owner
	// order. A degraded owner does not stop the sweep.
	CheckAll(ctx context.Context) ([]*Report, error)
}

// service implements Checker.
type service struct {
	store  store.Store
	remote remote.Client
	verify WorkingCopyVerifier
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	checkCounter metric.Int64Counter
	issueCounter metric.Int64Counter
}

// NewService creates a Checker.
func NewService(st store.Store, rc remote.Client, verify WorkingCopyVerifier, logger *zap.Logger) (Checker, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if rc == nil {
		return nil, errors.New("remote client is required")
	}
	if verify == nil {
		return nil, errors.New("working copy verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:  st,
		remote: rc,
		verify: verify,
		logger: logger.Named("health"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.checkCounter, err = s.meter.Int64Counter(
		"reposyncd.health.checks_total",
		metric.WithDescription("Total number of owner reconciliation checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		s.logger.Warn("failed to create check counter", zap.Error(err))
	}

	s.issueCounter, err = s.meter.Int64Counter(
		"reposyncd.health.issues_total",
		metric.WithDescription("Total number of reconciliation issues found"),
		metric.WithUnit("{issue}"),
	)
	if err != nil {
		s.logger.Warn("failed to create issue counter", zap.Error(err))
	}
}

func (s *service) Check(ctx context.Context, owner string) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "health.check")
	defer span.End()
	span.SetAttributes(attribute.String("owner", owner))

	if s.checkCounter != nil {
		s.checkCounter.Add(ctx, 1)
	}

	local, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list projects for %q: %w", owner, err)
	}

	remoteRepos, degraded, err := s.listRemote(ctx, owner)
	if err != nil {
		return nil, err
	}

	report := Classify(owner, local, remoteRepos, s.verify.Verify)
	report.Degraded = degraded

	if s.issueCounter != nil && len(report.Issues) > 0 {
		s.issueCounter.Add(ctx, int64(len(report.Issues)))
	}
	if len(report.Issues) > 0 || degraded {
		s.logger.Info("reconciliation found issues",
			zap.String("owner", owner),
			zap.Int("issues", len(report.Issues)),
			zap.Bool("degraded", degraded),
		)
	}
	return &report, nil
}

// listRemote fetches the owner's repositories. An owner unknown to the
// host simply has no repositories; a connectivity or host failure
// degrades the check instead of failing it, since local findings are
// still worth reporting.
func (s *service) listRemote(ctx context.Context, owner string) ([]*remote.Repository, bool, error) {
	repos, err := s.remote.ListRepositories(ctx, owner)
	switch {
	case err == nil:
		if repos == nil {
			repos = []*remote.Repository{}
		}
		return repos, false, nil
	case remote.IsNotFound(err):
		return []*remote.Repository{}, false, nil
	default:
		s.logger.Warn("remote listing failed, reporting degraded check",
			zap.String("owner", owner),
			zap.Error(err),
		)
		return nil, true, nil
	}
}

func (s *service) CheckAll(ctx context.Context) ([]*Report, error) {
	ctx, span := s.tracer.Start(ctx, "health.check_all")
	defer span.End()

	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	reports := make([]*Report, 0, len(owners))
	for _, owner := range owners {
		report, err := s.Check(ctx, owner)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
