// Package remediation repairs the inconsistencies the health checker
// finds. Every action is explicit and single-shot; nothing here runs on
// a timer or retries on its own.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/remote"
	"github.com/fyrsmithlabs/reposyncd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/reposyncd/internal/remediation"

// WorkingCopyManager is the slice of the clone manager remediation
// needs.
type WorkingCopyManager interface {
	TargetDir(owner, slug string) string
	Clone(ctx context.Context, cloneURL, targetDir string) error
	Verify(dir string) bool
}

// Result reports what a remediation action did.
type Result struct {
	// Performed is false when the action found nothing left to do, for
	// example deleting an orphan that was already gone.
	Performed bool `json:"performed"`

	Message string `json:"message"`
}

// Service repairs reconciliation findings.
type Service interface {
	// DeleteOrphan removes a repository from the host that no record
	// claims. Refuses to touch a repository a record does claim. A
	// repository that is already gone counts as success.
	DeleteOrphan(ctx context.Context, owner, remoteName string) (*Result, error)

	// RestoreOrphan adopts an orphaned repository by creating a record
	// for it. projectName defaults to the repository name; its slug must
	// be free under the owner. The host is never mutated.
	RestoreOrphan(ctx context.Context, owner, remoteName, projectName string) (*store.ProjectRecord, error)

	// ResyncLocal re-clones a project's working copy when it is unset,
	// missing, or unusable. A valid working copy is left untouched.
	ResyncLocal(ctx context.Context, owner, slug string) (*Result, error)
}

// Slugify derives a record slug from a human project name: lowercased,
// non-alphanumeric runs collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// service implements Service.
type service struct {
	store  store.Store
	remote remote.Client
	clones WorkingCopyManager
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	actionCounter metric.Int64Counter
}

// NewService creates a remediation Service.
func NewService(st store.Store, rc remote.Client, wc WorkingCopyManager, logger *zap.Logger) (Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if rc == nil {
		return nil, errors.New("remote client is required")
	}
	if wc == nil {
		return nil, errors.New("working copy manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:  st,
		remote: rc,
		clones: wc,
		logger: logger.Named("remediation"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	s.actionCounter, err = s.meter.Int64Counter(
		"reposyncd.remediation.actions_total",
		metric.WithDescription("Total number of remediation actions executed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create action counter", zap.Error(err))
	}
	return s, nil
}

func (s *service) DeleteOrphan(ctx context.Context, owner, remoteName string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.delete_orphan")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner", owner),
		attribute.String("remote_name", remoteName),
	)
	s.count(ctx, "delete_orphan")

	claimed, err := s.claimedBy(ctx, owner, remoteName)
	if err != nil {
		return nil, err
	}
	if claimed != "" {
		return nil, fmt.Errorf("repository %s/%s is claimed by project %q, refusing to delete", owner, remoteName, claimed)
	}

	err = s.remote.DeleteRepository(ctx, owner, remoteName)
	switch {
	case err == nil:
		s.logger.Info("deleted orphaned repository",
			zap.String("owner", owner),
			zap.String("remote_name", remoteName),
		)
		return &Result{Performed: true, Message: fmt.Sprintf("deleted %s/%s", owner, remoteName)}, nil
	case remote.IsNotFound(err):
		return &Result{Performed: false, Message: fmt.Sprintf("%s/%s already absent", owner, remoteName)}, nil
	default:
		return nil, fmt.Errorf("delete orphaned repository %s/%s: %w", owner, remoteName, err)
	}
}

func (s *service) RestoreOrphan(ctx context.Context, owner, remoteName, projectName string) (*store.ProjectRecord, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.restore_orphan")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner", owner),
		attribute.String("remote_name", remoteName),
	)
	s.count(ctx, "restore_orphan")

	if projectName == "" {
		projectName = remoteName
	}
	slug := Slugify(projectName)
	if slug == "" {
		return nil, fmt.Errorf("project name %q does not yield a usable slug", projectName)
	}

	repo, err := s.remote.GetRepository(ctx, owner, remoteName)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, fmt.Errorf("repository %s/%s does not exist on the host: %w", owner, remoteName, err)
		}
		return nil, fmt.Errorf("fetch repository %s/%s: %w", owner, remoteName, err)
	}

	if _, err := s.store.Get(ctx, owner, slug); err == nil {
		return nil, fmt.Errorf("%w: slug %q already in use under %q", store.ErrConflict, slug, owner)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check slug %q: %w", slug, err)
	}

	visibility := store.VisibilityPublic
	if repo.Private {
		visibility = store.VisibilityPrivate
	}
	rec := &store.ProjectRecord{
		OwnerID:        owner,
		Slug:           slug,
		Visibility:     visibility,
		Description:    repo.Description,
		RemoteRepoID:   repo.ID,
		RemoteRepoName: repo.Name,
		RemoteEnabled:  true,
		CloneURL:       repo.CloneURL,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record for %s/%s: %w", owner, remoteName, err)
	}

	s.logger.Info("restored orphaned repository",
		zap.String("owner", owner),
		zap.String("remote_name", remoteName),
		zap.String("slug", slug),
	)

	// Best effort: the record is already consistent with the host, the
	// checkout can be re-run via resync.
	target := s.clones.TargetDir(owner, slug)
	if err := s.clones.Clone(ctx, repo.CloneURL, target); err != nil {
		s.logger.Warn("working copy clone failed after restore",
			zap.String("owner", owner),
			zap.String("slug", slug),
			zap.Error(err),
		)
		return rec, nil
	}
	rec.LocalClonePath = target
	if err := s.store.Update(ctx, rec); err != nil {
		s.logger.Warn("failed to persist working copy path after restore",
			zap.String("owner", owner),
			zap.String("slug", slug),
			zap.Error(err),
		)
	}
	return rec, nil
}

func (s *service) ResyncLocal(ctx context.Context, owner, slug string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.resync_local")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner", owner),
		attribute.String("slug", slug),
	)
	s.count(ctx, "resync_local")

	rec, err := s.store.Get(ctx, owner, slug)
	if err != nil {
		return nil, err
	}
	if !rec.RemoteEnabled {
		return nil, fmt.Errorf("project %s/%s has no remote repository to clone from; retry provisioning first", owner, slug)
	}

	if rec.LocalClonePath != "" && s.clones.Verify(rec.LocalClonePath) {
		return &Result{Performed: false, Message: fmt.Sprintf("working copy for %s/%s is already valid", owner, slug)}, nil
	}

	repo, err := s.remote.GetRepository(ctx, owner, rec.RemoteRepoName)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, fmt.Errorf("repository %s/%s is gone from the host; run a health check to reconcile the record: %w",
				owner, rec.RemoteRepoName, err)
		}
		return nil, fmt.Errorf("fetch repository %s/%s: %w", owner, rec.RemoteRepoName, err)
	}

	target := rec.LocalClonePath
	if target == "" {
		target = s.clones.TargetDir(owner, slug)
	}
	if err := s.clones.Clone(ctx, repo.CloneURL, target); err != nil {
		return nil, fmt.Errorf("clone %s/%s: %w", owner, slug, err)
	}

	rec.LocalClonePath = target
	rec.CloneURL = repo.CloneURL
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist working copy path: %w", err)
	}

	s.logger.Info("resynced working copy",
		zap.String("owner", owner),
		zap.String("slug", slug),
		zap.String("target", target),
	)
	return &Result{Performed: true, Message: fmt.Sprintf("cloned %s/%s into %s", owner, slug, target)}, nil
}

// claimedBy returns the slug of the record claiming remoteName under
// owner, or "" when unclaimed. A pending record claims the repository
// matching its slug, since that is the one a provisioning retry adopts.
func (s *service) claimedBy(ctx context.Context, owner, remoteName string) (string, error) {
	recs, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("list projects for %q: %w", owner, err)
	}
	for _, rec := range recs {
		if rec.RemoteEnabled && rec.RemoteRepoName == remoteName {
			return rec.Slug, nil
		}
		if !rec.RemoteEnabled && rec.Slug == remoteName {
			return rec.Slug, nil
		}
	}
	return "", nil
}

func (s *service) count(ctx context.Context, action string) {
	if s.actionCounter != nil {
		s.actionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}
