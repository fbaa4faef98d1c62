// Package syncer orchestrates project lifecycle events against the
// remote Git host and the local workspace.
//
// The use-case layer that owns Project mutations calls the Synchronizer
// explicitly (OnProjectCreated, OnProjectDeleted, OnVisibilityChanged);
// nothing here hangs off ORM-style save hooks or ambient request state.
// Creation-path errors propagate so the caller can decide what to do
// with the half-created record; deletion and visibility failures are
// logged only, because the local mutation they respond to has already
// committed irreversibly.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/remote"
	"github.com/fyrsmithlabs/reposyncd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/reposyncd/internal/syncer"

// WorkingCopyManager is the slice of the clone manager the synchronizer
// needs.
type WorkingCopyManager interface {
	TargetDir(owner, slug string) string
	Clone(ctx context.Context, cloneURL, targetDir string) error
	Remove(targetDir string) error
}

// DeletedProject carries the identifiers of a project whose record has
// already been removed from the store by the time deletion sync runs.
type DeletedProject struct {
	Owner          string
	Slug           string
	RemoteName     string
	HadRemote      bool
	LocalClonePath string
}

// CloneError marks a creation whose remote side fully committed but
// whose follow-up working-copy clone failed. The record is consistent;
// only the local checkout is missing, and a later resync repairs it.
type CloneError struct {
	err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("working copy clone failed (remote repository is committed): %v", e.err)
}

func (e *CloneError) Unwrap() error {
	return e.err
}

// Synchronizer keeps the remote host and workspace in step with project
// lifecycle events.
type Synchronizer interface {
	// OnProjectCreated provisions the remote repository for a freshly
	// created record, adopting a pre-existing repository of the same
	// name when one exists. On success the record is remote-enabled and
	// persisted; the working-copy clone is a best-effort follow-up whose
	// failure is reported as a *CloneError. Idempotent, so it doubles as
	// the provisioning retry for records whose creation was deferred
	// while the host was unreachable.
	OnProjectCreated(ctx context.Context, rec *store.ProjectRecord) error

	// OnProjectDeleted deletes the remote repository and working copy a
	// removed record pointed at. Best effort: the local deletion has
	// already happened and cannot be reverted, so failures are logged
	// as requiring manual cleanup rather than returned.
	OnProjectDeleted(ctx context.Context, del DeletedProject)

	// OnVisibilityChanged pushes a visibility flip to the remote host.
	// Called after the record is persisted, with the value captured
	// immediately before the write. Unchanged visibility issues zero
	// remote calls. Failures are logged, not retried.
	OnVisibilityChanged(ctx context.Context, rec *store.ProjectRecord, previous store.Visibility)
}

// Config configures the synchronizer.
type Config struct {
	// DefaultBranch is the branch new remote repositories are
	// auto-initialized with.
	DefaultBranch string
}

// service implements Synchronizer.
type service struct {
	cfg    Config
	store  store.Store
	remote remote.Client
	clones WorkingCopyManager
	logger *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	createCounter   metric.Int64Counter
	deleteCounter   metric.Int64Counter
	rollbackCounter metric.Int64Counter
}

// NewService creates a Synchronizer.
func NewService(cfg Config, st store.Store, rc remote.Client, wc WorkingCopyManager, logger *zap.Logger) (Synchronizer, error) {
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
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}

	s := &service{
		cfg:    cfg,
		store:  st,
		remote: rc,
		clones: wc,
		logger: logger.Named("syncer"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.createCounter, err = s.meter.Int64Counter(
		"reposyncd.syncer.creations_total",
		metric.WithDescription("Total number of remote repository provisioning attempts"),
		metric.WithUnit("{creation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create creation counter", zap.Error(err))
	}

	s.deleteCounter, err = s.meter.Int64Counter(
		"reposyncd.syncer.deletions_total",
		metric.WithDescription("Total number of remote repository deletion attempts"),
		metric.WithUnit("{deletion}"),
	)
	if err != nil {
		s.logger.Warn("failed to create deletion counter", zap.Error(err))
	}

	s.rollbackCounter, err = s.meter.Int64Counter(
		"reposyncd.syncer.rollbacks_total",
		metric.WithDescription("Total number of compensating remote deletes"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create rollback counter", zap.Error(err))
	}
}

func (s *service) OnProjectCreated(ctx context.Context, rec *store.ProjectRecord) error {
	ctx, span := s.tracer.Start(ctx, "syncer.project_created")
	defer span.End()

	span.SetAttributes(
		attribute.String("owner", rec.OwnerID),
		attribute.String("slug", rec.Slug),
	)
	s.count(ctx, s.createCounter)

	// Step 1: an unreachable host is a recoverable degraded state. The
	// record stays remote_enabled=false, health checks report it as
	// missing on the host, and a provisioning retry picks it up once the
	// host is back.
	if err := s.remote.Ping(ctx); err != nil {
		s.logger.Warn("remote host unreachable, deferring repository provisioning",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Error(err),
		)
		return nil
	}

	// Step 2: adopt a pre-existing repository of the same name instead
	// of creating. Covers repos created out of band and lost races.
	existing, err := s.remote.GetRepository(ctx, rec.OwnerID, rec.Slug)
	switch {
	case err == nil:
		s.logger.Info("adopting pre-existing remote repository",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Int64("remote_id", existing.ID),
		)
		claimRemote(rec, existing)
		if err := s.store.Update(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("persist adopted repository: %w", err)
		}
		return nil
	case remote.IsConnectivity(err):
		s.logger.Warn("remote host became unreachable, deferring repository provisioning",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Error(err),
		)
		return nil
	case !remote.IsNotFound(err):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("check for existing repository: %w", err)
	}

	// Step 3: idempotent account provisioning.
	if err := s.remote.EnsureUser(ctx, rec.OwnerID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ensure remote user %q: %w", rec.OwnerID, err)
	}

	// Step 4: create. A Conflict here means the name was claimed between
	// steps 2 and 4 (or by another owner of the account) and surfaces to
	// the caller untouched.
	created, err := s.remote.CreateRepository(ctx, rec.OwnerID, remote.CreateOptions{
		Name:          rec.Slug,
		Description:   rec.Description,
		Private:       rec.Visibility == store.VisibilityPrivate,
		AutoInit:      true,
		DefaultBranch: s.cfg.DefaultBranch,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create remote repository: %w", err)
	}

	// Steps 5-6: persist the claim, or undo the remote creation. Remote
	// state must never outlive the record that was supposed to claim it.
	claimRemote(rec, created)
	if err := s.store.Update(ctx, rec); err != nil {
		s.count(ctx, s.rollbackCounter)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if delErr := s.remote.DeleteRepository(ctx, rec.OwnerID, created.Name); delErr != nil && !remote.IsNotFound(delErr) {
			s.logger.Error("unresolved inconsistency: persistence failed and compensating remote delete also failed",
				zap.String("owner", rec.OwnerID),
				zap.String("slug", rec.Slug),
				zap.Int64("remote_id", created.ID),
				zap.NamedError("persist_error", err),
				zap.NamedError("rollback_error", delErr),
			)
			return fmt.Errorf("persist remote claim: %w", errors.Join(err, delErr))
		}

		s.logger.Warn("rolled back remote repository after persistence failure",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Error(err),
		)
		return fmt.Errorf("persist remote claim (remote repository rolled back): %w", err)
	}

	s.logger.Info("provisioned remote repository",
		zap.String("owner", rec.OwnerID),
		zap.String("slug", rec.Slug),
		zap.Int64("remote_id", rec.RemoteRepoID),
	)

	// Step 7: best-effort working-copy clone. Failure does not undo the
	// committed remote claim.
	target := s.clones.TargetDir(rec.OwnerID, rec.Slug)
	if err := s.clones.Clone(ctx, rec.CloneURL, target); err != nil {
		s.logger.Warn("working copy clone failed after provisioning",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Error(err),
		)
		return &CloneError{err: err}
	}

	rec.LocalClonePath = target
	if err := s.store.Update(ctx, rec); err != nil {
		// The clone exists; the health check rediscovers it.
		s.logger.Warn("failed to persist working copy path",
			zap.String("owner", rec.OwnerID),
			zap.String("slug", rec.Slug),
			zap.Error(err),
		)
	}
	return nil
}

func (s *service) OnProjectDeleted(ctx context.Context, del DeletedProject) {
	ctx, span := s.tracer.Start(ctx, "syncer.project_deleted")
	defer span.End()

	span.SetAttributes(
		attribute.String("owner", del.Owner),
		attribute.String("slug", del.Slug),
	)
	s.count(ctx, s.deleteCounter)

	if del.LocalClonePath != "" {
		if err := s.clones.Remove(del.LocalClonePath); err != nil {
			s.logger.Warn("failed to remove working copy, manual cleanup required",
				zap.String("owner", del.Owner),
				zap.String("slug", del.Slug),
				zap.String("path", del.LocalClonePath),
				zap.Error(err),
			)
		}
	}

	if !del.HadRemote || del.RemoteName == "" {
		return
	}

	err := s.remote.DeleteRepository(ctx, del.Owner, del.RemoteName)
	switch {
	case err == nil:
		s.logger.Info("deleted remote repository for removed project",
			zap.String("owner", del.Owner),
			zap.String("remote_name", del.RemoteName),
		)
	case remote.IsNotFound(err):
		// Already gone; deletion is idempotent.
		s.logger.Debug("remote repository already absent",
			zap.String("owner", del.Owner),
			zap.String("remote_name", del.RemoteName),
		)
	default:
		span.RecordError(err)
		s.logger.Warn("failed to delete remote repository, manual cleanup required",
			zap.String("owner", del.Owner),
			zap.String("remote_name", del.RemoteName),
			zap.Error(err),
		)
	}
}

func (s *service) OnVisibilityChanged(ctx context.Context, rec *store.ProjectRecord, previous store.Visibility) {
	if rec.Visibility == previous {
		return
	}
	if !rec.RemoteEnabled || rec.RemoteRepoName == "" {
		return
	}

	ctx, span := s.tracer.Start(ctx, "syncer.visibility_changed")
	defer span.End()

	span.SetAttributes(
		attribute.String("owner", rec.OwnerID),
		attribute.String("slug", rec.Slug),
		attribute.String("visibility", string(rec.Visibility)),
	)

	private := rec.Visibility == store.VisibilityPrivate
	if err := s.remote.UpdateVisibility(ctx, rec.OwnerID, rec.RemoteRepoName, private); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to push visibility change to remote host",
			zap.String("owner", rec.OwnerID),
			zap.String("remote_name", rec.RemoteRepoName),
			zap.Bool("private", private),
			zap.Error(err),
		)
	}
}

// claimRemote copies a remote repository's identity onto the record.
func claimRemote(rec *store.ProjectRecord, repo *remote.Repository) {
	rec.RemoteRepoID = repo.ID
	rec.RemoteRepoName = repo.Name
	rec.CloneURL = repo.CloneURL
	rec.RemoteEnabled = true
}

func (s *service) count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
