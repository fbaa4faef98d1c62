// Package cleanup sweeps orphaned remote repositories in batch. It is
// built for operator invocation: dry-run by default, tolerant of
// individual failures, and reporting a summary instead of aborting.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/health"
	"github.com/fyrsmithlabs/reposyncd/internal/remediation"
)

const instrumentationName = "github.com/fyrsmithlabs/reposyncd/internal/cleanup"

// Options configures one cleanup run.
type Options struct {
	// Owner restricts the sweep to one owner; empty sweeps every owner
	// known to the store.
	Owner string

	// Delete actually deletes the orphans found. False is a dry run
	// that only reports.
	Delete bool
}

// Summary is the outcome of a cleanup run. Failed counts individual
// orphans that could not be deleted; the run itself still succeeds.
type Summary struct {
	Owners    int      `json:"owners"`
	Orphans   int      `json:"orphans"`
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Degraded  int      `json:"degraded,omitempty"`
	Lines     []string `json:"lines"`
}

// Runner executes cleanup sweeps.
type Runner interface {
	Run(ctx context.Context, opts Options) (*Summary, error)
}

// runner implements Runner.
type runner struct {
	checker    health.Checker
	remediator remediation.Service
	logger     *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	orphanCounter metric.Int64Counter
}

// NewRunner creates a cleanup Runner.
func NewRunner(checker health.Checker, remediator remediation.Service, logger *zap.Logger) (Runner, error) {
	if checker == nil {
		return nil, errors.New("health checker is required")
	}
	if remediator == nil {
		return nil, errors.New("remediation service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &runner{
		checker:    checker,
		remediator: remediator,
		logger:     logger.Named("cleanup"),
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}

	var err error
	r.orphanCounter, err = r.meter.Int64Counter(
		"reposyncd.cleanup.orphans_total",
		metric.WithDescription("Total number of orphaned repositories handled by cleanup runs"),
		metric.WithUnit("{orphan}"),
	)
	if err != nil {
		r.logger.Warn("failed to create orphan counter", zap.Error(err))
	}
	return r, nil
}

func (r *runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	ctx, span := r.tracer.Start(ctx, "cleanup.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner", opts.Owner),
		attribute.Bool("delete", opts.Delete),
	)

	reports, err := r.collect(ctx, opts.Owner)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Owners: len(reports)}
	for _, report := range reports {
		if report.Degraded {
			summary.Degraded++
			summary.Lines = append(summary.Lines,
				fmt.Sprintf("owner %s: remote listing unavailable, skipped", report.Owner))
			continue
		}
		for _, issue := range report.Issues {
			if issue.Kind != health.KindOrphanedInRemote {
				continue
			}
			summary.Orphans++
			r.countOrphan(ctx, opts.Delete)

			if !opts.Delete {
				summary.Lines = append(summary.Lines,
					fmt.Sprintf("would delete %s/%s", issue.Owner, issue.RemoteName))
				continue
			}
			r.deleteOne(ctx, summary, issue)
		}
	}

	r.logger.Info("cleanup run finished",
		zap.Bool("delete", opts.Delete),
		zap.Int("owners", summary.Owners),
		zap.Int("orphans", summary.Orphans),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// deleteOne deletes a single orphan and records the outcome. Failures
// are part of the summary, never fatal to the sweep.
func (r *runner) deleteOne(ctx context.Context, summary *Summary, issue health.Issue) {
	summary.Attempted++
	res, err := r.remediator.DeleteOrphan(ctx, issue.Owner, issue.RemoteName)
	if err != nil {
		summary.Failed++
		summary.Lines = append(summary.Lines,
			fmt.Sprintf("failed to delete %s/%s: %v", issue.Owner, issue.RemoteName, err))
		r.logger.Warn("failed to delete orphaned repository",
			zap.String("owner", issue.Owner),
			zap.String("remote_name", issue.RemoteName),
			zap.Error(err),
		)
		return
	}
	summary.Succeeded++
	summary.Lines = append(summary.Lines, res.Message)
}

func (r *runner) collect(ctx context.Context, owner string) ([]*health.Report, error) {
	if owner != "" {
		report, err := r.checker.Check(ctx, owner)
		if err != nil {
			return nil, err
		}
		return []*health.Report{report}, nil
	}
	return r.checker.CheckAll(ctx)
}

func (r *runner) countOrphan(ctx context.Context, deleting bool) {
	if r.orphanCounter != nil {
		r.orphanCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("delete", deleting)))
	}
}
