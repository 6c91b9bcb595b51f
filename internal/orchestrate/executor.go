// Package orchestrate composes the campaign pipeline: resolve a campaign,
// submit or attach to a recipe run, track it to rest, filter the candidate
// repositories and publish pull requests for the survivors.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/filter"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/publish"
	"github.com/inovacc/patchrun/internal/report"
	"github.com/inovacc/patchrun/internal/tracker"
)

// Submitter starts recipe runs on the platform.
type Submitter interface {
	Submit(ctx context.Context, camp *campaign.Campaign, scope model.RunScope) (string, error)
	RunURL(runID string) string
}

// Publisher publishes pull requests for diff-available results.
type Publisher interface {
	PublishAll(ctx context.Context, camp *campaign.Campaign, runID string, results []model.RepositoryResult) ([]publish.Outcome, error)
}

// Monitor observes the run lifecycle. It extends the tracker's monitor with
// submit- and publish-phase events.
type Monitor interface {
	tracker.Monitor
	OnRunStarted(runID, runURL string)
	OnPublishStarted(count int)
}

// Executor wires the campaign pipeline together.
type Executor struct {
	Submitter Submitter
	Tracker   *tracker.Tracker
	Filter    filter.Filter
	Publisher Publisher
	Monitor   Monitor
	Logger    *slog.Logger
}

// RunOptions controls one execution.
type RunOptions struct {
	Scope model.RunScope
	// AttachRunID, when set, skips submission and tracks an existing run.
	AttachRunID string
	// Publish enables the pull request phase; without it the run is a dry
	// run ending after filtering.
	Publish bool
}

// Execute runs the pipeline. The returned summary is non-nil whenever a run
// was tracked at all, even on cancellation or timeout; the error is non-nil
// only for campaign-fatal conditions.
func (e *Executor) Execute(ctx context.Context, camp *campaign.Campaign, opts RunOptions) (*report.Summary, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := opts.AttachRunID
	if runID == "" {
		var err error
		runID, err = e.Submitter.Submit(ctx, camp, opts.Scope)
		if err != nil {
			return nil, fmt.Errorf("failed to submit campaign %s: %w", camp.Name, err)
		}
	}
	if e.Monitor != nil {
		e.Monitor.OnRunStarted(runID, e.Submitter.RunURL(runID))
	}
	logger.Info("tracking recipe run",
		slog.String("campaign", camp.Name),
		slog.String("run_id", runID),
	)

	run, err := e.Tracker.Track(ctx, runID)
	if err != nil {
		// Tracking failed outright; report whatever was accumulated.
		return &report.Summary{
			Campaign: camp.Name,
			RunID:    runID,
			RunState: run.State,
			Results:  run.Results,
			DryRun:   !opts.Publish,
		}, err
	}

	// Filtering applies only to repositories that would get a pull request;
	// no-change and error results pass straight to the report.
	var candidates, rest []model.RepositoryResult
	for _, r := range run.Results {
		if r.Status == model.StatusDiffAvailable {
			candidates = append(candidates, r)
		} else {
			rest = append(rest, r)
		}
	}

	// A canceled tracking context is done; filtering and publishing of the
	// partial result set continue on a fresh one.
	phaseCtx := ctx
	if run.State == model.RunCanceled {
		phaseCtx = context.WithoutCancel(ctx)
	}

	kept, checkFailed, excluded := filter.Apply(phaseCtx, e.Filter, candidates)

	reported := append(append([]model.RepositoryResult{}, kept...), checkFailed...)
	reported = append(reported, rest...)
	sort.Slice(reported, func(i, j int) bool {
		return reported[i].Repository.Key() < reported[j].Repository.Key()
	})

	summary := &report.Summary{
		Campaign: camp.Name,
		RunID:    runID,
		RunState: run.State,
		Results:  reported,
		Excluded: excluded,
		DryRun:   !opts.Publish,
	}

	if !opts.Publish {
		return summary, nil
	}

	if e.Monitor != nil {
		e.Monitor.OnPublishStarted(len(kept))
	}
	outcomes, err := e.Publisher.PublishAll(phaseCtx, camp, runID, kept)
	summary.Outcomes = outcomes
	if err != nil {
		var signErr *publish.SigningError
		if errors.As(err, &signErr) {
			return summary, signErr
		}
		return summary, fmt.Errorf("publish phase aborted: %w", err)
	}
	return summary, nil
}
