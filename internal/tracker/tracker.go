// Package tracker polls a submitted recipe run until it reaches rest,
// accumulating per-repository results. Accumulation is idempotent and
// monotonic: applying the same snapshot twice is a no-op, and a repository
// that reached a terminal status never regresses to pending.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/remote"
)

// Client is the slice of the platform client the tracker needs.
type Client interface {
	RunStatus(ctx context.Context, runID string) (*model.RunStatus, error)
	RunResults(ctx context.Context, runID string) ([]model.RepositoryResult, error)
}

// Monitor receives progress callbacks during tracking. Implementations must
// not block; all methods may be called from the tracking goroutine only.
type Monitor interface {
	OnProgress(runID, platformState string, totals model.RunTotals, results []model.RepositoryResult)
	OnRunCompleted(runID string, state model.RunState)
}

// Options configures a Tracker.
type Options struct {
	Interval        time.Duration // poll cadence, default 5s
	Timeout         time.Duration // wall-clock budget, default 1h
	MaxPollFailures int           // consecutive poll failures before giving up, default 5
	Monitor         Monitor
	Logger          *slog.Logger
}

// Tracker drives one run's submitted -> polling -> terminal lifecycle.
type Tracker struct {
	client  Client
	opts    Options
	logger  *slog.Logger
	monitor Monitor
}

func New(client Client, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{client: client, opts: opts, logger: logger, monitor: opts.Monitor}
}

// Track polls the run until it completes, fails, times out or the context is
// canceled. The returned RunResult is always non-nil and always carries
// whatever results were accumulated, even on failure paths; its State says
// how tracking ended. The error is non-nil only for the failed state.
func (t *Tracker) Track(ctx context.Context, runID string) (*model.RunResult, error) {
	acc := newAccumulator(runID)
	deadline := time.Now().Add(t.opts.Timeout)

	var (
		failures int
		lastErr  error
		previous model.RunStatus
	)

	for {
		status, results, err := t.poll(ctx, runID)
		switch {
		case err == nil:
			failures = 0
			acc.merge(results)

			if status.State != previous.State || status.Totals != previous.Totals {
				previous = *status
				if t.monitor != nil {
					t.monitor.OnProgress(runID, status.State, status.Totals, acc.snapshot())
				}
			}

			if remote.RunStateTerminal(status.State) {
				return t.finish(acc, status.State), nil
			}

		case isFatal(err):
			// Credential problems do not heal with retries.
			return acc.result(model.RunFailed), err

		default:
			failures++
			lastErr = err
			t.logger.Warn("poll failed",
				slog.String("run_id", runID),
				slog.Int("attempt", failures),
				slog.String("error", err.Error()),
			)
			if failures >= t.opts.MaxPollFailures {
				if t.monitor != nil {
					t.monitor.OnRunCompleted(runID, model.RunFailed)
				}
				return acc.result(model.RunFailed), fmt.Errorf("polling failed %d times, last error: %w", failures, lastErr)
			}
		}

		if time.Now().After(deadline) {
			acc.markPending(model.StatusError, "timeout")
			if t.monitor != nil {
				t.monitor.OnRunCompleted(runID, model.RunTimedOut)
			}
			return acc.result(model.RunTimedOut), nil
		}

		select {
		case <-ctx.Done():
			// Flush what we have; partial results stay valid.
			if t.monitor != nil {
				t.monitor.OnRunCompleted(runID, model.RunCanceled)
			}
			return acc.result(model.RunCanceled), nil
		case <-time.After(t.wait(failures, err)):
		}
	}
}

func (t *Tracker) poll(ctx context.Context, runID string) (*model.RunStatus, []model.RepositoryResult, error) {
	status, err := t.client.RunStatus(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	results, err := t.client.RunResults(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return status, results, nil
}

func (t *Tracker) finish(acc *accumulator, platformState string) *model.RunResult {
	state := model.RunCompleted
	if platformState == "CANCELED" {
		acc.markPending(model.StatusError, "run canceled by platform")
		state = model.RunCanceled
	} else {
		// A finished run should have no pending repositories left; if the
		// platform disagrees, surface them instead of dropping them.
		acc.markPending(model.StatusError, "no terminal state reported by platform")
	}
	if t.monitor != nil {
		t.monitor.OnRunCompleted(acc.runID, state)
	}
	return acc.result(state)
}

// wait returns the pause before the next poll: the configured interval on
// success, exponential backoff capped at one minute after failures, or the
// platform's Retry-After hint when it throttled us.
func (t *Tracker) wait(failures int, err error) time.Duration {
	var rateErr *remote.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}
	wait := t.opts.Interval
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= time.Minute {
			return time.Minute
		}
	}
	return wait
}

func isFatal(err error) bool {
	var authErr *remote.AuthError
	return errors.As(err, &authErr)
}

// accumulator keys results by repository identity and enforces the
// monotonic pending -> terminal transition.
type accumulator struct {
	runID   string
	results map[string]model.RepositoryResult
}

func newAccumulator(runID string) *accumulator {
	return &accumulator{runID: runID, results: make(map[string]model.RepositoryResult)}
}

func (a *accumulator) merge(results []model.RepositoryResult) {
	for _, r := range results {
		key := r.Repository.Key()
		if existing, ok := a.results[key]; ok && existing.Status.Terminal() {
			continue
		}
		a.results[key] = r
	}
}

// markPending moves every still-pending repository to status with reason.
func (a *accumulator) markPending(status model.ResultStatus, reason string) {
	for key, r := range a.results {
		if r.Status == model.StatusPending {
			r.Status = status
			r.ErrorReason = reason
			a.results[key] = r
		}
	}
}

// snapshot returns the accumulated results sorted by repository identity so
// output stays diffable between executions.
func (a *accumulator) snapshot() []model.RepositoryResult {
	out := make([]model.RepositoryResult, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Repository.Key() < out[j].Repository.Key()
	})
	return out
}

func (a *accumulator) result(state model.RunState) *model.RunResult {
	return &model.RunResult{RunID: a.runID, State: state, Results: a.snapshot()}
}
