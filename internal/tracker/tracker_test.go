package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/remote"
)

type pollStep struct {
	state   string
	results []model.RepositoryResult
	err     error
}

// scriptedClient replays one pollStep per poll, repeating the last step.
type scriptedClient struct {
	mu      sync.Mutex
	steps   []pollStep
	call    int
	current pollStep
	onPoll  func(call int)
}

func (c *scriptedClient) RunStatus(_ context.Context, runID string) (*model.RunStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.call
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.current = c.steps[i]
	c.call++
	if c.onPoll != nil {
		c.onPoll(c.call)
	}
	if c.current.err != nil {
		return nil, c.current.err
	}
	return &model.RunStatus{ID: runID, State: c.current.state, Totals: model.RunTotals{
		RepositoriesSearched: len(c.current.results),
	}}, nil
}

func (c *scriptedClient) RunResults(context.Context, string) ([]model.RepositoryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.results, nil
}

type recordingMonitor struct {
	progress  int
	completed []model.RunState
}

func (m *recordingMonitor) OnProgress(string, string, model.RunTotals, []model.RepositoryResult) {
	m.progress++
}

func (m *recordingMonitor) OnRunCompleted(_ string, state model.RunState) {
	m.completed = append(m.completed, state)
}

func pending(path string) model.RepositoryResult {
	return model.RepositoryResult{
		Repository: model.Repository{Origin: "github.com", Path: path, Branch: "main"},
		Status:     model.StatusPending,
	}
}

func diffAvailable(path string, changed int) model.RepositoryResult {
	return model.RepositoryResult{
		Repository:   model.Repository{Origin: "github.com", Path: path, Branch: "main"},
		Status:       model.StatusDiffAvailable,
		TotalChanged: changed,
	}
}

func fastOptions(mon Monitor) Options {
	return Options{Interval: time.Millisecond, Timeout: time.Minute, Monitor: mon}
}

func TestTrackCompletes(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{state: "RUNNING", results: []model.RepositoryResult{pending("acme/storage")}},
		{state: "FINISHED", results: []model.RepositoryResult{
			diffAvailable("acme/storage", 2),
			pending("acme/straggler"),
		}},
	}}
	mon := &recordingMonitor{}

	run, err := New(client, fastOptions(mon)).Track(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.State)
	require.Len(t, run.Results, 2)

	// Sorted by repository key.
	assert.Equal(t, "acme/storage", run.Results[0].Repository.Path)
	assert.Equal(t, model.StatusDiffAvailable, run.Results[0].Status)

	// A repository the platform never finished is surfaced as an error, not
	// dropped.
	assert.Equal(t, "acme/straggler", run.Results[1].Repository.Path)
	assert.Equal(t, model.StatusError, run.Results[1].Status)
	assert.Equal(t, "no terminal state reported by platform", run.Results[1].ErrorReason)

	assert.GreaterOrEqual(t, mon.progress, 1)
	assert.Equal(t, []model.RunState{model.RunCompleted}, mon.completed)
}

func TestTrackTerminalStatusNeverRegresses(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{state: "RUNNING", results: []model.RepositoryResult{diffAvailable("acme/storage", 2)}},
		// The platform briefly reports the repository as pending again.
		{state: "RUNNING", results: []model.RepositoryResult{pending("acme/storage")}},
		{state: "FINISHED", results: []model.RepositoryResult{pending("acme/storage")}},
	}}

	run, err := New(client, fastOptions(nil)).Track(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, model.StatusDiffAvailable, run.Results[0].Status)
	assert.Equal(t, 2, run.Results[0].TotalChanged)
}

func TestTrackTimeout(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{state: "RUNNING", results: []model.RepositoryResult{
			diffAvailable("acme/storage", 1),
			pending("acme/slow"),
		}},
	}}
	mon := &recordingMonitor{}

	opts := Options{Interval: time.Millisecond, Timeout: time.Nanosecond, Monitor: mon}
	run, err := New(client, opts).Track(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunTimedOut, run.State)

	require.Len(t, run.Results, 2)
	assert.Equal(t, model.StatusError, run.Results[0].Status)
	assert.Equal(t, "timeout", run.Results[0].ErrorReason)
	// Terminal results survive the timeout untouched.
	assert.Equal(t, model.StatusDiffAvailable, run.Results[1].Status)

	assert.Equal(t, []model.RunState{model.RunTimedOut}, mon.completed)
}

func TestTrackCancellationFlushesPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{
		steps: []pollStep{
			{state: "RUNNING", results: []model.RepositoryResult{diffAvailable("acme/storage", 1)}},
		},
	}
	client.onPoll = func(int) { cancel() }

	run, err := New(client, fastOptions(nil)).Track(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCanceled, run.State)
	require.Len(t, run.Results, 1)
	assert.Equal(t, model.StatusDiffAvailable, run.Results[0].Status)
}

func TestTrackCanceledByPlatform(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{state: "CANCELED", results: []model.RepositoryResult{
			diffAvailable("acme/storage", 1),
			pending("acme/slow"),
		}},
	}}

	run, err := New(client, fastOptions(nil)).Track(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCanceled, run.State)
	assert.Equal(t, model.StatusError, run.Results[0].Status)
	assert.Equal(t, "run canceled by platform", run.Results[0].ErrorReason)
	assert.Equal(t, model.StatusDiffAvailable, run.Results[1].Status)
}

func TestTrackAuthErrorIsFatal(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{err: &remote.AuthError{Status: 401}},
	}}

	run, err := New(client, fastOptions(nil)).Track(context.Background(), "run-1")
	require.Error(t, err)

	var authErr *remote.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, model.RunFailed, run.State)
	assert.Equal(t, 1, client.call)
}

func TestTrackGivesUpAfterConsecutiveFailures(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{err: errors.New("gateway timeout")},
	}}

	opts := Options{Interval: time.Millisecond, Timeout: time.Minute, MaxPollFailures: 3}
	run, err := New(client, opts).Track(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling failed 3 times")
	assert.Contains(t, err.Error(), "gateway timeout")
	assert.Equal(t, model.RunFailed, run.State)
	assert.Equal(t, 3, client.call)
}

func TestTrackTransientFailureRecovers(t *testing.T) {
	client := &scriptedClient{steps: []pollStep{
		{err: errors.New("blip")},
		{state: "FINISHED", results: []model.RepositoryResult{diffAvailable("acme/storage", 1)}},
	}}

	run, err := New(client, fastOptions(nil)).Track(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.State)
}

func TestWaitBackoff(t *testing.T) {
	tr := New(&scriptedClient{steps: []pollStep{{}}}, Options{Interval: time.Second})

	assert.Equal(t, time.Second, tr.wait(0, nil))
	assert.Equal(t, 2*time.Second, tr.wait(1, errors.New("x")))
	assert.Equal(t, 4*time.Second, tr.wait(2, errors.New("x")))
	assert.Equal(t, time.Minute, tr.wait(10, errors.New("x")))
	assert.Equal(t, 30*time.Second, tr.wait(3, &remote.RateLimitError{RetryAfter: 30 * time.Second}))
}
