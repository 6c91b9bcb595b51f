package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/filter"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/publish"
	"github.com/inovacc/patchrun/internal/tracker"
)

func testCampaign() *campaign.Campaign {
	return &campaign.Campaign{Name: "zip-slip", Branch: "patchrun/fix-zip-slip"}
}

type fakeSubmitter struct {
	runID     string
	err       error
	submitted int
	lastScope model.RunScope
}

func (s *fakeSubmitter) Submit(_ context.Context, _ *campaign.Campaign, scope model.RunScope) (string, error) {
	s.submitted++
	s.lastScope = scope
	return s.runID, s.err
}

func (s *fakeSubmitter) RunURL(runID string) string {
	return "https://app.moderne.io/results/" + runID
}

// finishedClient reports one FINISHED snapshot.
type finishedClient struct {
	results []model.RepositoryResult
}

func (c *finishedClient) RunStatus(_ context.Context, runID string) (*model.RunStatus, error) {
	return &model.RunStatus{ID: runID, State: "FINISHED"}, nil
}

func (c *finishedClient) RunResults(context.Context, string) ([]model.RepositoryResult, error) {
	return c.results, nil
}

type fakePublisher struct {
	calls    int
	got      []model.RepositoryResult
	outcomes []publish.Outcome
	err      error
}

func (p *fakePublisher) PublishAll(_ context.Context, _ *campaign.Campaign, _ string, results []model.RepositoryResult) ([]publish.Outcome, error) {
	p.calls++
	p.got = results
	return p.outcomes, p.err
}

type eventMonitor struct {
	started      []string
	publishCount int
}

func (m *eventMonitor) OnRunStarted(runID, _ string) { m.started = append(m.started, runID) }

func (m *eventMonitor) OnPublishStarted(count int) { m.publishCount = count }

func (m *eventMonitor) OnProgress(string, string, model.RunTotals, []model.RepositoryResult) {}

func (m *eventMonitor) OnRunCompleted(string, model.RunState) {}

func repoResult(path string, status model.ResultStatus) model.RepositoryResult {
	return model.RepositoryResult{
		Repository: model.Repository{Origin: "github.com", Path: path, Branch: "main"},
		Status:     status,
		TotalChanged: map[model.ResultStatus]int{model.StatusDiffAvailable: 1}[status],
	}
}

func newExecutor(client tracker.Client, sub *fakeSubmitter, f filter.Filter, pub *fakePublisher, mon Monitor) *Executor {
	return &Executor{
		Submitter: sub,
		Tracker:   tracker.New(client, tracker.Options{Interval: time.Millisecond, Monitor: mon}),
		Filter:    f,
		Publisher: pub,
		Monitor:   mon,
	}
}

func TestExecutePublishes(t *testing.T) {
	client := &finishedClient{results: []model.RepositoryResult{
		repoResult("acme/optout", model.StatusDiffAvailable),
		repoResult("acme/storage", model.StatusDiffAvailable),
		repoResult("acme/clean", model.StatusNoChange),
	}}
	sub := &fakeSubmitter{runID: "run-1"}
	deny := &filter.AllowDeny{Deny: map[string][]string{
		"https://github.com/acme/optout": {"opted out"},
	}}
	pub := &fakePublisher{outcomes: []publish.Outcome{{
		Repository: model.Repository{Origin: "github.com", Path: "acme/storage", Branch: "main"},
		Action:     publish.ActionCreated,
		PRNumber:   7,
	}}}
	mon := &eventMonitor{}

	summary, err := newExecutor(client, sub, deny, pub, mon).Execute(
		context.Background(), testCampaign(), RunOptions{Scope: model.RunScope{OrganizationID: "MyOrg"}, Publish: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sub.submitted)
	assert.Equal(t, "MyOrg", sub.lastScope.OrganizationID)
	assert.Equal(t, []string{"run-1"}, mon.started)
	assert.Equal(t, 1, mon.publishCount)

	// Only the kept diff reaches the publisher.
	require.Len(t, pub.got, 1)
	assert.Equal(t, "acme/storage", pub.got[0].Repository.Path)

	// The excluded repository is reported, not silently dropped; the
	// no-change repository stays in the results.
	assert.Equal(t, model.RunCompleted, summary.RunState)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "acme/clean", summary.Results[0].Repository.Path)
	assert.Equal(t, "acme/storage", summary.Results[1].Repository.Path)
	require.Len(t, summary.Excluded, 1)
	assert.Equal(t, "acme/optout", summary.Excluded[0].Repository.Path)

	require.Len(t, summary.Outcomes, 1)
	assert.False(t, summary.Failed())
}

func TestExecuteDryRunSkipsPublisher(t *testing.T) {
	client := &finishedClient{results: []model.RepositoryResult{
		repoResult("acme/storage", model.StatusDiffAvailable),
	}}
	pub := &fakePublisher{}

	summary, err := newExecutor(client, &fakeSubmitter{runID: "run-1"}, &filter.AllowDeny{}, pub, &eventMonitor{}).
		Execute(context.Background(), testCampaign(), RunOptions{Publish: false})
	require.NoError(t, err)

	assert.Equal(t, 0, pub.calls)
	assert.True(t, summary.DryRun)
	require.Len(t, summary.Results, 1)
}

func TestExecuteAttachSkipsSubmission(t *testing.T) {
	client := &finishedClient{results: []model.RepositoryResult{
		repoResult("acme/storage", model.StatusNoChange),
	}}
	sub := &fakeSubmitter{runID: "unused"}

	summary, err := newExecutor(client, sub, &filter.AllowDeny{}, &fakePublisher{}, &eventMonitor{}).
		Execute(context.Background(), testCampaign(), RunOptions{AttachRunID: "run-77"})
	require.NoError(t, err)

	assert.Equal(t, 0, sub.submitted)
	assert.Equal(t, "run-77", summary.RunID)
}

func TestExecuteSubmitFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("platform down")}

	summary, err := newExecutor(&finishedClient{}, sub, &filter.AllowDeny{}, &fakePublisher{}, &eventMonitor{}).
		Execute(context.Background(), testCampaign(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to submit")
	assert.Nil(t, summary)
}

func TestExecuteSigningFailureAborts(t *testing.T) {
	client := &finishedClient{results: []model.RepositoryResult{
		repoResult("acme/storage", model.StatusDiffAvailable),
	}}
	pub := &fakePublisher{err: &publish.SigningError{Err: errors.New("wrong passphrase")}}

	summary, err := newExecutor(client, &fakeSubmitter{runID: "run-1"}, &filter.AllowDeny{}, pub, &eventMonitor{}).
		Execute(context.Background(), testCampaign(), RunOptions{Publish: true})
	require.Error(t, err)

	var signErr *publish.SigningError
	assert.ErrorAs(t, err, &signErr)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Outcomes)
}

// brokenFilter fails its check for one repository.
type brokenFilter struct {
	path string
}

func (f *brokenFilter) ShouldFilter(_ context.Context, repo model.Repository) ([]filter.DetailedReason, error) {
	if repo.Path == f.path {
		return nil, errors.New("contents lookup timed out")
	}
	return nil, nil
}

func TestExecuteFilterCheckFailureFailsRun(t *testing.T) {
	client := &finishedClient{results: []model.RepositoryResult{
		repoResult("acme/broken", model.StatusDiffAvailable),
		repoResult("acme/storage", model.StatusDiffAvailable),
	}}
	pub := &fakePublisher{outcomes: []publish.Outcome{{Action: publish.ActionCreated}}}

	summary, err := newExecutor(client, &fakeSubmitter{runID: "run-1"}, &brokenFilter{path: "acme/broken"}, pub, &eventMonitor{}).
		Execute(context.Background(), testCampaign(), RunOptions{Publish: true})
	require.NoError(t, err)

	// The unaffected repository is still published.
	require.Len(t, pub.got, 1)
	assert.Equal(t, "acme/storage", pub.got[0].Repository.Path)

	// The failed check shows up as an error result and fails the run.
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "acme/broken", summary.Results[0].Repository.Path)
	assert.Equal(t, model.StatusError, summary.Results[0].Status)
	assert.Contains(t, summary.Results[0].ErrorReason, "filter check failed")
	assert.Empty(t, summary.Excluded)
	assert.True(t, summary.Failed())
}

func TestExecuteCanceledRunStillPublishes(t *testing.T) {
	// The tracking context is canceled after the first poll; the partial
	// diff set must still be filtered and published.
	ctx, cancel := context.WithCancel(context.Background())
	client := &cancelingClient{
		cancel: cancel,
		results: []model.RepositoryResult{
			repoResult("acme/storage", model.StatusDiffAvailable),
		},
	}
	pub := &fakePublisher{outcomes: []publish.Outcome{{Action: publish.ActionCreated}}}

	summary, err := newExecutor(client, &fakeSubmitter{runID: "run-1"}, &filter.AllowDeny{}, pub, &eventMonitor{}).
		Execute(ctx, testCampaign(), RunOptions{Publish: true})
	require.NoError(t, err)

	assert.Equal(t, model.RunCanceled, summary.RunState)
	assert.Equal(t, 1, pub.calls)
	require.Len(t, pub.got, 1)
}

// cancelingClient cancels the run context on its first poll and keeps
// reporting RUNNING.
type cancelingClient struct {
	cancel  context.CancelFunc
	results []model.RepositoryResult
}

func (c *cancelingClient) RunStatus(_ context.Context, runID string) (*model.RunStatus, error) {
	c.cancel()
	return &model.RunStatus{ID: runID, State: "RUNNING"}, nil
}

func (c *cancelingClient) RunResults(context.Context, string) ([]model.RepositoryResult, error) {
	return c.results, nil
}
