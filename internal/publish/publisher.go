// Package publish turns diff-available run results into signed commits and
// pull requests. Publishing is idempotent across re-runs: branch names come
// from the campaign definition, and a persisted PullRequestRecord guarantees
// at most one pull request per campaign per repository.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/go-github/v82/github"
	"golang.org/x/sync/errgroup"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/store"
)

// PermissionError indicates the token lacks write access to one repository.
// Per-repository, not campaign-fatal: it is recorded and the campaign
// continues.
type PermissionError struct {
	Repository string
	Err        error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("no write access to %s: %v", e.Repository, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// DiffFetcher supplies the diff a run produced for one repository.
type DiffFetcher interface {
	FetchDiff(ctx context.Context, runID string, repo model.Repository) (string, error)
}

// Action says what the publisher did for one repository.
type Action string

const (
	ActionCreated         Action = "created"
	ActionUpdated         Action = "updated"
	ActionSkippedOpen     Action = "skipped-open"
	ActionSkippedMerged   Action = "skipped-merged"
	ActionSkippedRejected Action = "skipped-rejected"
	ActionFailed          Action = "failed"
)

// Outcome is the per-repository publish result.
type Outcome struct {
	Repository model.Repository `json:"repository"`
	Action     Action           `json:"action"`
	PRNumber   int              `json:"pr_number,omitempty"`
	PRURL      string           `json:"pr_url,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Options configures a Publisher.
type Options struct {
	Workers int // parallel repository publishes, default 1
	Logger  *slog.Logger
}

// Publisher drives branch creation, diff application, commit signing and
// pull request creation for each repository.
type Publisher struct {
	github  *github.Client
	diffs   DiffFetcher
	records store.Store
	signer  *Signer
	workers int
	logger  *slog.Logger
}

func New(gh *github.Client, diffs DiffFetcher, records store.Store, signer *Signer, opts Options) *Publisher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		github:  gh,
		diffs:   diffs,
		records: records,
		signer:  signer,
		workers: workers,
		logger:  logger,
	}
}

// PublishAll publishes every result, bounded-parallel across repositories,
// in an order deterministic for a fixed result set. Per-repository failures
// become failed outcomes; a SigningError aborts the whole phase since every
// remaining signature would fail the same way. Re-invoking after partial
// failure never duplicates branches or pull requests.
func (p *Publisher) PublishAll(ctx context.Context, camp *campaign.Campaign, runID string, results []model.RepositoryResult) ([]Outcome, error) {
	sorted := make([]model.RepositoryResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Repository.Key() < sorted[j].Repository.Key()
	})

	outcomes := make([]Outcome, len(sorted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, result := range sorted {
		g.Go(func() error {
			outcome, err := p.publishOne(gctx, camp, runID, result)
			if err != nil {
				// Fatal for the whole phase; the errgroup cancels the rest.
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return collected(outcomes), err
	}
	return outcomes, nil
}

func (p *Publisher) publishOne(ctx context.Context, camp *campaign.Campaign, runID string, result model.RepositoryResult) (Outcome, error) {
	repo := result.Repository
	logger := p.logger.With(slog.String("repo", repo.Path), slog.String("campaign", camp.Name))

	if skip, outcome, err := p.checkRecord(ctx, camp, repo, logger); err != nil {
		return p.failed(camp, repo, err)
	} else if skip {
		return outcome, nil
	}

	diff, err := p.diffs.FetchDiff(ctx, runID, repo)
	if err != nil {
		return p.failed(camp, repo, fmt.Errorf("failed to fetch diff: %w", err))
	}

	owner, name := repo.Owner(), repo.Name()

	baseRef, _, err := p.github.Git.GetRef(ctx, owner, name, "refs/heads/"+repo.Branch)
	if err != nil {
		return p.failed(camp, repo, classifyGitHub(repo, fmt.Errorf("failed to resolve base branch: %w", err)))
	}
	baseSHA := baseRef.GetObject().GetSHA()

	baseCommit, _, err := p.github.Git.GetCommit(ctx, owner, name, baseSHA)
	if err != nil {
		return p.failed(camp, repo, classifyGitHub(repo, fmt.Errorf("failed to read base commit: %w", err)))
	}

	entries, err := buildTreeEntries(ctx, diff, func(ctx context.Context, path string) (string, bool, error) {
		return p.fetchContent(ctx, repo, path, baseSHA)
	})
	if err != nil {
		var applyErr *ApplyError
		if errors.As(err, &applyErr) {
			logger.Warn("diff no longer applies, skipping", slog.String("error", applyErr.Error()))
			return p.failed(camp, repo, applyErr)
		}
		return p.failed(camp, repo, err)
	}

	tree, _, err := p.github.Git.CreateTree(ctx, owner, name, baseCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return p.failed(camp, repo, classifyGitHub(repo, fmt.Errorf("failed to create tree: %w", err)))
	}

	commit, _, err := p.github.Git.CreateCommit(ctx, owner, name, github.Commit{
		Message: github.Ptr(camp.CommitMessage()),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(baseSHA)}},
	}, &github.CreateCommitOptions{Signer: github.MessageSignerFunc(p.signer.Sign)})
	if err != nil {
		var signErr *SigningError
		if errors.As(err, &signErr) {
			return Outcome{}, signErr
		}
		return p.failed(camp, repo, classifyGitHub(repo, fmt.Errorf("failed to create commit: %w", err)))
	}

	if err := p.upsertBranch(ctx, repo, camp.Branch, commit.GetSHA()); err != nil {
		return p.failed(camp, repo, classifyGitHub(repo, err))
	}

	outcome, err := p.upsertPullRequest(ctx, camp, repo, logger)
	if err != nil {
		return p.failed(camp, repo, classifyGitHub(repo, err))
	}
	return outcome, nil
}

// checkRecord applies the idempotence rules: an open or merged PR blocks
// publishing, a rejected closure blocks it, and anything else lets a fresh
// publish proceed. Open records are reconciled against the live PR so a
// merge or closure since the last run is noticed.
func (p *Publisher) checkRecord(ctx context.Context, camp *campaign.Campaign, repo model.Repository, logger *slog.Logger) (bool, Outcome, error) {
	record, err := p.records.Get(camp.Name, repo.Key())
	if err != nil {
		return false, Outcome{}, fmt.Errorf("failed to read record: %w", err)
	}
	if record == nil {
		return false, Outcome{}, nil
	}

	if record.State == model.PROpen && record.Number > 0 {
		pr, _, err := p.github.PullRequests.Get(ctx, repo.Owner(), repo.Name(), record.Number)
		if err != nil {
			return false, Outcome{}, fmt.Errorf("failed to reconcile PR #%d: %w", record.Number, err)
		}
		switch {
		case pr.GetMerged():
			record.State = model.PRMerged
		case pr.GetState() == "closed":
			record.State = model.PRClosed
		}
		if record.State != model.PROpen {
			record.UpdatedAt = time.Now().UTC()
			if err := p.records.Put(record); err != nil {
				return false, Outcome{}, fmt.Errorf("failed to update record: %w", err)
			}
		}
	}

	switch record.State {
	case model.PROpen:
		logger.Info("pull request already open, skipping", slog.Int("pr", record.Number))
		return true, Outcome{Repository: repo, Action: ActionSkippedOpen, PRNumber: record.Number, PRURL: record.URL}, nil
	case model.PRMerged:
		logger.Info("pull request already merged, skipping", slog.Int("pr", record.Number))
		return true, Outcome{Repository: repo, Action: ActionSkippedMerged, PRNumber: record.Number, PRURL: record.URL}, nil
	case model.PRClosed:
		if record.Rejected {
			logger.Info("pull request was rejected, skipping", slog.Int("pr", record.Number))
			return true, Outcome{Repository: repo, Action: ActionSkippedRejected, PRNumber: record.Number, PRURL: record.URL}, nil
		}
		// Closed without merge and not marked rejected: eligible again.
		logger.Info("previous pull request closed without merge, publishing a fresh one",
			slog.Int("pr", record.Number))
		return false, Outcome{}, nil
	default:
		// Earlier error outcome; retrying is what re-runs are for.
		return false, Outcome{}, nil
	}
}

func (p *Publisher) fetchContent(ctx context.Context, repo model.Repository, path, ref string) (string, bool, error) {
	file, _, resp, err := p.github.Repositories.GetContents(ctx, repo.Owner(), repo.Name(), path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if file == nil {
		return "", false, fmt.Errorf("%s is not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// upsertBranch points the campaign branch at sha, creating it on first
// publish and force-updating it on re-runs so repeated executions converge
// on the same branch instead of accumulating duplicates.
func (p *Publisher) upsertBranch(ctx context.Context, repo model.Repository, branch, sha string) error {
	owner, name := repo.Owner(), repo.Name()

	_, resp, err := p.github.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
	if err != nil {
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("failed to check branch %s: %w", branch, err)
		}
		create := github.CreateRef{Ref: "refs/heads/" + branch, SHA: sha}
		if _, _, err := p.github.Git.CreateRef(ctx, owner, name, create); err != nil {
			return fmt.Errorf("failed to create branch %s: %w", branch, err)
		}
		return nil
	}

	update := github.UpdateRef{SHA: sha, Force: github.Ptr(true)}
	if _, _, err := p.github.Git.UpdateRef(ctx, owner, name, "refs/heads/"+branch, update); err != nil {
		return fmt.Errorf("failed to update branch %s: %w", branch, err)
	}
	return nil
}

func (p *Publisher) upsertPullRequest(ctx context.Context, camp *campaign.Campaign, repo model.Repository, logger *slog.Logger) (Outcome, error) {
	owner, name := repo.Owner(), repo.Name()

	existing, _, err := p.github.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + camp.Branch,
		Base:  repo.Branch,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list pull requests: %w", err)
	}

	var (
		pr     *github.PullRequest
		action Action
	)
	if len(existing) > 0 {
		// The deterministic branch already has an open PR; refresh its text
		// rather than opening a duplicate.
		pr, _, err = p.github.PullRequests.Edit(ctx, owner, name, existing[0].GetNumber(), &github.PullRequest{
			Title: github.Ptr(camp.PRTitle),
			Body:  github.Ptr(camp.PRBody),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to update pull request: %w", err)
		}
		action = ActionUpdated
	} else {
		pr, _, err = p.github.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
			Title:               github.Ptr(camp.PRTitle),
			Body:                github.Ptr(camp.PRBody),
			Head:                github.Ptr(camp.Branch),
			Base:                github.Ptr(repo.Branch),
			MaintainerCanModify: github.Ptr(true),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to create pull request: %w", err)
		}
		action = ActionCreated
	}

	now := time.Now().UTC()
	record := &model.PullRequestRecord{
		Campaign:   camp.Name,
		Repository: repo.Key(),
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		Branch:     camp.Branch,
		State:      model.PROpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.records.Put(record); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist record: %w", err)
	}

	logger.Info("pull request published",
		slog.Int("pr", pr.GetNumber()),
		slog.String("url", pr.GetHTMLURL()),
		slog.String("action", string(action)),
	)
	return Outcome{
		Repository: repo,
		Action:     action,
		PRNumber:   pr.GetNumber(),
		PRURL:      pr.GetHTMLURL(),
	}, nil
}

// failed records the per-repository error outcome so the summary and future
// runs see it, then reports it as a non-fatal outcome.
func (p *Publisher) failed(camp *campaign.Campaign, repo model.Repository, cause error) (Outcome, error) {
	now := time.Now().UTC()
	record, err := p.records.Get(camp.Name, repo.Key())
	if err != nil || record == nil {
		record = &model.PullRequestRecord{
			Campaign:   camp.Name,
			Repository: repo.Key(),
			Branch:     camp.Branch,
			CreatedAt:  now,
		}
	}
	// Keep any previously published PR identity; only the latest error and
	// state change.
	record.State = model.PRError
	record.Error = cause.Error()
	record.UpdatedAt = now
	if err := p.records.Put(record); err != nil {
		p.logger.Warn("failed to persist error record",
			slog.String("repo", repo.Path),
			slog.String("error", err.Error()),
		)
	}
	return Outcome{Repository: repo, Action: ActionFailed, Reason: cause.Error()}, nil
}

// classifyGitHub converts 403 responses into PermissionErrors; everything
// else passes through.
func classifyGitHub(repo model.Repository, err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusForbidden {
		return &PermissionError{Repository: repo.Path, Err: err}
	}
	return err
}

// collected drops zero-value slots left behind when a fatal error canceled
// in-flight workers.
func collected(outcomes []Outcome) []Outcome {
	out := outcomes[:0:0]
	for _, o := range outcomes {
		if o.Action != "" {
			out = append(out, o)
		}
	}
	return out
}
