package model

import (
	"fmt"
	"time"
)

// Repository identifies one source repository targeted by a run.
type Repository struct {
	Origin string `json:"origin"` // e.g. "github.com"
	Path   string `json:"path"`   // "owner/name"
	Branch string `json:"branch"`
}

// Key returns the stable identity used for accumulator and record lookups.
func (r Repository) Key() string {
	return fmt.Sprintf("%s/%s@%s", r.Origin, r.Path, r.Branch)
}

// URL returns the browsable URL of the repository.
func (r Repository) URL() string {
	return fmt.Sprintf("https://%s/%s", r.Origin, r.Path)
}

// Owner returns the owner half of the repository path, or "" if malformed.
func (r Repository) Owner() string {
	owner, _ := splitPath(r.Path)
	return owner
}

// Name returns the name half of the repository path, or "" if malformed.
func (r Repository) Name() string {
	_, name := splitPath(r.Path)
	return name
}

func splitPath(path string) (owner, name string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", ""
}

// ResultStatus is the per-repository outcome of a recipe run.
type ResultStatus string

const (
	StatusPending       ResultStatus = "pending"
	StatusNoChange      ResultStatus = "no-change"
	StatusDiffAvailable ResultStatus = "diff-available"
	StatusError         ResultStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s ResultStatus) Terminal() bool {
	return s == StatusNoChange || s == StatusDiffAvailable || s == StatusError
}

// RepositoryResult is one repository's outcome within a run. Once a result
// reaches a terminal status it never transitions again.
type RepositoryResult struct {
	Repository    Repository   `json:"repository"`
	Status        ResultStatus `json:"status"`
	ErrorReason   string       `json:"error_reason,omitempty"`
	TotalChanged  int          `json:"total_changed"`
	TotalSearched int          `json:"total_searched"`
}

// RunState tracks one submitted run through its lifecycle.
type RunState string

const (
	RunSubmitted RunState = "submitted"
	RunPolling   RunState = "polling"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunTimedOut  RunState = "timed-out"
	RunCanceled  RunState = "canceled"
)

// RunTotals are the aggregate counters reported by the platform per poll.
type RunTotals struct {
	RepositoriesSearched  int `json:"repositories_searched"`
	RepositoriesChanged   int `json:"repositories_changed"`
	RepositoriesWithError int `json:"repositories_with_error"`
	FilesSearched         int `json:"files_searched"`
	FilesChanged          int `json:"files_changed"`
	Results               int `json:"results"`
}

// RunStatus is the platform's snapshot of a run.
type RunStatus struct {
	ID     string    `json:"id"`
	State  string    `json:"state"` // platform states: QUEUED, RUNNING, FINISHED, CANCELED...
	Totals RunTotals `json:"totals"`
}

// RunScope is the target of a run: either a platform organization or an
// explicit repository list. Exactly one of the two is set.
type RunScope struct {
	OrganizationID string       `json:"organization_id,omitempty"`
	Repositories   []Repository `json:"repositories,omitempty"`
}

// RunResult is the accumulated outcome of tracking a run to rest.
type RunResult struct {
	RunID   string             `json:"run_id"`
	State   RunState           `json:"state"`
	Results []RepositoryResult `json:"results"`
}

// PRState is the lifecycle state of a published pull request.
type PRState string

const (
	PROpen   PRState = "open"
	PRMerged PRState = "merged"
	PRClosed PRState = "closed"
	PRError  PRState = "error"
)

// PullRequestRecord persists the at-most-one-PR-per-campaign-per-repository
// guarantee across invocations.
type PullRequestRecord struct {
	Campaign   string  `json:"campaign"`
	Repository string  `json:"repository"` // Repository.Key()
	Number     int     `json:"number,omitempty"`
	URL        string  `json:"url,omitempty"`
	Branch     string  `json:"branch,omitempty"`
	State      PRState `json:"state"`
	Error      string  `json:"error,omitempty"`
	// Rejected marks a closed-without-merge PR as a deliberate rejection so
	// re-runs do not open a fresh one.
	Rejected  bool      `json:"rejected,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
