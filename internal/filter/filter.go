// Package filter decides, per repository, whether a campaign may publish to
// it. Filters are pure with respect to a repository snapshot: the same
// repository state always yields the same decision, which is what makes
// campaigns safely re-runnable.
package filter

import (
	"context"
	"fmt"

	"github.com/inovacc/patchrun/internal/model"
)

// Reason is the category under which a repository was excluded.
type Reason string

const (
	ReasonDenyList        Reason = "DENY_LIST"
	ReasonNotAllowed      Reason = "NOT_IN_ALLOW_LIST"
	ReasonRobotsTxt       Reason = "GH_ROBOTS_TXT"
	ReasonNoBuildFile     Reason = "NO_BUILD_FILE"
	ReasonFixed           Reason = "ALREADY_FIXED"
	ReasonCriticalProject Reason = "TOP_TEN_THOUSAND"
)

// DetailedReason pairs a Reason with its human-readable explanation.
type DetailedReason struct {
	Reason  Reason `json:"reason"`
	Details string `json:"details"`
}

// Filter reports why a repository should be excluded from publishing, or
// nothing if it should be included.
type Filter interface {
	ShouldFilter(ctx context.Context, repo model.Repository) ([]DetailedReason, error)
}

// Combined runs every filter and concatenates their reasons.
type Combined struct {
	Filters []Filter
}

func (c *Combined) ShouldFilter(ctx context.Context, repo model.Repository) ([]DetailedReason, error) {
	var reasons []DetailedReason
	for _, f := range c.Filters {
		r, err := f.ShouldFilter(ctx, repo)
		if err != nil {
			return nil, err
		}
		reasons = append(reasons, r...)
	}
	return reasons, nil
}

// AllowDeny excludes repositories on an explicit deny list, and, when an
// allow list is configured, everything not on it.
type AllowDeny struct {
	// Allow, when non-empty, restricts publishing to the listed repository
	// URLs.
	Allow []string
	// Deny maps repository URLs to the human-readable reasons they are
	// excluded.
	Deny map[string][]string
}

func (f *AllowDeny) ShouldFilter(_ context.Context, repo model.Repository) ([]DetailedReason, error) {
	var reasons []DetailedReason
	for _, detail := range f.Deny[repo.URL()] {
		reasons = append(reasons, DetailedReason{Reason: ReasonDenyList, Details: detail})
	}
	if len(f.Allow) > 0 {
		allowed := false
		for _, u := range f.Allow {
			if u == repo.URL() {
				allowed = true
				break
			}
		}
		if !allowed {
			reasons = append(reasons, DetailedReason{
				Reason:  ReasonNotAllowed,
				Details: fmt.Sprintf("repository %s is not on the allow list", repo.URL()),
			})
		}
	}
	return reasons, nil
}

// Excluded is the outcome of applying a filter across a result set.
type Excluded struct {
	Repository model.Repository `json:"repository"`
	Reasons    []DetailedReason `json:"reasons"`
}

// Apply splits results into those the filter keeps, those whose filter
// checks failed, and those it excludes. A check failure on one repository
// turns only that repository into an error result, so the run is reported
// as failed without touching the rest of the set.
func Apply(ctx context.Context, f Filter, results []model.RepositoryResult) (kept, failed []model.RepositoryResult, excluded []Excluded) {
	for _, result := range results {
		reasons, err := f.ShouldFilter(ctx, result.Repository)
		if err != nil {
			result.Status = model.StatusError
			result.ErrorReason = fmt.Sprintf("filter check failed: %v", err)
			failed = append(failed, result)
			continue
		}
		if len(reasons) > 0 {
			excluded = append(excluded, Excluded{Repository: result.Repository, Reasons: reasons})
			continue
		}
		kept = append(kept, result)
	}
	return kept, failed, excluded
}
