package filter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v82/github"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/model"
)

// ContentsProber answers questions about a repository's file contents at its
// run branch. The go-github implementation below is the production one;
// tests substitute stubs.
type ContentsProber interface {
	FileExists(ctx context.Context, repo model.Repository, path string) (bool, error)
	FileContains(ctx context.Context, repo model.Repository, path, needle string) (bool, error)
}

// RequiredFiles excludes repositories missing every one of the campaign's
// required build descriptors. A campaign without required files keeps all
// repositories.
type RequiredFiles struct {
	Campaign *campaign.Campaign
	Prober   ContentsProber
}

func (f *RequiredFiles) ShouldFilter(ctx context.Context, repo model.Repository) ([]DetailedReason, error) {
	if len(f.Campaign.RequiredFiles) == 0 {
		return nil, nil
	}
	for _, path := range f.Campaign.RequiredFiles {
		exists, err := f.Prober.FileExists(ctx, repo, path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
	}
	return []DetailedReason{{
		Reason: ReasonNoBuildFile,
		Details: fmt.Sprintf("repository %s has none of the required files: %s",
			repo.Path, strings.Join(f.Campaign.RequiredFiles, ", ")),
	}}, nil
}

// AlreadyFixed excludes repositories whose content carries one of the
// campaign's already-patched markers, preventing redundant pull requests.
type AlreadyFixed struct {
	Campaign *campaign.Campaign
	Prober   ContentsProber
}

func (f *AlreadyFixed) ShouldFilter(ctx context.Context, repo model.Repository) ([]DetailedReason, error) {
	var reasons []DetailedReason
	for _, marker := range f.Campaign.AlreadyFixed {
		found, err := f.Prober.FileContains(ctx, repo, marker.Path, marker.Contains)
		if err != nil {
			return nil, err
		}
		if found {
			reasons = append(reasons, DetailedReason{
				Reason: ReasonFixed,
				Details: fmt.Sprintf("repository %s already contains %q in %s",
					repo.Path, marker.Contains, marker.Path),
			})
		}
	}
	return reasons, nil
}

// GitHubProber probes repository contents through the GitHub contents API.
type GitHubProber struct {
	Client *github.Client
}

func (p *GitHubProber) FileExists(ctx context.Context, repo model.Repository, path string) (bool, error) {
	_, _, resp, err := p.Client.Repositories.GetContents(ctx, repo.Owner(), repo.Name(), path,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	if err != nil {
		if notFound(resp, err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to probe %s in %s: %w", path, repo.Path, err)
	}
	return true, nil
}

func (p *GitHubProber) FileContains(ctx context.Context, repo model.Repository, path, needle string) (bool, error) {
	file, _, resp, err := p.Client.Repositories.GetContents(ctx, repo.Owner(), repo.Name(), path,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	if err != nil {
		if notFound(resp, err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s in %s: %w", path, repo.Path, err)
	}
	if file == nil {
		return false, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return false, fmt.Errorf("failed to decode %s in %s: %w", path, repo.Path, err)
	}
	return strings.Contains(content, needle), nil
}

func notFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
