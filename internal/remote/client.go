// Package remote is the typed client for the code-transformation platform's
// GraphQL API: submitting recipe runs, polling their progress and fetching
// per-repository diffs. It is a thin wrapper; polling cadence, retries and
// backoff are the caller's responsibility.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shurcooL/graphql"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/model"
)

// DefaultDomain is the public platform instance.
const DefaultDomain = "app.moderne.io"

// Custom GraphQL scalar types. The names must match the platform schema;
// the graphql client derives variable declarations from them.
type (
	// Base64 is the platform's base64-encoded string scalar.
	Base64 string
	// RecipeRunPriority is LOW or NORMAL.
	RecipeRunPriority string
)

// RepositoryInput is the GraphQL input object identifying one repository.
type RepositoryInput struct {
	Origin string `json:"origin"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// Options configures a Client.
type Options struct {
	Domain      string // platform domain, DefaultDomain if empty
	Token       string // bearer token
	MaxInFlight int64  // global ceiling on concurrent platform requests
	BaseURL     string // overrides the https://api.<domain> base, for tests
	Logger      *slog.Logger
}

// Client issues authenticated requests against one platform instance.
type Client struct {
	domain  string
	baseURL string
	gql     *graphql.Client
	http    *http.Client
	logger  *slog.Logger
}

// New builds a Client. All outbound calls, GraphQL and diff downloads alike,
// share the same bearer token and in-flight ceiling.
func New(opts Options) *Client {
	domain := opts.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api." + domain
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Transport: newTransport(opts.Token, opts.MaxInFlight, nil)}

	return &Client{
		domain:  domain,
		baseURL: baseURL,
		gql:     graphql.NewClient(baseURL+"/graphql", httpClient),
		http:    httpClient,
		logger:  logger,
	}
}

// Domain returns the platform domain this client talks to, for building
// browsable run URLs.
func (c *Client) Domain() string {
	return c.domain
}

// RunURL returns the browsable URL for a run.
func (c *Client) RunURL(runID string) string {
	return fmt.Sprintf("https://%s/results/%s", c.domain, runID)
}

// Submit starts a recipe run for the campaign against the given scope and
// returns the platform's run id.
func (c *Client) Submit(ctx context.Context, camp *campaign.Campaign, scope model.RunScope) (string, error) {
	if len(scope.Repositories) > 0 {
		return c.submitRepositories(ctx, camp, scope.Repositories)
	}
	org := scope.OrganizationID
	if org == "" {
		org = "Default"
	}
	return c.submitOrganization(ctx, camp, org)
}

func (c *Client) submitOrganization(ctx context.Context, camp *campaign.Campaign, org string) (string, error) {
	var m struct {
		RunYamlRecipe struct {
			ID graphql.ID
		} `graphql:"runYamlRecipe(organizationId: $organizationId, yaml: $yaml, priority: $priority)"`
	}
	vars := map[string]interface{}{
		"organizationId": graphql.ID(org),
		"yaml":           Base64(camp.RecipeYAMLBase64()),
		"priority":       RecipeRunPriority("LOW"),
	}
	if err := c.gql.Mutate(ctx, &m, vars); err != nil {
		return "", classify(err, "failed to submit recipe run")
	}
	runID := fmt.Sprintf("%v", m.RunYamlRecipe.ID)
	c.logger.Debug("recipe run submitted",
		slog.String("run_id", runID),
		slog.String("campaign", camp.Name),
		slog.String("organization", org),
	)
	return runID, nil
}

func (c *Client) submitRepositories(ctx context.Context, camp *campaign.Campaign, repos []model.Repository) (string, error) {
	var m struct {
		RunYamlRecipe struct {
			ID graphql.ID
		} `graphql:"runYamlRecipe(repositoryFilter: $repositoryFilter, yaml: $yaml, priority: $priority)"`
	}
	inputs := make([]RepositoryInput, 0, len(repos))
	for _, r := range repos {
		inputs = append(inputs, RepositoryInput{Origin: r.Origin, Path: r.Path, Branch: r.Branch})
	}
	vars := map[string]interface{}{
		"repositoryFilter": inputs,
		"yaml":             Base64(camp.RecipeYAMLBase64()),
		"priority":         RecipeRunPriority("LOW"),
	}
	if err := c.gql.Mutate(ctx, &m, vars); err != nil {
		return "", classify(err, "failed to submit recipe run")
	}
	runID := fmt.Sprintf("%v", m.RunYamlRecipe.ID)
	c.logger.Debug("recipe run submitted",
		slog.String("run_id", runID),
		slog.String("campaign", camp.Name),
		slog.Int("repositories", len(repos)),
	)
	return runID, nil
}

// RunStatus fetches the platform's aggregate snapshot of a run.
func (c *Client) RunStatus(ctx context.Context, runID string) (*model.RunStatus, error) {
	var q struct {
		RecipeRun struct {
			ID     graphql.ID
			State  graphql.String
			Totals struct {
				TotalFilesChanged              graphql.Int
				TotalFilesSearched             graphql.Int
				TotalRepositoriesSuccessful    graphql.Int
				TotalRepositoriesWithErrors    graphql.Int
				TotalRepositoriesWithResults   graphql.Int
				TotalRepositoriesWithNoChanges graphql.Int
				TotalResults                   graphql.Int
			}
		} `graphql:"recipeRun(id: $id)"`
	}
	vars := map[string]interface{}{"id": graphql.ID(runID)}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, classify(err, "failed to query run status")
	}
	totals := q.RecipeRun.Totals
	searched := int(totals.TotalRepositoriesSuccessful) +
		int(totals.TotalRepositoriesWithErrors) +
		int(totals.TotalRepositoriesWithResults) +
		int(totals.TotalRepositoriesWithNoChanges)
	return &model.RunStatus{
		ID:    runID,
		State: string(q.RecipeRun.State),
		Totals: model.RunTotals{
			RepositoriesSearched:  searched,
			RepositoriesChanged:   int(totals.TotalRepositoriesWithResults),
			RepositoriesWithError: int(totals.TotalRepositoriesWithErrors),
			FilesSearched:         int(totals.TotalFilesSearched),
			FilesChanged:          int(totals.TotalFilesChanged),
			Results:               int(totals.TotalResults),
		},
	}, nil
}

// RunResults returns the current per-repository snapshot of a run, walking
// all result pages. It reflects progress at the moment of the call; callers
// poll it until every repository is terminal.
func (c *Client) RunResults(ctx context.Context, runID string) ([]model.RepositoryResult, error) {
	var results []model.RepositoryResult
	var after *graphql.String
	for {
		var q struct {
			RecipeRun struct {
				ID                  graphql.ID
				State               graphql.String
				SummaryResultsPages struct {
					PageInfo struct {
						HasNextPage graphql.Boolean
						EndCursor   graphql.String
					}
					Edges []struct {
						Node struct {
							State         graphql.String
							TotalChanged  graphql.Int
							TotalSearched graphql.Int
							Repository    struct {
								Origin graphql.String
								Path   graphql.String
								Branch graphql.String
							}
						}
					}
				} `graphql:"summaryResultsPages(after: $after)"`
			} `graphql:"recipeRun(id: $id)"`
		}
		vars := map[string]interface{}{
			"id":    graphql.ID(runID),
			"after": after,
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, classify(err, "failed to query run results")
		}
		for _, edge := range q.RecipeRun.SummaryResultsPages.Edges {
			node := edge.Node
			repo := model.Repository{
				Origin: string(node.Repository.Origin),
				Path:   string(node.Repository.Path),
				Branch: string(node.Repository.Branch),
			}
			results = append(results, model.RepositoryResult{
				Repository:    repo,
				Status:        mapRepositoryState(string(node.State), int(node.TotalChanged)),
				ErrorReason:   errorReason(string(node.State)),
				TotalChanged:  int(node.TotalChanged),
				TotalSearched: int(node.TotalSearched),
			})
		}
		if !bool(q.RecipeRun.SummaryResultsPages.PageInfo.HasNextPage) {
			return results, nil
		}
		cursor := q.RecipeRun.SummaryResultsPages.PageInfo.EndCursor
		after = &cursor
	}
}

// FetchDiff downloads the unified diff the run produced for one repository.
// Returns a *NotFoundError if the repository was not part of the run or
// produced no changes.
func (c *Client) FetchDiff(ctx context.Context, runID string, repo model.Repository) (string, error) {
	u := fmt.Sprintf("%s/v1/runs/%s/patch?%s", c.baseURL, url.PathEscape(runID), url.Values{
		"origin": {repo.Origin},
		"path":   {repo.Path},
		"branch": {repo.Branch},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(err, "failed to fetch diff")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", &NotFoundError{Resource: fmt.Sprintf("diff for %s in run %s", repo.Key(), runID)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch diff for %s: HTTP %d", repo.Key(), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read diff for %s: %w", repo.Key(), err)
	}
	return string(body), nil
}

// RunStateTerminal reports whether a platform run state means the run will
// make no further progress.
func RunStateTerminal(state string) bool {
	return state == "FINISHED" || state == "CANCELED"
}

func mapRepositoryState(state string, totalChanged int) model.ResultStatus {
	switch state {
	case "FINISHED":
		if totalChanged > 0 {
			return model.StatusDiffAvailable
		}
		return model.StatusNoChange
	case "ERROR", "UNAVAILABLE":
		return model.StatusError
	case "CANCELED":
		return model.StatusError
	default: // CREATED, QUEUED, LOADING, RUNNING
		return model.StatusPending
	}
}

func errorReason(state string) string {
	switch state {
	case "ERROR":
		return "recipe run failed on repository"
	case "UNAVAILABLE":
		return "repository unavailable to platform"
	case "CANCELED":
		return "run canceled by platform"
	default:
		return ""
	}
}

// classify surfaces transport-level typed errors (wrapped by net/http and the
// graphql client) and wraps everything else with context.
func classify(err error, msg string) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr
	}
	if strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "Unauthorized") {
		return &AuthError{Status: http.StatusUnauthorized}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
