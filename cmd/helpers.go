package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v82/github"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/inovacc/patchrun/internal/auth"
	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/filter"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/orchestrate"
	"github.com/inovacc/patchrun/internal/publish"
	"github.com/inovacc/patchrun/internal/remote"
	"github.com/inovacc/patchrun/internal/store"
	"github.com/inovacc/patchrun/internal/tracker"
)

// addRunFlags registers the flags shared by run and attach.
func addRunFlags(c *cobra.Command) {
	c.Flags().Bool("publish", false, "Publish pull requests (without it, stop after filtering and report)")
	c.Flags().Bool("watch", false, "Show a live progress view while the run executes")
	c.Flags().Bool("json", false, "Print the summary as JSON instead of a table")
	c.Flags().Duration("poll-interval", 0, "Poll cadence while tracking the run (default 5s)")
	c.Flags().Duration("timeout", 0, "Wall-clock budget for tracking the run (default 1h)")
	c.Flags().Int64("max-inflight", 4, "Maximum concurrent platform API requests")
	c.Flags().Int("workers", 4, "Parallel repository publishes")
	c.Flags().String("github-token", "", "GitHub token (default: GITHUB_TOKEN, GH_TOKEN, gh CLI)")
	c.Flags().String("platform-token", "", "Platform API token (default: PLATFORM_API_TOKEN, ~/.patchrun/token.txt)")
	c.Flags().String("records", "", "Path to the pull request records database (default ~/.patchrun/records.db)")
	c.Flags().StringSlice("allow", nil, "Restrict publishing to these repository URLs (repeatable)")
	c.Flags().StringSlice("deny", nil, "Exclude repository URLs, as url=reason (repeatable)")
	c.Flags().Bool("include-critical", false, "Also publish to repositories in the critical open source census")
}

// parseRepoSpec parses origin/owner/name[@branch] or owner/name[@branch].
// The origin defaults to github.com and the branch to main.
func parseRepoSpec(spec string) (model.Repository, error) {
	var repo model.Repository
	rest := spec
	repo.Origin = "github.com"
	repo.Branch = "main"

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		repo.Branch = rest[at+1:]
		rest = rest[:at]
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2:
		repo.Path = rest
	case len(parts) > 2 && strings.Contains(parts[0], "."):
		repo.Origin = parts[0]
		repo.Path = strings.Join(parts[1:], "/")
	default:
		return repo, fmt.Errorf("invalid repository %q: expected owner/name[@branch] or origin/owner/name[@branch]", spec)
	}

	if repo.Branch == "" || strings.Count(repo.Path, "/") < 1 {
		return repo, fmt.Errorf("invalid repository %q: expected owner/name[@branch] or origin/owner/name[@branch]", spec)
	}
	return repo, nil
}

func defaultRecordsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	dir := filepath.Join(home, ".patchrun")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, "records.db"), nil
}

func newGitHubClient(token string) *github.Client {
	tc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return github.NewClient(tc)
}

// buildExecutor wires the campaign pipeline from the command's flags. The
// returned cleanup closes the records store and must be called even on error
// paths once the executor is no longer needed.
func buildExecutor(cmd *cobra.Command, camp *campaign.Campaign, mon orchestrate.Monitor, doPublish bool) (*orchestrate.Executor, func(), error) {
	cleanup := func() {}

	domain, _ := cmd.Flags().GetString("domain")
	maxInFlight, _ := cmd.Flags().GetInt64("max-inflight")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	workers, _ := cmd.Flags().GetInt("workers")
	platformFlag, _ := cmd.Flags().GetString("platform-token")
	githubFlag, _ := cmd.Flags().GetString("github-token")
	allow, _ := cmd.Flags().GetStringSlice("allow")
	denyEntries, _ := cmd.Flags().GetStringSlice("deny")

	platformToken, _, err := auth.ResolvePlatformToken(platformFlag)
	if err != nil {
		return nil, cleanup, err
	}
	githubToken, _, err := auth.ResolveGitHubToken(githubFlag)
	if err != nil {
		return nil, cleanup, err
	}

	client := remote.New(remote.Options{
		Domain:      domain,
		Token:       platformToken,
		MaxInFlight: maxInFlight,
	})
	gh := newGitHubClient(githubToken)

	deny := make(map[string][]string)
	for _, entry := range denyEntries {
		url, reason, found := strings.Cut(entry, "=")
		if !found {
			reason = "on deny list"
		}
		deny[url] = append(deny[url], reason)
	}

	prober := &filter.GitHubProber{Client: gh}
	chain := []filter.Filter{
		&filter.AllowDeny{Allow: allow, Deny: deny},
		&filter.RobotsTxt{UserAgents: []string{filter.DefaultUserAgent}},
	}
	if includeCritical, _ := cmd.Flags().GetBool("include-critical"); !includeCritical {
		critical, err := filter.LoadCriticalProjects(cmd.Context(), nil, "")
		if err != nil {
			return nil, cleanup, err
		}
		chain = append(chain, critical)
	}
	chain = append(chain,
		&filter.RequiredFiles{Campaign: camp, Prober: prober},
		&filter.AlreadyFixed{Campaign: camp, Prober: prober},
	)
	filters := &filter.Combined{Filters: chain}

	exec := &orchestrate.Executor{
		Submitter: client,
		Tracker: tracker.New(client, tracker.Options{
			Interval: pollInterval,
			Timeout:  timeout,
			Monitor:  mon,
		}),
		Filter:  filters,
		Monitor: mon,
	}

	if !doPublish {
		return exec, cleanup, nil
	}

	keyConfig, err := auth.LoadGPGKeyConfig()
	if err != nil {
		return nil, cleanup, fmt.Errorf("publishing requires a signing key: %w", err)
	}
	signer, err := publish.NewSigner(keyConfig.PrivateKey, keyConfig.Passphrase)
	if err != nil {
		return nil, cleanup, err
	}

	recordsPath, _ := cmd.Flags().GetString("records")
	if recordsPath == "" {
		recordsPath, err = defaultRecordsPath()
		if err != nil {
			return nil, cleanup, err
		}
	}
	records, err := store.Open(recordsPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to open records store %s: %w", recordsPath, err)
	}
	cleanup = func() { _ = records.Close() }

	exec.Publisher = publish.New(gh, client, records, signer, publish.Options{Workers: workers})
	return exec, cleanup, nil
}
