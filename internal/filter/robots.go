package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inovacc/patchrun/internal/model"
)

// DefaultUserAgent is the agent name repositories use to opt out of patchrun
// pull requests in their .github/GH-ROBOTS.txt.
const DefaultUserAgent = "inovacc/patchrun"

// RobotsTxt excludes GitHub repositories whose .github/GH-ROBOTS.txt
// disallows any of the configured user agents. Repositories on other origins
// pass through untouched.
type RobotsTxt struct {
	HTTPClient *http.Client
	UserAgents []string
	// RawHostURL overrides https://raw.githubusercontent.com, for tests.
	RawHostURL string
}

func (f *RobotsTxt) ShouldFilter(ctx context.Context, repo model.Repository) ([]DetailedReason, error) {
	if repo.Origin != "github.com" {
		return nil, nil
	}

	robots, err := f.fetch(ctx, repo)
	if err != nil {
		return nil, err
	}
	if robots == nil {
		return nil, nil
	}

	agents := f.UserAgents
	if len(agents) == 0 {
		agents = []string{DefaultUserAgent}
	}

	var reasons []DetailedReason
	for _, agent := range agents {
		if robots.appliesTo(agent) {
			reasons = append(reasons, DetailedReason{
				Reason: ReasonRobotsTxt,
				Details: fmt.Sprintf("repository %s disallows agent %q via .github/GH-ROBOTS.txt",
					repo.Path, agent),
			})
		}
	}
	return reasons, nil
}

func (f *RobotsTxt) fetch(ctx context.Context, repo model.Repository) (*robotsFile, error) {
	host := f.RawHostURL
	if host == "" {
		host = "https://raw.githubusercontent.com"
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	u := fmt.Sprintf("%s/%s/%s/.github/GH-ROBOTS.txt", host, repo.Path, repo.Branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GH-ROBOTS.txt for %s: %w", repo.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch GH-ROBOTS.txt for %s: HTTP %d", repo.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read GH-ROBOTS.txt for %s: %w", repo.Path, err)
	}
	return parseRobots(string(body)), nil
}

// robotsFile is a minimal GH-ROBOTS.txt model: groups of User-agent lines
// each followed by Disallow rules. An agent is disallowed when a group that
// names it (or "*") carries at least one Disallow rule.
type robotsFile struct {
	entries []robotsEntry
}

type robotsEntry struct {
	agents    []string
	disallows []string
}

func parseRobots(content string) *robotsFile {
	var (
		file    robotsFile
		current robotsEntry
		// consecutive User-agent lines accumulate into one group until a
		// rule line closes the group
		openGroup bool
	)

	flush := func() {
		if len(current.agents) > 0 && len(current.disallows) > 0 {
			file.entries = append(file.entries, current)
		}
		current = robotsEntry{}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			// A blank line ends the current group; a rule-less group is
			// dropped when the next User-agent line flushes it.
			openGroup = false
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !openGroup {
				flush()
				openGroup = true
			}
			current.agents = append(current.agents, value)
		case "disallow":
			openGroup = false
			if value != "" {
				current.disallows = append(current.disallows, value)
			}
		}
	}
	flush()
	return &file
}

func (r *robotsFile) appliesTo(userAgent string) bool {
	userAgent = strings.ToLower(userAgent)
	for _, entry := range r.entries {
		for _, agent := range entry.agents {
			if agent == "*" {
				return true
			}
			if strings.Contains(userAgent, strings.ToLower(agent)) {
				return true
			}
		}
	}
	return false
}
