package filter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"github.com/inovacc/patchrun/internal/model"
)

// DefaultCriticalProjectsURL is the published census of the top 10,000
// critical open source projects, one repository URL per row.
const DefaultCriticalProjectsURL = "https://docs.google.com/spreadsheets/d/e/2PACX-1vQJjUIa78qOs19mmZ2AmpehplONAsnAsAoji-oQcd8phurjEyoG6_BgPeTgCYzAtEzgkC_W6Bx2LZOD/pub?output=csv"

// CriticalProjects excludes repositories listed in the critical open source
// projects census. Those projects get hand-delivered fixes, not automated
// pull requests.
type CriticalProjects struct {
	urls map[string]struct{}
}

// NewCriticalProjects builds the filter from an already-loaded URL list.
func NewCriticalProjects(urls []string) *CriticalProjects {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return &CriticalProjects{urls: set}
}

// LoadCriticalProjects fetches the census CSV and builds the filter from its
// URL column. Rows without a URL are skipped. sourceURL is for tests; pass
// "" for the published census.
func LoadCriticalProjects(ctx context.Context, client *http.Client, sourceURL string) (*CriticalProjects, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if sourceURL == "" {
		sourceURL = DefaultCriticalProjectsURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch critical projects census: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch critical projects census: HTTP %d", resp.StatusCode)
	}

	urls, err := parseCensus(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse critical projects census: %w", err)
	}
	return NewCriticalProjects(urls), nil
}

func parseCensus(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	urlColumn := -1
	for i, name := range header {
		if name == "URL" {
			urlColumn = i
			break
		}
	}
	if urlColumn < 0 {
		return nil, fmt.Errorf("census has no URL column")
	}

	var urls []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if urlColumn < len(row) && row[urlColumn] != "" {
			urls = append(urls, row[urlColumn])
		}
	}
	return urls, nil
}

func (f *CriticalProjects) ShouldFilter(_ context.Context, repo model.Repository) ([]DetailedReason, error) {
	if _, ok := f.urls[repo.URL()]; !ok {
		return nil, nil
	}
	return []DetailedReason{{
		Reason:  ReasonCriticalProject,
		Details: fmt.Sprintf("repository %s is in the top 10,000 critical open source projects", repo.URL()),
	}}, nil
}
