// Package report renders the end-of-run summary. Every run ends with one,
// including canceled and timed-out runs, so operators always see what
// happened to each repository.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/inovacc/patchrun/internal/filter"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/publish"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Summary is everything one campaign run produced.
type Summary struct {
	Campaign string                   `json:"campaign"`
	RunID    string                   `json:"run_id"`
	RunState model.RunState           `json:"run_state"`
	Results  []model.RepositoryResult `json:"results"`
	Excluded []filter.Excluded        `json:"excluded,omitempty"`
	Outcomes []publish.Outcome        `json:"outcomes,omitempty"`
	DryRun   bool                     `json:"dry_run"`
}

// Counts are the per-status tallies of a summary.
type Counts struct {
	Diffs     int `json:"diffs"`
	NoChange  int `json:"no_change"`
	Errors    int `json:"errors"`
	Excluded  int `json:"excluded"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Counts tallies the summary.
func (s *Summary) Counts() Counts {
	var c Counts
	for _, r := range s.Results {
		switch r.Status {
		case model.StatusDiffAvailable:
			c.Diffs++
		case model.StatusNoChange:
			c.NoChange++
		case model.StatusError:
			c.Errors++
		}
	}
	c.Excluded = len(s.Excluded)
	for _, o := range s.Outcomes {
		switch o.Action {
		case publish.ActionCreated, publish.ActionUpdated:
			c.Published++
		case publish.ActionFailed:
			c.Failed++
		default:
			c.Skipped++
		}
	}
	return c
}

// Failed reports whether the run should exit non-zero: any repository ended
// in error, any publish failed, or the run itself did not complete.
func (s *Summary) Failed() bool {
	c := s.Counts()
	if c.Errors > 0 || c.Failed > 0 {
		return true
	}
	return s.RunState == model.RunFailed || s.RunState == model.RunTimedOut
}

// Render formats the summary for terminal output.
func (s *Summary) Render() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Campaign %s - run %s (%s)", s.Campaign, s.RunID, s.RunState)))
	b.WriteString("\n\n")

	if len(s.Results) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Headers("REPOSITORY", "STATUS", "CHANGED", "DETAIL")
		for _, r := range s.Results {
			t.Row(r.Repository.Path, statusCell(r), fmt.Sprintf("%d", r.TotalChanged), r.ErrorReason)
		}
		b.WriteString(t.String())
		b.WriteString("\n")
	}

	if len(s.Excluded) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Excluded repositories"))
		b.WriteString("\n")
		for _, e := range s.Excluded {
			for _, reason := range e.Reasons {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("  %s  %s: %s", e.Repository.Path, reason.Reason, reason.Details)))
				b.WriteString("\n")
			}
		}
	}

	if len(s.Outcomes) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Pull requests"))
		b.WriteString("\n")
		for _, o := range s.Outcomes {
			line := fmt.Sprintf("  %s  %s", o.Repository.Path, o.Action)
			if o.PRURL != "" {
				line += "  " + o.PRURL
			}
			if o.Reason != "" {
				line += "  (" + o.Reason + ")"
			}
			if o.Action == publish.ActionFailed {
				b.WriteString(errStyle.Render(line))
			} else {
				b.WriteString(line)
			}
			b.WriteString("\n")
		}
	}

	c := s.Counts()
	b.WriteString("\n")
	line := fmt.Sprintf("diffs: %d  no-change: %d  errors: %d  excluded: %d", c.Diffs, c.NoChange, c.Errors, c.Excluded)
	if !s.DryRun {
		line += fmt.Sprintf("  published: %d  skipped: %d  failed: %d", c.Published, c.Skipped, c.Failed)
	}
	if s.Failed() {
		b.WriteString(errStyle.Render(line))
	} else {
		b.WriteString(okStyle.Render(line))
	}
	b.WriteString("\n")

	return b.String()
}

func statusCell(r model.RepositoryResult) string {
	switch r.Status {
	case model.StatusError:
		return errStyle.Render(string(r.Status))
	case model.StatusDiffAvailable:
		return okStyle.Render(string(r.Status))
	default:
		return string(r.Status)
	}
}
