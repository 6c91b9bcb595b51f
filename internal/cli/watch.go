// Package cli holds the interactive terminal models. The watch model shows
// a live view of a tracked recipe run: aggregate totals on top, the
// per-repository table below, updating as poll snapshots arrive.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/inovacc/patchrun/internal/model"
)

var (
	docStyle    = lipgloss.NewStyle().Margin(1, 2)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	changeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// StartedMsg announces the run being watched.
type StartedMsg struct {
	RunID string
	URL   string
}

// ProgressMsg carries one poll snapshot.
type ProgressMsg struct {
	RunID         string
	PlatformState string
	Totals        model.RunTotals
	Results       []model.RepositoryResult
}

// CompletedMsg announces the end of tracking.
type CompletedMsg struct {
	RunID string
	State model.RunState
}

// PublishMsg announces the start of the publish phase.
type PublishMsg struct {
	Count int
}

// QuitMsg ends the program once the pipeline has finished.
type QuitMsg struct{}

// WatchModel is the bubbletea model behind --watch.
type WatchModel struct {
	spinner    spinner.Model
	runID      string
	runURL     string
	state      string
	totals     model.RunTotals
	results    []model.RepositoryResult
	publishing int
	done       bool
	finalState model.RunState
	quitting   bool
}

func NewWatchModel() WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return WatchModel{spinner: s}
}

// Canceled reports whether the user quit before the run finished.
func (m WatchModel) Canceled() bool {
	return m.quitting && !m.done
}

func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true

			return m, tea.Quit
		}

		return m, nil

	case StartedMsg:
		m.runID = msg.RunID
		m.runURL = msg.URL

		return m, nil

	case ProgressMsg:
		m.state = msg.PlatformState
		m.totals = msg.Totals
		m.results = msg.Results

		return m, nil

	case CompletedMsg:
		m.done = true
		m.finalState = msg.State

		return m, nil

	case PublishMsg:
		m.publishing = msg.Count

		return m, nil

	case QuitMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	if m.done {
		b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s %s", m.runID, m.finalState)))
	} else {
		b.WriteString(m.spinner.View())
		b.WriteString(titleStyle.Render(fmt.Sprintf(" Run %s - %s", m.runID, m.state)))
	}
	b.WriteString("\n")
	if m.runURL != "" {
		b.WriteString(mutedStyle.Render(m.runURL))
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\nrepositories: %d searched, %d changed, %d errors   files changed: %d   results: %d\n\n",
		m.totals.RepositoriesSearched, m.totals.RepositoriesChanged, m.totals.RepositoriesWithError,
		m.totals.FilesChanged, m.totals.Results))

	for _, r := range m.results {
		line := fmt.Sprintf("  %-12s %-50s %d changed", r.Status, r.Repository.Path, r.TotalChanged)
		switch r.Status {
		case model.StatusError:
			b.WriteString(errorStyle.Render(line))
		case model.StatusDiffAvailable:
			b.WriteString(changeStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	if m.publishing > 0 {
		b.WriteString(fmt.Sprintf("\npublishing pull requests for %d repositories...\n", m.publishing))
	}
	if !m.done {
		b.WriteString(mutedStyle.Render("\npress q to detach\n"))
	}

	return docStyle.Render(b.String())
}

// WatchMonitor forwards orchestrator events into a running program.
type WatchMonitor struct {
	Program *tea.Program
}

func (m *WatchMonitor) OnRunStarted(runID, runURL string) {
	m.Program.Send(StartedMsg{RunID: runID, URL: runURL})
}

func (m *WatchMonitor) OnProgress(runID, platformState string, totals model.RunTotals, results []model.RepositoryResult) {
	m.Program.Send(ProgressMsg{RunID: runID, PlatformState: platformState, Totals: totals, Results: results})
}

func (m *WatchMonitor) OnRunCompleted(runID string, state model.RunState) {
	m.Program.Send(CompletedMsg{RunID: runID, State: state})
}

func (m *WatchMonitor) OnPublishStarted(count int) {
	m.Program.Send(PublishMsg{Count: count})
}
