package orchestrate

import (
	"fmt"
	"io"

	"github.com/inovacc/patchrun/internal/model"
)

// PrintingMonitor writes progress lines to w as the run advances. It is the
// non-interactive counterpart to the watch UI.
type PrintingMonitor struct {
	W io.Writer
}

func (m *PrintingMonitor) OnRunStarted(runID, runURL string) {
	fmt.Fprintf(m.W, "Waiting for recipe run %s to complete...\n", runID)
	fmt.Fprintf(m.W, "View live at %s\n", runURL)
}

func (m *PrintingMonitor) OnProgress(runID, platformState string, totals model.RunTotals, results []model.RepositoryResult) {
	fmt.Fprintf(m.W, "[%s] %s - repositories: %d searched, %d changed, %d errors; files changed: %d\n",
		runID, platformState,
		totals.RepositoriesSearched, totals.RepositoriesChanged, totals.RepositoriesWithError,
		totals.FilesChanged)
}

func (m *PrintingMonitor) OnRunCompleted(runID string, state model.RunState) {
	fmt.Fprintf(m.W, "Recipe run %s %s\n", runID, state)
}

func (m *PrintingMonitor) OnPublishStarted(count int) {
	fmt.Fprintf(m.W, "Publishing pull requests for %d repositories...\n", count)
}
