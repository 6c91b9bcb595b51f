package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/cli"
	"github.com/inovacc/patchrun/internal/model"
	"github.com/inovacc/patchrun/internal/orchestrate"
	"github.com/inovacc/patchrun/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run <campaign>",
	Short: "Submit a campaign and track it to completion",
	Long: `Submit the campaign's recipe to the platform, poll the run until every
repository has a result, and report per-repository outcomes.

The target is either a platform organization (--org) or an explicit list of
repositories (--repo, repeatable). Without --publish this is a dry run: the
campaign stops after filtering and prints what it would have published.

Examples:
  patchrun run zip-slip --org MyOrg
  patchrun run zip-slip --repo acme/storage --repo acme/api@develop --publish
  patchrun run http-to-https-gradle --org Default --publish --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.Resolve(args[0])
		if err != nil {
			return err
		}

		org, _ := cmd.Flags().GetString("org")
		repoSpecs, _ := cmd.Flags().GetStringArray("repo")
		doPublish, _ := cmd.Flags().GetBool("publish")

		if org != "" && len(repoSpecs) > 0 {
			return fmt.Errorf("--org and --repo are mutually exclusive")
		}
		if org == "" && len(repoSpecs) == 0 {
			return fmt.Errorf("a target is required: --org <organization> or --repo <owner/name>")
		}

		scope := model.RunScope{OrganizationID: org}
		for _, spec := range repoSpecs {
			repo, err := parseRepoSpec(spec)
			if err != nil {
				return err
			}
			scope.Repositories = append(scope.Repositories, repo)
		}

		return executeCampaign(cmd, camp, orchestrate.RunOptions{Scope: scope, Publish: doPublish})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("org", "", "Platform organization to run against")
	runCmd.Flags().StringArray("repo", nil, "Repository to run against, owner/name[@branch] (repeatable)")
	addRunFlags(runCmd)
}

// executeCampaign drives one pipeline execution and renders its summary. The
// summary is printed even when the run ended badly; the returned error then
// makes the process exit non-zero.
func executeCampaign(cmd *cobra.Command, camp *campaign.Campaign, opts orchestrate.RunOptions) error {
	watch, _ := cmd.Flags().GetBool("watch")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		summary *report.Summary
		runErr  error
	)
	if watch {
		p := tea.NewProgram(cli.NewWatchModel())
		exec, cleanup, err := buildExecutor(cmd, camp, &cli.WatchMonitor{Program: p}, opts.Publish)
		if err != nil {
			return err
		}
		defer cleanup()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			summary, runErr = exec.Execute(runCtx, camp, opts)
			p.Send(cli.QuitMsg{})
		}()

		final, uiErr := p.Run()
		if m, ok := final.(cli.WatchModel); ok && m.Canceled() {
			// Detaching cancels tracking; the executor flushes partial results.
			cancel()
		}
		<-done
		if runErr == nil && uiErr != nil {
			runErr = uiErr
		}
	} else {
		exec, cleanup, err := buildExecutor(cmd, camp, &orchestrate.PrintingMonitor{W: cmd.ErrOrStderr()}, opts.Publish)
		if err != nil {
			return err
		}
		defer cleanup()

		summary, runErr = exec.Execute(ctx, camp, opts)
	}

	if summary != nil {
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), summary.Render())
		}
	}

	if runErr != nil {
		return runErr
	}
	if summary != nil && summary.Failed() {
		return fmt.Errorf("campaign %s finished with failures", camp.Name)
	}
	return nil
}
