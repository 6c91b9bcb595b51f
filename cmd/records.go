package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records <campaign>",
	Short: "List the pull requests a campaign has published",
	Long: `List the persisted pull request records for a campaign. One record exists
per repository the campaign ever published to (or failed to publish to); it is
what makes re-runs idempotent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.Resolve(args[0])
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("records")
		if path == "" {
			path, err = defaultRecordsPath()
			if err != nil {
				return err
			}
		}
		records, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open records store %s: %w", path, err)
		}
		defer func() { _ = records.Close() }()

		list, err := records.List(camp.Name)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no records for campaign %s\n", camp.Name)
			return nil
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)
		t := table.New().
			Border(lipgloss.NormalBorder()).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Headers("REPOSITORY", "STATE", "PR", "UPDATED", "DETAIL")
		for _, r := range list {
			pr := ""
			if r.Number > 0 {
				pr = fmt.Sprintf("#%d", r.Number)
			}
			detail := r.URL
			if r.State == "error" {
				detail = r.Error
			}
			t.Row(r.Repository, string(r.State), pr, r.UpdatedAt.Format("2006-01-02 15:04"), detail)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var recordsRejectCmd = &cobra.Command{
	Use:   "reject <campaign> <owner/name[@branch]>",
	Short: "Mark a repository's pull request as rejected",
	Long: `Mark a repository's closed pull request as deliberately rejected. Future
runs of the campaign will skip the repository instead of opening a fresh pull
request.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.Resolve(args[0])
		if err != nil {
			return err
		}
		repo, err := parseRepoSpec(args[1])
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("records")
		if path == "" {
			path, err = defaultRecordsPath()
			if err != nil {
				return err
			}
		}
		records, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open records store %s: %w", path, err)
		}
		defer func() { _ = records.Close() }()

		record, err := records.Get(camp.Name, repo.Key())
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("no record for %s in campaign %s", repo.Key(), camp.Name)
		}
		record.Rejected = true
		record.UpdatedAt = time.Now().UTC()
		if err := records.Put(record); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "marked %s as rejected for campaign %s\n", repo.Key(), camp.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsRejectCmd)
	recordsCmd.Flags().String("records", "", "Path to the pull request records database (default ~/.patchrun/records.db)")
	recordsCmd.Flags().Bool("json", false, "Print records as JSON")
	recordsRejectCmd.Flags().String("records", "", "Path to the pull request records database (default ~/.patchrun/records.db)")
}
