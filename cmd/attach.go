package cmd

import (
	"github.com/spf13/cobra"

	"github.com/inovacc/patchrun/internal/campaign"
	"github.com/inovacc/patchrun/internal/orchestrate"
)

var attachCmd = &cobra.Command{
	Use:   "attach <campaign> <run-id>",
	Short: "Attach to an already-submitted recipe run",
	Long: `Attach to a recipe run submitted earlier (or by someone else) and drive the
rest of the campaign pipeline against it: track the run to completion, filter
the results, and with --publish open pull requests.

Useful when a previous invocation was interrupted after submission, or when a
long run is tracked from a different machine than the one that started it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.Resolve(args[0])
		if err != nil {
			return err
		}

		doPublish, _ := cmd.Flags().GetBool("publish")
		return executeCampaign(cmd, camp, orchestrate.RunOptions{
			AttachRunID: args[1],
			Publish:     doPublish,
		})
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
	addRunFlags(attachCmd)
}
