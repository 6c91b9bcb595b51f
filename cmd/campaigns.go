package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/inovacc/patchrun/internal/campaign"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Inspect the built-in campaigns",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := campaign.List()
		if err != nil {
			return err
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
			Headers("CAMPAIGN", "RECIPE", "BRANCH")
		for _, name := range names {
			camp, err := campaign.Resolve(name)
			if err != nil {
				return err
			}
			t.Row(camp.Name, camp.RecipeID, camp.Branch)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var campaignsShowCmd = &cobra.Command{
	Use:   "show <campaign>",
	Short: "Show a campaign's recipe, commit message and pull request text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.Resolve(args[0])
		if err != nil {
			return err
		}

		title := lipgloss.NewStyle().Bold(true)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, title.Render("Campaign:"), camp.Name)
		fmt.Fprintln(out, title.Render("Recipe:"), camp.RecipeID)
		fmt.Fprintln(out, title.Render("Branch:"), camp.Branch)
		if len(camp.RequiredFiles) > 0 {
			fmt.Fprintln(out, title.Render("Required files:"), strings.Join(camp.RequiredFiles, ", "))
		}
		for _, marker := range camp.AlreadyFixed {
			fmt.Fprintf(out, "%s %s contains %q\n", title.Render("Already fixed when:"), marker.Path, marker.Contains)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, title.Render("Commit message"))
		fmt.Fprintln(out, camp.CommitMessage())
		fmt.Fprintln(out, title.Render("Pull request:"), camp.PRTitle)
		fmt.Fprintln(out, camp.PRBody)

		if showRecipe, _ := cmd.Flags().GetBool("recipe"); showRecipe {
			fmt.Fprintln(out, title.Render("Recipe YAML"))
			fmt.Fprintln(out, camp.RecipeYAML())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsCmd.AddCommand(campaignsShowCmd)
	campaignsShowCmd.Flags().Bool("recipe", false, "Also print the recipe YAML sent to the platform")
}
