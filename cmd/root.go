package cmd

import (
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var initOnce sync.Once

var rootCmd = &cobra.Command{
	Use:   "patchrun",
	Short: "Run vulnerability-fix campaigns across repositories",
	Long: `Patchrun drives fix campaigns against a code-transformation platform.

A campaign bundles an OpenRewrite recipe with the commit message, branch name
and pull request text used to publish its fixes. Patchrun submits the recipe
to the platform, tracks the run until every repository has a result, filters
out repositories that should not receive a pull request, and publishes
GPG-signed pull requests for the rest.

Re-running a campaign is safe: publishing is idempotent, so repositories with
an open or merged pull request are skipped.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initOnce.Do(func() {
			// Credentials and signing keys are commonly kept in a .env file.
			_ = godotenv.Load()

			verbose, _ := cmd.Flags().GetBool("verbose")
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		})
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("domain", "", "Platform domain (default app.moderne.io)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}
