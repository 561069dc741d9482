package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var beatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Run the periodic scheduler (classification sweep, stats report)",
	Run:   runBeat,
}

func init() {
	rootCmd.AddCommand(beatCmd)
}

func runBeat(cmd *cobra.Command, args []string) {
	cfg := setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := mustApp(ctx, cfg)
	if err := app.StartBeat(ctx); err != nil {
		slog.Error("Failed to start beat", "error", err)
		_ = app.Stop(ctx)
		os.Exit(1)
	}

	waitAndStop(app, cfg.Tasks.ShutdownTimeout)
}
