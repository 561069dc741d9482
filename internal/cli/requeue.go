package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [comment_id]",
	Short: "Reset a comment's classification and queue it again",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	if err := app.Requeue(ctx, args[0]); err != nil {
		slog.Error("Failed to requeue comment", "comment_id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Queued classification for %s\n", args[0])
}
