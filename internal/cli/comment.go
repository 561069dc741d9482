package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

var unhide bool

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Moderate a single comment",
}

var commentDeleteCmd = &cobra.Command{
	Use:   "delete [comment_id]",
	Short: "Delete a comment on the platform and mark its thread deleted",
	Args:  cobra.ExactArgs(1),
	Run:   runCommentDelete,
}

var commentHideCmd = &cobra.Command{
	Use:   "hide [comment_id]",
	Short: "Queue hiding (or with --unhide, unhiding) a comment",
	Args:  cobra.ExactArgs(1),
	Run:   runCommentHide,
}

func init() {
	commentHideCmd.Flags().BoolVar(&unhide, "unhide", false, "make the comment visible again")
	commentCmd.AddCommand(commentDeleteCmd, commentHideCmd)
	rootCmd.AddCommand(commentCmd)
}

func runCommentDelete(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	res := app.Lifecycle.Delete(ctx, args[0], domain.InitiatorManual)
	if res.Status != domain.StatusSuccess && res.Status != domain.StatusSkipped {
		slog.Error("Failed to delete comment", "comment_id", args[0], "status", res.Status, "reason", res.Reason)
		os.Exit(1)
	}
	fmt.Printf("Comment %s: %s %s\n", args[0], res.Status, res.Reason)
}

func runCommentHide(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	queued := app.Dispatcher.Dispatch(ctx, tasks.TaskHideComment, tasks.Payload{
		CommentID: args[0],
		Hide:      !unhide,
		Initiator: domain.InitiatorManual,
	})
	if !queued {
		os.Exit(1)
	}
	fmt.Printf("Queued hide=%t for %s\n", !unhide, args[0])
}
