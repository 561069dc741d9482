package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Publish manual answers",
}

var answerCreateCmd = &cobra.Command{
	Use:   "create [comment_id] [text...]",
	Short: "Send a manual reply, replacing the active answer if there is one",
	Args:  cobra.MinimumNArgs(2),
	Run:   runAnswerCreate,
}

var answerReplaceCmd = &cobra.Command{
	Use:   "replace [answer_id] [text...]",
	Short: "Retract an answer's reply and publish new text",
	Args:  cobra.MinimumNArgs(2),
	Run:   runAnswerReplace,
}

func init() {
	answerCmd.AddCommand(answerCreateCmd, answerReplaceCmd)
	rootCmd.AddCommand(answerCmd)
}

func runAnswerCreate(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	a, err := app.Lifecycle.Submit(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		slog.Error("Failed to create answer", "comment_id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Answer %d sent as reply %s\n", a.ID, replyID(a))
}

func runAnswerReplace(cmd *cobra.Command, args []string) {
	answerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid answer id: %v\n", err)
		os.Exit(1)
	}

	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	a, err := app.Lifecycle.Replace(ctx, answerID, strings.Join(args[1:], " "))
	if err != nil {
		slog.Error("Failed to replace answer", "answer_id", answerID, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Answer %d replaced by %d (reply %s)\n", answerID, a.ID, replyID(a))
}

func replyID(a *domain.Answer) string {
	if a.ReplyID == nil {
		return "-"
	}
	return *a.ReplyID
}
