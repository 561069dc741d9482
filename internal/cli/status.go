package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

var deadLetterLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show classification counts, queue sizes and dead letters",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&deadLetterLimit, "dead-letters", 20, "number of dead letters to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	counts, err := app.Repos.Classifications.CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count classifications", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CLASSIFICATION\tCOUNT")
	for _, s := range []domain.ProcessingStatus{
		domain.ProcessingPending,
		domain.ProcessingProcessing,
		domain.ProcessingRetry,
		domain.ProcessingCompleted,
		domain.ProcessingFailed,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
	}
	_ = w.Flush()
	fmt.Println()

	queues, err := app.QueueStats()
	if err != nil {
		slog.Error("Failed to inspect queues", "error", err)
		os.Exit(1)
	}
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tARCHIVED")
	for _, q := range queues {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Archived)
	}
	_ = w.Flush()
	fmt.Println()

	total, err := app.DeadLetters.Count(ctx)
	if err != nil {
		slog.Error("Failed to count dead letters", "error", err)
		os.Exit(1)
	}
	letters, err := app.DeadLetters.List(ctx, deadLetterLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Dead letters: %d\n", total)
	if len(letters) > 0 {
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "TASK\tCOMMENT\tATTEMPT\tREASON\tAT")
		for _, dl := range letters {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				dl.Task, dl.CommentID, dl.Attempt, dl.Reason, dl.CreatedAt.Format(time.RFC3339))
		}
		_ = w.Flush()
	}

	report, err := app.Reporter.Latest(ctx)
	if err != nil {
		slog.Warn("Failed to load latest stats report", "error", err)
		return
	}
	if report != nil {
		s := report.Payload
		fmt.Printf("\nLast report %s - %s: %d comments, %d answers, %d replies, %d hidden, %d deleted\n",
			report.PeriodStart.Format(time.RFC3339), report.PeriodEnd.Format(time.RFC3339),
			s.CommentsReceived, s.AnswersGenerated, s.RepliesSent, s.CommentsHidden, s.CommentsDeleted)
	}
}
