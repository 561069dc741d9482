package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

var ingestFlags struct {
	id       string
	mediaID  string
	parentID string
	userID   string
	username string
	text     string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store a comment and queue it for classification",
	Run:   runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.id, "id", "", "comment id")
	f.StringVar(&ingestFlags.mediaID, "media", "", "media id")
	f.StringVar(&ingestFlags.parentID, "parent", "", "parent comment id for replies")
	f.StringVar(&ingestFlags.userID, "user-id", "", "author user id")
	f.StringVar(&ingestFlags.username, "username", "", "author username")
	f.StringVar(&ingestFlags.text, "text", "", "comment text")
	_ = ingestCmd.MarkFlagRequired("id")
	_ = ingestCmd.MarkFlagRequired("media")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()

	app := mustApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	c := &domain.Comment{
		ID:       ingestFlags.id,
		MediaID:  ingestFlags.mediaID,
		UserID:   ingestFlags.userID,
		Username: ingestFlags.username,
		Text:     ingestFlags.text,
	}
	if ingestFlags.parentID != "" {
		c.ParentID = domain.Ptr(ingestFlags.parentID)
	}

	res, err := app.Ingest.Ingest(ctx, c)
	if err != nil {
		slog.Error("Failed to ingest comment", "comment_id", c.ID, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Comment %s: %s %s\n", c.ID, res.Status, res.Reason)
}
