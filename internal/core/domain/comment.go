package domain

import (
	"fmt"
	"time"
)

// Comment is an inbound platform comment. Replies point to their parent via ParentID.
type Comment struct {
	ID             string     `json:"id"              db:"id"`
	Platform       Platform   `json:"platform"        db:"platform"`
	MediaID        string     `json:"media_id"        db:"media_id"`
	ParentID       *string    `json:"parent_id"       db:"parent_id"`
	UserID         string     `json:"user_id"         db:"user_id"`
	Username       string     `json:"username"        db:"username"`
	Text           string     `json:"text"            db:"text"`
	CreatedAt      time.Time  `json:"created_at"      db:"created_at"`
	ConversationID *string    `json:"conversation_id" db:"conversation_id"`
	IsHidden       bool       `json:"is_hidden"       db:"is_hidden"`
	HiddenAt       *time.Time `json:"hidden_at"       db:"hidden_at"`
	HiddenByAI     bool       `json:"hidden_by_ai"    db:"hidden_by_ai"`
	IsDeleted      bool       `json:"is_deleted"      db:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"      db:"deleted_at"`
	DeletedByAI    bool       `json:"deleted_by_ai"   db:"deleted_by_ai"`
}

// RootID returns the id of the top-level comment of the thread.
// Only one level of nesting exists on the platform.
func (c *Comment) RootID() string {
	if c.ParentID != nil && *c.ParentID != "" {
		return *c.ParentID
	}
	return c.ID
}

// ConversationKey builds the conversation identifier shared by a thread.
func ConversationKey(rootID string) string {
	return fmt.Sprintf("first_question_comment_%s", rootID)
}

// Platform names the network a comment was posted on.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
)

// Initiator identifies who triggered a moderation action.
type Initiator string

const (
	InitiatorManual Initiator = "manual"
	InitiatorAI     Initiator = "ai"
)
