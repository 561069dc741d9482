package domain

import (
	"math"
	"time"
)

// ReplyStatus tracks the external reply attached to an answer.
type ReplyStatus string

const (
	ReplyStatusNone    ReplyStatus = "none"
	ReplyStatusSent    ReplyStatus = "sent"
	ReplyStatusFailed  ReplyStatus = "failed"
	ReplyStatusDeleted ReplyStatus = "deleted"
)

const (
	// MaxQualityScore is the quality ceiling, also applied to manual overrides.
	MaxQualityScore = 100
	// ManualConfidence is the confidence given to manual answers.
	ManualConfidence = 1.0
)

// Answer is a question_messages_answers row.
// At most one row per comment has IsDeleted == false.
type Answer struct {
	ID                    int64            `json:"id"                      db:"id"`
	CommentID             string           `json:"comment_id"              db:"comment_id"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"       db:"processing_status"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at"   db:"processing_started_at"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at" db:"processing_completed_at"`
	RetryCount            int              `json:"retry_count"             db:"retry_count"`
	MaxRetries            int              `json:"max_retries"             db:"max_retries"`
	LastError             *string          `json:"last_error"              db:"last_error"`
	Text                  *string          `json:"answer"                  db:"answer"`
	Confidence            *float64         `json:"answer_confidence"       db:"answer_confidence"`
	QualityScore          *int             `json:"answer_quality_score"    db:"answer_quality_score"`
	InputTokens           *int             `json:"input_tokens"            db:"input_tokens"`
	OutputTokens          *int             `json:"output_tokens"           db:"output_tokens"`
	ProcessingTimeMs      *int             `json:"processing_time_ms"      db:"processing_time_ms"`
	IsAIGenerated         bool             `json:"is_ai_generated"         db:"is_ai_generated"`
	ReplySent             bool             `json:"reply_sent"              db:"reply_sent"`
	ReplySentAt           *time.Time       `json:"reply_sent_at"           db:"reply_sent_at"`
	ReplyStatus           ReplyStatus      `json:"reply_status"            db:"reply_status"`
	ReplyError            *string          `json:"reply_error"             db:"reply_error"`
	ReplyID               *string          `json:"reply_id"                db:"reply_id"`
	IsDeleted             bool             `json:"is_deleted"              db:"is_deleted"`
	CreatedAt             time.Time        `json:"created_at"              db:"created_at"`
}

// AnswerText returns the answer text or "" when none was produced yet.
func (a *Answer) AnswerText() string {
	if a.Text == nil {
		return ""
	}
	return *a.Text
}

// HasSentReply reports whether an external reply exists that must be retracted
// before the answer can be superseded.
func (a *Answer) HasSentReply() bool {
	return a.ReplySent && a.ReplyID != nil && *a.ReplyID != ""
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	c := *a
	c.ProcessingStartedAt = clonePtr(a.ProcessingStartedAt)
	c.ProcessingCompletedAt = clonePtr(a.ProcessingCompletedAt)
	c.LastError = clonePtr(a.LastError)
	c.Text = clonePtr(a.Text)
	c.Confidence = clonePtr(a.Confidence)
	c.QualityScore = clonePtr(a.QualityScore)
	c.InputTokens = clonePtr(a.InputTokens)
	c.OutputTokens = clonePtr(a.OutputTokens)
	c.ProcessingTimeMs = clonePtr(a.ProcessingTimeMs)
	c.ReplySentAt = clonePtr(a.ReplySentAt)
	c.ReplyError = clonePtr(a.ReplyError)
	c.ReplyID = clonePtr(a.ReplyID)
	return &c
}

// ConfidenceToPercent converts a 0.0-1.0 confidence into an integer percentage.
func ConfidenceToPercent(c float64) int {
	return int(math.Round(c * 100))
}

// PercentToConfidence converts an integer percentage back into a 0.0-1.0 fraction.
func PercentToConfidence(p int) float64 {
	return float64(p) / 100
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
