package domain

import (
	"strings"
	"time"
)

// ProcessingStatus is shared by classification and answer generation.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingProcessing ProcessingStatus = "PROCESSING"
	ProcessingCompleted  ProcessingStatus = "COMPLETED"
	ProcessingFailed     ProcessingStatus = "FAILED"
	ProcessingRetry      ProcessingStatus = "RETRY"
)

// Classification is the LLM verdict for one comment.
type Classification struct {
	ID                    int64            `json:"id"                      db:"id"`
	CommentID             string           `json:"comment_id"              db:"comment_id"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"       db:"processing_status"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at"   db:"processing_started_at"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at" db:"processing_completed_at"`
	RetryCount            int              `json:"retry_count"             db:"retry_count"`
	MaxRetries            int              `json:"max_retries"             db:"max_retries"`
	LastError             *string          `json:"last_error"              db:"last_error"`
	Type                  *string          `json:"type"                    db:"type"`
	Confidence            *int             `json:"confidence"              db:"confidence"` // percent
	Reasoning             *string          `json:"reasoning"               db:"reasoning"`
	InputTokens           *int             `json:"input_tokens"            db:"input_tokens"`
	OutputTokens          *int             `json:"output_tokens"           db:"output_tokens"`
	CreatedAt             time.Time        `json:"created_at"              db:"created_at"`
}

// TypeName returns the normalized classification type.
func (c *Classification) TypeName() string {
	if c.Type == nil {
		return ""
	}
	return NormalizeType(*c.Type)
}

// ClassificationOutcome is what the classifier returns.
type ClassificationOutcome struct {
	Type         string
	Confidence   float64
	Reasoning    string
	Model        string
	InputTokens  int
	OutputTokens int
}

// AnswerOutcome is what the answer generator returns.
type AnswerOutcome struct {
	Text         string
	Confidence   float64
	QualityScore int
	Model        string
	InputTokens  int
	OutputTokens int
}

// Classification types produced by the classifier.
const (
	TypePositiveFeedback    = "positive feedback"
	TypeCriticalFeedback    = "critical feedback"
	TypeUrgentIssue         = "urgent issue / complaint"
	TypeQuestion            = "question / inquiry"
	TypePartnershipProposal = "partnership proposal"
	TypeToxic               = "toxic / abusive"
	TypeSpam                = "spam / irrelevant"
)

// KnownTypes lists every classification type in prompt order.
var KnownTypes = []string{
	TypePositiveFeedback,
	TypeCriticalFeedback,
	TypeUrgentIssue,
	TypeQuestion,
	TypePartnershipProposal,
	TypeToxic,
	TypeSpam,
}

// NormalizeType lowercases and trims a classification type.
func NormalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
