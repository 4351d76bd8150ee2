package domain

import (
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

// FeedbackRecord is the end-of-call rating and notes. Every field is optional.
type FeedbackRecord struct {
	Rating  *int   `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Validate checks that a present rating is within [MinRating, MaxRating].
func (r FeedbackRecord) Validate() error {
	if r.Rating != nil && (*r.Rating < MinRating || *r.Rating > MaxRating) {
		return ErrInvalidFeedback("rating must be between 1 and 5").
			WithCode(ErrorCodeRatingOutOfRange)
	}
	return nil
}

// Empty reports whether nothing was entered.
func (r FeedbackRecord) Empty() bool {
	return r.Rating == nil && strings.TrimSpace(r.Comment) == "" && strings.TrimSpace(r.Notes) == ""
}

// FeedbackSubmission is the payload forwarded to the feedback service.
type FeedbackSubmission struct {
	AppointmentID string    `json:"appointment_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Rating        *int      `json:"rating,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// FeedbackAck reports what happened to a submission.
type FeedbackAck struct {
	Delivered bool `json:"delivered"`
	// Skipped is set when the record was empty and nothing was sent.
	Skipped bool `json:"skipped,omitempty"`
	// Queued is set when a failed submission was kept for redelivery.
	Queued    bool   `json:"queued,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
