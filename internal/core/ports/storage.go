package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

// JournalStore records session lifecycle events for audit.
type JournalStore interface {
	// AppendLifecycleEvent appends an event to the session journal.
	AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error

	// ListLifecycleEvents returns a session's events ordered by time.
	ListLifecycleEvents(ctx context.Context, sessionID string) ([]*domain.LifecycleEvent, error)
}

// OutboxEntry is a feedback submission awaiting redelivery.
type OutboxEntry struct {
	ID         int64                      `json:"id"`
	Submission *domain.FeedbackSubmission `json:"submission"`
	Attempts   int                        `json:"attempts"`
	LastError  string                     `json:"last_error,omitempty"`
	QueuedAt   time.Time                  `json:"queued_at"`
}

// FeedbackOutbox keeps feedback that could not be delivered.
type FeedbackOutbox interface {
	// EnqueueFeedback stores a failed submission with the error that caused it.
	EnqueueFeedback(ctx context.Context, submission *domain.FeedbackSubmission, lastErr string) error

	// PendingFeedback returns undelivered entries, oldest first.
	PendingFeedback(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// MarkFeedbackDelivered removes an entry from the pending set.
	MarkFeedbackDelivered(ctx context.Context, id int64) error

	// RecordFeedbackAttempt notes another failed delivery attempt.
	RecordFeedbackAttempt(ctx context.Context, id int64, lastErr string) error
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default).
type StorageProvider interface {
	JournalStore
	FeedbackOutbox

	Close() error
}
