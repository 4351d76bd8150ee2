// Package memory keeps the session journal and feedback outbox in process.
// It backs storage.type "memory" and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// Store is an in-memory ports.StorageProvider.
type Store struct {
	mu     sync.RWMutex
	events map[string][]*domain.LifecycleEvent
	seen   map[string]struct{}
	outbox []*ports.OutboxEntry
	nextID int64
}

var _ ports.StorageProvider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		events: make(map[string][]*domain.LifecycleEvent),
		seen:   make(map[string]struct{}),
	}
}

func (s *Store) AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[event.ID]; exists {
		return fmt.Errorf("lifecycle event %s already exists", event.ID)
	}
	cp := *event
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.seen[event.ID] = struct{}{}
	s.events[event.SessionID] = append(s.events[event.SessionID], &cp)
	return nil
}

func (s *Store) ListLifecycleEvents(ctx context.Context, sessionID string) ([]*domain.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.LifecycleEvent, 0, len(s.events[sessionID]))
	for _, ev := range s.events[sessionID] {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) EnqueueFeedback(ctx context.Context, sub *domain.FeedbackSubmission, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	cp := *sub
	s.outbox = append(s.outbox, &ports.OutboxEntry{
		ID:         s.nextID,
		Submission: &cp,
		Attempts:   1,
		LastError:  lastErr,
		QueuedAt:   time.Now(),
	})
	return nil
}

func (s *Store) PendingFeedback(ctx context.Context, limit int) ([]*ports.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*ports.OutboxEntry, 0, n)
	for _, e := range s.outbox[:n] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkFeedbackDelivered(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.outbox {
		if e.ID == id {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("outbox entry %d not found", id)
}

func (s *Store) RecordFeedbackAttempt(ctx context.Context, id int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == id {
			e.Attempts++
			e.LastError = lastErr
			return nil
		}
	}
	return fmt.Errorf("outbox entry %d not found", id)
}

// PendingCount returns the number of queued submissions.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outbox)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
