// Package direct provides an event publisher that writes to the session
// journal.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for a single agent.
type Publisher struct {
	store ports.JournalStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.StorageProvider) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider required")
	}

	return &Publisher{
		store: store,
	}, nil
}

// Publish appends a lifecycle event to the journal.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return nil
	}
	if err := p.store.AppendLifecycleEvent(ctx, event); err != nil {
		return fmt.Errorf("journal %s: %w", event.Type, err)
	}
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
