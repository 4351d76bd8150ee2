// Package storage selects the backend for the session journal and the
// feedback outbox.
package storage

import (
	"fmt"

	"github.com/tjfontaine/televisit/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/storage/memory"
)

// Open returns the configured storage provider. Type "none" returns nil and
// disables journaling and redelivery.
func Open(cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "", "sqlite":
		p, err := sqlite.NewProvider(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return p, nil
	case "memory":
		return memory.New(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
