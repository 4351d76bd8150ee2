// Package sqlite provides the SQLite storage adapter for the agent.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/storage/sqlite"
)

// Provider implements ports.StorageProvider using SQLite.
type Provider struct {
	*sqlite.Store
}

// NewProvider opens the database at path, creating its directory when the
// path names a file on disk.
func NewProvider(path string) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.StorageProvider at compile time.
var _ ports.StorageProvider = (*Provider)(nil)
