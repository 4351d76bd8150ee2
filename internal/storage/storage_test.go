package storage

import (
	"path/filepath"
	"testing"

	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/storage/memory"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantNil bool
		wantErr bool
	}{
		{name: "sqlite", cfg: config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "t.db")}}},
		{name: "memory", cfg: config.StorageConfig{Type: "memory"}},
		{name: "none", cfg: config.StorageConfig{Type: "none"}, wantNil: true},
		{name: "unknown", cfg: config.StorageConfig{Type: "postgres"}, wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Open(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (p == nil) != tt.wantNil {
				t.Fatalf("Open() = %v, wantNil %v", p, tt.wantNil)
			}
			if p != nil {
				defer p.Close()
			}
			if tt.name == "memory" {
				if _, ok := p.(*memory.Store); !ok {
					t.Errorf("Open(memory) = %T", p)
				}
			}
		})
	}
}
