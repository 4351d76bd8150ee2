package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/televisit/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProviderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "televisit.yaml")
	writeConfig(t, path, "server:\n  addr: 127.0.0.1:9000\n")

	p, err := NewProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
}

func TestNewProviderEmptyPath(t *testing.T) {
	if _, err := NewProvider(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProviderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "televisit.yaml")
	writeConfig(t, path, "probe:\n  good_downlink_mbps: 4\n")

	p, _ := NewProvider(path)
	defer p.Close()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changes <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Invalid edit: fair above good. Must not be delivered.
	writeConfig(t, path, "probe:\n  good_downlink_mbps: 1\n  fair_downlink_mbps: 2\n")
	writeConfig(t, path, "probe:\n  good_downlink_mbps: 8\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Probe.FairDownlinkMbps > cfg.Probe.GoodDownlinkMbps {
				t.Fatalf("invalid config delivered: %+v", cfg.Probe)
			}
			if cfg.Probe.GoodDownlinkMbps == 8 {
				if p.Current().Probe.GoodDownlinkMbps != 8 {
					t.Error("Current() not updated")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
