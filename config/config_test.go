package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
node_id = 42
root = true
tcp_addr = "0.0.0.0:6000"
peers = ["10.0.0.2:5555", " 10.0.0.3:5555 ", ""]
sync_interval = "30s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NodeID != 42 {
		t.Errorf("Expected node id 42, got %d", cfg.NodeID)
	}
	if !cfg.Root {
		t.Error("Expected root=true")
	}
	if cfg.TCPAddr != "0.0.0.0:6000" {
		t.Errorf("Unexpected tcp addr: %q", cfg.TCPAddr)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != "10.0.0.2:5555" || cfg.Peers[1] != "10.0.0.3:5555" {
		t.Errorf("Unexpected peers: %v", cfg.Peers)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("Unexpected sync interval: %v", cfg.SyncInterval)
	}
}

func TestLoad_GeneratesNodeID(t *testing.T) {
	path := writeConfig(t, `tcp_addr = "0.0.0.0:6000"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NodeID == 0 {
		t.Error("Expected a generated non-zero node id")
	}
	if cfg.SyncInterval != 10*time.Second {
		t.Errorf("Expected default sync interval, got %v", cfg.SyncInterval)
	}
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"reserved node id", "node_id = 0\ntcp_addr = \"0.0.0.0:6000\"\n"},
		{"no listen address", "node_id = 1\ntcp_addr = \"\"\n"},
		{"bad sync interval", "tcp_addr = \"0.0.0.0:6000\"\nsync_interval = \"soon\"\n"},
		{"negative sync interval", "tcp_addr = \"0.0.0.0:6000\"\nsync_interval = \"-5s\"\n"},
	}

	for _, tt := range tests {
		path := writeConfig(t, tt.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected load to fail", tt.name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected load of missing file to fail")
	}
}
