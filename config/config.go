package config

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config holds the static setup of one mesh node. Everything beyond the
// node id has a usable default; the id itself defaults to a random value
// the way a factory-fresh device would derive one from its hardware seed.
type Config struct {
	NodeID uint32
	Root   bool

	TCPAddr string   // listen address for TCP links, empty disables
	WSAddr  string   // listen address for WebSocket links, empty disables
	WebAddr string   // status/metrics HTTP address, empty disables
	Peers   []string // neighbour addresses to dial on startup

	Discovery    bool          // advertise and look up peers over mDNS
	SyncInterval time.Duration // periodic node-sync interval
}

type fileConfig struct {
	NodeID       uint32   `toml:"node_id"`
	Root         bool     `toml:"root"`
	TCPAddr      string   `toml:"tcp_addr"`
	WSAddr       string   `toml:"ws_addr"`
	WebAddr      string   `toml:"web_addr"`
	Peers        []string `toml:"peers"`
	Discovery    bool     `toml:"discovery"`
	SyncInterval string   `toml:"sync_interval"`
}

func Default() Config {
	return Config{
		NodeID:       randomNodeID(),
		TCPAddr:      "0.0.0.0:5555",
		SyncInterval: 10 * time.Second,
	}
}

// Load reads a node config from a TOML file, applying defaults for
// anything left out.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load node config: %w", err)
	}

	if meta.IsDefined("node_id") {
		if raw.NodeID == 0 {
			return Config{}, fmt.Errorf("node_id 0 is reserved")
		}
		cfg.NodeID = raw.NodeID
	}
	if meta.IsDefined("root") {
		cfg.Root = raw.Root
	}
	if meta.IsDefined("tcp_addr") {
		cfg.TCPAddr = strings.TrimSpace(raw.TCPAddr)
	}
	if meta.IsDefined("ws_addr") {
		cfg.WSAddr = strings.TrimSpace(raw.WSAddr)
	}
	if meta.IsDefined("web_addr") {
		cfg.WebAddr = strings.TrimSpace(raw.WebAddr)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizePeers(raw.Peers)
	}
	if meta.IsDefined("discovery") {
		cfg.Discovery = raw.Discovery
	}
	if meta.IsDefined("sync_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SyncInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse sync_interval: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("sync_interval must be positive")
		}
		cfg.SyncInterval = d
	}

	if cfg.TCPAddr == "" && cfg.WSAddr == "" {
		return Config{}, fmt.Errorf("at least one of tcp_addr or ws_addr must be set")
	}

	return cfg, nil
}

func normalizePeers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, peer := range in {
		v := strings.TrimSpace(peer)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// randomNodeID derives a node id from fresh UUID bytes. 0 is reserved as
// "no destination" on the wire, so it is never handed out.
func randomNodeID() uint32 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint32(u[0:4]); id != 0 {
			return id
		}
	}
}
