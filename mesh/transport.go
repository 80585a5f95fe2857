package mesh

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/gomesh/proto"
)

// Transport accepts neighbour links and moves wire envelopes across them.
// The message callback receives the arrival link so broadcast handling can
// skip re-flooding to the sender.
type Transport interface {
	Start() error
	OnMessage(func(Link, *proto.Variant))
	OnConnect(func(Link) error)
	OnDisconnect(func(Link))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	Name        string // Human-friendly name, e.g., "LAN TCP links"
	Protocol    string // Protocol name, e.g., "tcp", "websocket", "memory"
	Address     string // Bind address, e.g., "0.0.0.0:5555"
	Description string // Optional, short purpose/use case

	Links     map[string]Link // Current active neighbour links
	MaxLinks  int             // Max allowed links (if applicable, else 0)
	Connected bool            // Whether the transport is currently running/bound
}

// Link is one direct connection to a neighbour node.
type Link interface {
	Send(v *proto.Variant) error
	Meta() *LinkMetadata
}

type LinkMetadata struct {
	ID        string // transport-assigned link id
	NodeID    uint32 // neighbour's mesh node id, 0 until learned from a sync
	LastSeen  time.Time
	Transport Transport
	Mu        sync.RWMutex
}

// SetNodeID records the neighbour's node id once it is learned from a
// node-sync exchange.
func (m *LinkMetadata) SetNodeID(id uint32) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.NodeID = id
	m.LastSeen = time.Now()
}

func (m *LinkMetadata) GetNodeID() uint32 {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return m.NodeID
}

func generateLinkID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
