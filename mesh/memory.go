package mesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbocsi/gomesh/proto"
)

// MemoryTransport links nodes in the same process, mainly for tests and
// local tooling. Messages still pass through the wire codec so the
// behavior matches a real transport.
type MemoryTransport struct {
	onMessage    func(Link, *proto.Variant)
	onConnect    func(Link) error
	onDisconnect func(Link)

	name        string
	description string
	links       map[string]Link
	lmu         sync.RWMutex

	connected bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		name:        "In-Memory Transport",
		description: "In-memory links between nodes in the same process",
		links:       make(map[string]Link),
	}
}

func (t *MemoryTransport) Start() error {
	slog.Info("Starting in-memory transport")
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("The OnConnect, OnDisconnect, or OnMessage function is not defined. This transport is likely being started outside of a node.")
	}
	t.connected = true
	return nil
}

// Join connects two in-memory transports and returns each side's link to
// the other. Both transports must already be registered with their nodes.
func Join(a, b *MemoryTransport) (Link, Link, error) {
	if a.onConnect == nil || b.onConnect == nil {
		return nil, nil, fmt.Errorf("both transports must be registered with a node before joining")
	}

	la := &memoryLink{owner: a, LinkMetadata: LinkMetadata{ID: generateLinkID("mem"), Transport: a}}
	lb := &memoryLink{owner: b, LinkMetadata: LinkMetadata{ID: generateLinkID("mem"), Transport: b}}
	la.remote = lb
	lb.remote = la

	if err := a.register(la); err != nil {
		return nil, nil, err
	}
	if err := b.register(lb); err != nil {
		a.unregister(la)
		return nil, nil, err
	}
	return la, lb, nil
}

func (t *MemoryTransport) register(l *memoryLink) error {
	if err := t.onConnect(l); err != nil {
		return err
	}
	t.lmu.Lock()
	t.links[l.ID] = l
	t.lmu.Unlock()
	return nil
}

func (t *MemoryTransport) unregister(l *memoryLink) {
	t.lmu.Lock()
	delete(t.links, l.ID)
	t.lmu.Unlock()
	t.onDisconnect(l)
}

func (t *MemoryTransport) Shutdown() error {
	t.connected = false
	return nil
}

func (t *MemoryTransport) OnMessage(fn func(Link, *proto.Variant)) {
	t.onMessage = fn
}

func (t *MemoryTransport) OnConnect(fn func(Link) error) {
	t.onConnect = fn
}

func (t *MemoryTransport) OnDisconnect(fn func(Link)) {
	t.onDisconnect = fn
}

func (t *MemoryTransport) Meta() TransportMetadata {
	t.lmu.RLock()
	links := make(map[string]Link, len(t.links))
	for id, l := range t.links {
		links[id] = l
	}
	t.lmu.RUnlock()
	return TransportMetadata{
		Name:        t.name,
		Description: t.description,
		Protocol:    "memory",
		Address:     "in-memory",
		Links:       links,
		Connected:   t.connected,
	}
}

func (t *MemoryTransport) SetName(name string) {
	t.name = name
}

func (t *MemoryTransport) SetDescription(description string) {
	t.description = description
}

type memoryLink struct {
	LinkMetadata
	owner  *MemoryTransport
	remote *memoryLink
}

// Send serializes and reparses the envelope before handing it to the peer,
// so each side owns its own copy just like on a real wire.
func (l *memoryLink) Send(v *proto.Variant) error {
	data, err := v.Bytes()
	if err != nil {
		return err
	}
	nv := proto.ParseVariant(data)
	if nv.Err() != nil {
		return nv.Err()
	}
	l.remote.owner.onMessage(l.remote, nv)
	return nil
}

func (l *memoryLink) Meta() *LinkMetadata {
	return &l.LinkMetadata
}

// Close tears the connection down on both sides.
func (l *memoryLink) Close() {
	l.owner.unregister(l)
	l.remote.owner.unregister(l.remote)
}
