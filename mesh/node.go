package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/gomesh/proto"
	"github.com/mbocsi/gomesh/telemetry"
)

type NodeOptions struct {
	ID   uint32 // mesh node id, assigned externally
	Root bool   // whether this node is the mesh's designated root

	Clock func() uint32 // monotonic-ish local clock for time sync (optional)

	OnSingle     func(proto.Single)                // delivery of singles addressed to this node
	OnBroadcast  func(proto.Broadcast)             // delivery of broadcasts
	OnTimeOffset func(peer, t0, t1, t2, t3 uint32) // completed clock-offset rounds
	OnTopology   func(tree proto.NodeTree)         // topology view changed
}

// Node ties the wire-protocol layer to a set of transports: it owns the
// neighbour links, the routing table derived from node-sync subtrees, and
// the stateful halves of the sync mini-protocols.
type Node struct {
	id    uint32
	root  bool
	clock func() uint32

	mu         sync.RWMutex
	neighbours map[string]Link           // link id -> link
	subs       map[string]proto.NodeTree // link id -> last subtree advertised on that link
	routes     map[uint32]string         // node id -> link id of the next hop

	transports []Transport

	onSingle     func(proto.Single)
	onBroadcast  func(proto.Broadcast)
	onTimeOffset func(peer, t0, t1, t2, t3 uint32)
	onTopology   func(proto.NodeTree)
}

func NewNode(opts NodeOptions) *Node {
	if opts.Clock == nil {
		opts.Clock = func() uint32 { return uint32(time.Now().UnixMicro()) }
	}
	return &Node{
		id:           opts.ID,
		root:         opts.Root,
		clock:        opts.Clock,
		neighbours:   make(map[string]Link),
		subs:         make(map[string]proto.NodeTree),
		routes:       make(map[uint32]string),
		onSingle:     opts.OnSingle,
		onBroadcast:  opts.OnBroadcast,
		onTimeOffset: opts.OnTimeOffset,
		onTopology:   opts.OnTopology,
	}
}

func (n *Node) ID() uint32 {
	return n.id
}

func (n *Node) IsRoot() bool {
	return n.root
}

func (n *Node) RegisterTransport(t Transport) {
	t.OnMessage(n.Handle)
	t.OnConnect(n.addNeighbour)
	t.OnDisconnect(n.removeNeighbour)
	n.transports = append(n.transports, t)
}

func (n *Node) Transports() []Transport {
	return n.transports
}

// Start runs all registered transports until the context is cancelled.
func (n *Node) Start(ctx context.Context) error {
	for _, t := range n.transports {
		go func(t Transport) {
			if err := t.Start(); err != nil {
				slog.Error("Transport exited", "protocol", t.Meta().Protocol, "error", err.Error())
			}
		}(t)
	}

	<-ctx.Done()
	slog.Info("Shutting down transports")

	for _, t := range n.transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down a transport", "error", err.Error())
		}
	}
	return nil
}

// addNeighbour stores the new link and opens the topology exchange on it.
// The neighbour's node id is unknown until its sync arrives, so the first
// request goes out with dest 0.
func (n *Node) addNeighbour(l Link) error {
	n.mu.Lock()
	n.neighbours[l.Meta().ID] = l
	n.mu.Unlock()

	slog.Info("Registered neighbour link", "id", l.Meta().ID)

	req := proto.BuildNodeSyncRequest(n.id, l.Meta().GetNodeID(), n.subtreesExcept(l.Meta().ID), n.root)
	if err := l.Send(proto.NewVariant(req)); err != nil {
		return fmt.Errorf("initial node sync on %s: %w", l.Meta().ID, err)
	}
	return nil
}

func (n *Node) removeNeighbour(l Link) {
	n.mu.Lock()
	delete(n.neighbours, l.Meta().ID)
	delete(n.subs, l.Meta().ID)
	n.rebuildRoutesLocked()
	n.mu.Unlock()

	slog.Info("Removed neighbour link", "id", l.Meta().ID)
	n.notifyTopology()
}

// storeSubtree records the subtree a neighbour advertised and refreshes
// the routing table with every node reachable through it.
func (n *Node) storeSubtree(l Link, tree proto.NodeTree) {
	l.Meta().SetNodeID(tree.NodeID)

	n.mu.Lock()
	n.subs[l.Meta().ID] = tree
	n.rebuildRoutesLocked()
	n.mu.Unlock()

	slog.Debug("Stored neighbour subtree", "link", l.Meta().ID, "nodeId", tree.NodeID, "known", len(tree.KnownNodes))
	n.notifyTopology()
}

func (n *Node) rebuildRoutesLocked() {
	n.routes = make(map[uint32]string, len(n.routes))
	for linkID, sub := range n.subs {
		n.routes[sub.NodeID] = linkID
		for _, id := range sub.KnownNodes {
			n.routes[id] = linkID
		}
	}
	telemetry.KnownNodes.Set(float64(len(n.routes)))
}

// subtreesExcept returns the subtrees advertised on every link but the
// given one, ordered by node id so repeated syncs produce identical
// requests.
func (n *Node) subtreesExcept(linkID string) []proto.NodeTree {
	n.mu.RLock()
	defer n.mu.RUnlock()

	subs := make([]proto.NodeTree, 0, len(n.subs))
	for id, sub := range n.subs {
		if id != linkID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].NodeID < subs[j].NodeID })
	return subs
}

func (n *Node) linkFor(dest uint32) Link {
	n.mu.RLock()
	defer n.mu.RUnlock()

	linkID, ok := n.routes[dest]
	if !ok {
		return nil
	}
	return n.neighbours[linkID]
}

// Topology returns this node's current view of the mesh as a subtree
// rooted at itself.
func (n *Node) Topology() proto.NodeTree {
	return proto.BuildNodeSyncRequest(n.id, 0, n.subtreesExcept(""), n.root).NodeTree
}

type NeighbourInfo struct {
	LinkID   string `json:"link_id"`
	NodeID   uint32 `json:"node_id"`
	Protocol string `json:"protocol"`
}

func (n *Node) Neighbours() []NeighbourInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]NeighbourInfo, 0, len(n.neighbours))
	for _, l := range n.neighbours {
		info := NeighbourInfo{LinkID: l.Meta().ID, NodeID: l.Meta().GetNodeID()}
		if l.Meta().Transport != nil {
			info.Protocol = l.Meta().Transport.Meta().Protocol
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out
}

// SendSingle routes an application payload toward the given node.
func (n *Node) SendSingle(dest uint32, msg string) error {
	link := n.linkFor(dest)
	if link == nil {
		telemetry.MessagesDropped.WithLabelValues("no_route").Inc()
		return fmt.Errorf("no route to node %d", dest)
	}
	return link.Send(proto.NewVariant(proto.NewSingle(n.id, dest, msg)))
}

// SendBroadcast floods an application payload to every neighbour.
func (n *Node) SendBroadcast(msg string) {
	v := proto.NewVariant(proto.NewBroadcast(n.id, 0, msg))

	n.mu.RLock()
	links := make([]Link, 0, len(n.neighbours))
	for _, l := range n.neighbours {
		links = append(links, l)
	}
	n.mu.RUnlock()

	for _, l := range links {
		if err := l.Send(v); err != nil {
			slog.Warn("Failed to send broadcast on link", "link", l.Meta().ID, "error", err.Error())
		}
	}
}

// SyncAll re-advertises this node's topology view on every link. Called
// periodically by the embedding process so dropped updates heal.
func (n *Node) SyncAll() {
	n.mu.RLock()
	links := make([]Link, 0, len(n.neighbours))
	for _, l := range n.neighbours {
		links = append(links, l)
	}
	n.mu.RUnlock()

	for _, l := range links {
		req := proto.BuildNodeSyncRequest(n.id, l.Meta().GetNodeID(), n.subtreesExcept(l.Meta().ID), n.root)
		if err := l.Send(proto.NewVariant(req)); err != nil {
			slog.Warn("Failed to send node sync", "link", l.Meta().ID, "error", err.Error())
		}
	}
}

// SyncTime opens a clock-offset round with the neighbour on the given
// link; the result arrives through OnTimeOffset.
func (n *Node) SyncTime(l Link) error {
	return l.Send(proto.NewVariant(proto.NewTimeSyncRequest(n.id, l.Meta().GetNodeID())))
}

// MeasureDelay opens a one-shot delay measurement with a possibly distant
// node.
func (n *Node) MeasureDelay(dest uint32) error {
	link := n.linkFor(dest)
	if link == nil {
		return fmt.Errorf("no route to node %d", dest)
	}
	return link.Send(proto.NewVariant(proto.NewTimeDelay(n.id, dest, n.clock())))
}

func (n *Node) notifyTopology() {
	if n.onTopology != nil {
		n.onTopology(n.Topology())
	}
}
