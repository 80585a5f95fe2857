package mesh

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mbocsi/gomesh/proto"
	"github.com/mbocsi/gomesh/telemetry"
)

// testClock hands out strictly increasing readings from a fixed base so
// time-sync rounds are deterministic.
func testClock(base uint32) func() uint32 {
	var mu sync.Mutex
	next := base
	return func() uint32 {
		mu.Lock()
		defer mu.Unlock()
		v := next
		next++
		return v
	}
}

type recorder struct {
	mu         sync.Mutex
	singles    []proto.Single
	broadcasts []proto.Broadcast
	offsets    [][5]uint32 // peer, t0, t1, t2, t3
}

func (r *recorder) options(id uint32, root bool, clockBase uint32) NodeOptions {
	return NodeOptions{
		ID:    id,
		Root:  root,
		Clock: testClock(clockBase),
		OnSingle: func(s proto.Single) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.singles = append(r.singles, s)
		},
		OnBroadcast: func(b proto.Broadcast) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.broadcasts = append(r.broadcasts, b)
		},
		OnTimeOffset: func(peer, t0, t1, t2, t3 uint32) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.offsets = append(r.offsets, [5]uint32{peer, t0, t1, t2, t3})
		},
	}
}

func newTestNode(t *testing.T, opts NodeOptions) (*Node, *MemoryTransport) {
	t.Helper()
	node := NewNode(opts)
	transport := NewMemoryTransport()
	node.RegisterTransport(transport)
	if err := transport.Start(); err != nil {
		t.Fatalf("Failed to start transport: %v", err)
	}
	return node, transport
}

func join(t *testing.T, a, b *MemoryTransport) (Link, Link) {
	t.Helper()
	la, lb, err := Join(a, b)
	if err != nil {
		t.Fatalf("Failed to join transports: %v", err)
	}
	return la, lb
}

func containsNode(list []uint32, id uint32) bool {
	for _, n := range list {
		if n == id {
			return true
		}
	}
	return false
}

func TestJoin_TopologyExchange(t *testing.T) {
	var r1, r2 recorder
	n1, t1 := newTestNode(t, r1.options(1, true, 100))
	n2, t2 := newTestNode(t, r2.options(2, false, 200))

	la, lb := join(t, t1, t2)

	if !containsNode(n1.Topology().KnownNodes, 2) {
		t.Errorf("Expected node 1 to know node 2, got %v", n1.Topology().KnownNodes)
	}
	if !containsNode(n2.Topology().KnownNodes, 1) {
		t.Errorf("Expected node 2 to know node 1, got %v", n2.Topology().KnownNodes)
	}
	if got := la.Meta().GetNodeID(); got != 2 {
		t.Errorf("Expected link to learn neighbour id 2, got %d", got)
	}
	if got := lb.Meta().GetNodeID(); got != 1 {
		t.Errorf("Expected link to learn neighbour id 1, got %d", got)
	}

	// Node 1 is root, so node 2's view must contain it.
	if !n2.Topology().ContainsRoot {
		t.Error("Expected node 2's topology to contain the root")
	}
	if n1.Topology().ContainsRoot {
		t.Error("Node 1 is the root itself; containsRoot tracks reachability through subtrees")
	}
}

// Three nodes in a chain. After the middle node re-advertises, the edges
// learn about each other and singles are forwarded hop by hop.
func chain(t *testing.T) (nodes [3]*Node, recs [3]*recorder) {
	t.Helper()
	var transports [3]*MemoryTransport
	for i := range nodes {
		recs[i] = &recorder{}
		nodes[i], transports[i] = newTestNode(t, recs[i].options(uint32(i+1), false, uint32(100*(i+1))))
	}
	join(t, transports[0], transports[1])
	join(t, transports[1], transports[2])
	nodes[1].SyncAll()
	return nodes, recs
}

func TestChain_RoutesLearnedTransitively(t *testing.T) {
	nodes, _ := chain(t)

	if !containsNode(nodes[0].Topology().KnownNodes, 3) {
		t.Errorf("Expected node 1 to learn about node 3, got %v", nodes[0].Topology().KnownNodes)
	}
	if !containsNode(nodes[2].Topology().KnownNodes, 1) {
		t.Errorf("Expected node 3 to learn about node 1, got %v", nodes[2].Topology().KnownNodes)
	}

	known := nodes[1].Topology().KnownNodes
	if !containsNode(known, 1) || !containsNode(known, 3) {
		t.Errorf("Expected middle node to know both edges, got %v", known)
	}
}

func TestChain_SingleForwardedToDestination(t *testing.T) {
	nodes, recs := chain(t)

	if err := nodes[0].SendSingle(3, "hello across the mesh"); err != nil {
		t.Fatalf("Failed to send single: %v", err)
	}

	recs[2].mu.Lock()
	defer recs[2].mu.Unlock()
	if len(recs[2].singles) != 1 {
		t.Fatalf("Expected 1 single at node 3, got %d", len(recs[2].singles))
	}
	got := recs[2].singles[0]
	if got.From != 1 || got.Dest != 3 || got.Msg != "hello across the mesh" {
		t.Errorf("Unexpected delivery: %+v", got)
	}

	// The middle node forwards without handling.
	recs[1].mu.Lock()
	defer recs[1].mu.Unlock()
	if len(recs[1].singles) != 0 {
		t.Errorf("Expected middle node not to handle the single, got %d", len(recs[1].singles))
	}
}

func TestSendSingle_NoRoute(t *testing.T) {
	var r recorder
	n, _ := newTestNode(t, r.options(1, false, 100))

	if err := n.SendSingle(99, "nobody home"); err == nil {
		t.Error("Expected send to unknown destination to fail")
	}
}

func TestChain_BroadcastFloodsExceptOrigin(t *testing.T) {
	nodes, recs := chain(t)

	nodes[0].SendBroadcast("to everyone")

	for i := 1; i < 3; i++ {
		recs[i].mu.Lock()
		if len(recs[i].broadcasts) != 1 {
			t.Errorf("Expected node %d to receive the broadcast once, got %d", i+1, len(recs[i].broadcasts))
		} else if recs[i].broadcasts[0].Msg != "to everyone" {
			t.Errorf("Unexpected broadcast payload: %+v", recs[i].broadcasts[0])
		}
		recs[i].mu.Unlock()
	}

	// The origin never handles its own broadcast.
	recs[0].mu.Lock()
	defer recs[0].mu.Unlock()
	if len(recs[0].broadcasts) != 0 {
		t.Errorf("Expected origin to receive nothing, got %d", len(recs[0].broadcasts))
	}
}

func TestTimeSync_FourTimestampRound(t *testing.T) {
	var r1, r2 recorder
	n1, t1 := newTestNode(t, r1.options(1, false, 100))
	_, t2 := newTestNode(t, r2.options(2, false, 200))

	la, _ := join(t, t1, t2)

	if err := n1.SyncTime(la); err != nil {
		t.Fatalf("Failed to start time sync: %v", err)
	}

	// The responder holds the completed round: node 2 saw arrival 200,
	// replied with t0 201, node 1 filled t1 100 / t2 101, and node 2's
	// receipt of the final reply read 202.
	r2.mu.Lock()
	defer r2.mu.Unlock()
	if len(r2.offsets) != 1 {
		t.Fatalf("Expected 1 completed round at node 2, got %d", len(r2.offsets))
	}
	want := [5]uint32{1, 201, 100, 101, 202}
	if r2.offsets[0] != want {
		t.Errorf("Unexpected round timestamps: got %v, want %v", r2.offsets[0], want)
	}
}

func TestMeasureDelay_RoundTripsThroughRouting(t *testing.T) {
	var r1, r2 recorder
	n1, t1 := newTestNode(t, r1.options(1, false, 100))
	_, t2 := newTestNode(t, r2.options(2, false, 200))

	join(t, t1, t2)

	if err := n1.MeasureDelay(2); err != nil {
		t.Fatalf("Failed to start delay measurement: %v", err)
	}

	r1.mu.Lock()
	defer r1.mu.Unlock()
	if len(r1.offsets) != 1 {
		t.Fatalf("Expected 1 completed measurement at node 1, got %d", len(r1.offsets))
	}
	got := r1.offsets[0]
	if got[0] != 2 {
		t.Errorf("Expected measurement against peer 2, got %d", got[0])
	}
	// t0 was stamped by node 1 before the round, t3 on receipt.
	if got[1] != 100 || got[4] != 101 {
		t.Errorf("Unexpected initiator timestamps: %v", got)
	}
	// t1/t2 came from node 2's clock.
	if got[2] != 200 || got[3] != 201 {
		t.Errorf("Unexpected responder timestamps: %v", got)
	}
}

func TestHandle_DropsUnroutableAndMalformed(t *testing.T) {
	var r recorder
	n, tr := newTestNode(t, r.options(1, false, 100))
	_, t2 := newTestNode(t, (&recorder{}).options(2, false, 200))

	la, _ := join(t, tr, t2)

	// Unknown discriminant with no routing override: dropped, no panic.
	n.Handle(la, proto.ParseVariant([]byte(`{"type":99}`)))

	// Malformed input: dropped, no panic.
	n.Handle(la, proto.ParseVariant([]byte(`{not json`)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.singles) != 0 || len(r.broadcasts) != 0 {
		t.Error("Expected nothing to be delivered")
	}
}

func TestHandle_DropsNeighbourWithUnhandledDiscriminant(t *testing.T) {
	var r recorder
	n, tr := newTestNode(t, r.options(1, false, 100))
	_, t2 := newTestNode(t, (&recorder{}).options(2, false, 200))

	la, _ := join(t, tr, t2)

	// A routing override can force a single into the neighbour path; it
	// must be counted as dropped, not silently ignored.
	dropped := telemetry.MessagesDropped.WithLabelValues("unhandled")
	before := testutil.ToFloat64(dropped)

	n.Handle(la, proto.ParseVariant([]byte(`{"type":9,"routing":0,"from":2,"dest":1,"msg":"x"}`)))

	if got := testutil.ToFloat64(dropped); got != before+1 {
		t.Errorf("Expected drop counter to advance by 1, got %v -> %v", before, got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.singles) != 0 {
		t.Error("Expected nothing to be delivered")
	}
}

func TestRemoveNeighbour_ForgetsSubtree(t *testing.T) {
	var r1, r2 recorder
	n1, t1 := newTestNode(t, r1.options(1, false, 100))
	_, t2 := newTestNode(t, r2.options(2, false, 200))

	la, _ := join(t, t1, t2)
	if !containsNode(n1.Topology().KnownNodes, 2) {
		t.Fatal("Expected node 1 to know node 2 before disconnect")
	}

	la.(*memoryLink).Close()

	if containsNode(n1.Topology().KnownNodes, 2) {
		t.Errorf("Expected node 2 to be forgotten, got %v", n1.Topology().KnownNodes)
	}
	if len(n1.Neighbours()) != 0 {
		t.Errorf("Expected no neighbours, got %v", n1.Neighbours())
	}
}
