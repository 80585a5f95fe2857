package mesh

import (
	"log/slog"
	"strconv"

	"github.com/mbocsi/gomesh/proto"
	"github.com/mbocsi/gomesh/telemetry"
)

// Handle dispatches one inbound envelope according to its routing class.
// NEIGHBOUR messages are consumed here and never travel further; SINGLE
// messages are forwarded toward their destination and only handled there;
// BROADCAST messages are handled and re-flooded to every neighbour except
// the arrival link.
func (n *Node) Handle(l Link, v *proto.Variant) {
	if err := v.Err(); err != nil {
		slog.Warn("Dropping malformed message", "link", l.Meta().ID, "error", err.Error())
		telemetry.MessagesDropped.WithLabelValues("malformed").Inc()
		return
	}

	routing := v.Routing()
	telemetry.MessagesReceived.WithLabelValues(strconv.Itoa(int(v.Type())), routingLabel(routing)).Inc()

	switch routing {
	case proto.RoutingNeighbour:
		n.handleNeighbour(l, v)
	case proto.RoutingSingle:
		n.handleSingle(l, v)
	case proto.RoutingBroadcast:
		n.handleBroadcast(l, v)
	default:
		// Never forward a message we cannot classify.
		slog.Warn("Dropping message with indeterminate routing", "type", v.Type(), "link", l.Meta().ID)
		telemetry.MessagesDropped.WithLabelValues("routing_error").Inc()
	}
}

// ---------- NEIGHBOUR: topology and clock exchanges ---------- //

func (n *Node) handleNeighbour(l Link, v *proto.Variant) {
	switch v.Type() {
	case proto.TypeNodeSyncRequest:
		req, err := v.ToNodeSyncRequest()
		if err != nil {
			n.dropStructural(l, v, err)
			return
		}
		n.storeSubtree(l, req.NodeTree)

		reply := proto.BuildNodeSyncReply(n.id, req.From, n.subtreesExcept(l.Meta().ID), n.root)
		if err := l.Send(proto.NewVariant(reply)); err != nil {
			slog.Warn("Failed to answer node sync", "link", l.Meta().ID, "error", err.Error())
		}

	case proto.TypeNodeSyncReply:
		rep, err := v.ToNodeSyncReply()
		if err != nil {
			n.dropStructural(l, v, err)
			return
		}
		n.storeSubtree(l, rep.NodeTree)

	case proto.TypeTimeSync:
		arrival := n.clock()
		ts, err := v.ToTimeSync()
		if err != nil {
			n.dropStructural(l, v, err)
			return
		}
		n.advanceTimeSync(l, ts, arrival)

	default:
		slog.Warn("Dropping neighbour message with unhandled discriminant", "type", v.Type(), "link", l.Meta().ID)
		telemetry.MessagesDropped.WithLabelValues("unhandled").Inc()
	}
}

// advanceTimeSync runs one step of the four-timestamp round. The phase in
// the message decides which reply form applies; the exchange state lives
// entirely in the message itself.
func (n *Node) advanceTimeSync(l Link, ts proto.TimeSync, arrival uint32) {
	switch ts.Msg.Phase {
	case proto.TimePhaseSyncRequest:
		ts.Reply(n.clock())
		if err := l.Send(proto.NewVariant(ts)); err != nil {
			slog.Warn("Failed to send time request", "link", l.Meta().ID, "error", err.Error())
		}

	case proto.TimePhaseRequest:
		ts.ReplyFinal(arrival, n.clock())
		if err := l.Send(proto.NewVariant(ts)); err != nil {
			slog.Warn("Failed to send time reply", "link", l.Meta().ID, "error", err.Error())
		}

	case proto.TimePhaseReply:
		telemetry.TimeSyncRounds.Inc()
		slog.Debug("Time sync round complete", "peer", ts.From, "t0", ts.Msg.T0, "t1", ts.Msg.T1, "t2", ts.Msg.T2, "t3", arrival)
		if n.onTimeOffset != nil {
			n.onTimeOffset(ts.From, ts.Msg.T0, ts.Msg.T1, ts.Msg.T2, arrival)
		}

	default:
		slog.Warn("Dropping time sync with unknown phase", "phase", ts.Msg.Phase, "link", l.Meta().ID)
		telemetry.MessagesDropped.WithLabelValues("bad_phase").Inc()
	}
}

// ---------- SINGLE: routed point-to-point ---------- //

func (n *Node) handleSingle(l Link, v *proto.Variant) {
	dest := v.Dest()
	if dest != n.id {
		n.forward(l, v, dest)
		return
	}

	if v.Is(proto.TypeTimeDelay) {
		arrival := n.clock()
		td, err := v.ToTimeDelay()
		if err != nil {
			n.dropStructural(l, v, err)
			return
		}
		n.advanceTimeDelay(l, td, arrival)
		return
	}

	s, err := v.ToSingle()
	if err != nil {
		n.dropStructural(l, v, err)
		return
	}
	if n.onSingle != nil {
		n.onSingle(s)
	} else {
		slog.Warn("No handler for single message", "from", s.From)
	}
}

// advanceTimeDelay mirrors the time-sync steps, but the replies travel as
// SINGLE messages back toward the measuring node instead of stopping at
// the neighbour.
func (n *Node) advanceTimeDelay(l Link, td proto.TimeDelay, arrival uint32) {
	switch td.Msg.Phase {
	case proto.TimePhaseSyncRequest:
		td.Reply(n.clock())
	case proto.TimePhaseRequest:
		td.ReplyFinal(arrival, n.clock())
	case proto.TimePhaseReply:
		telemetry.TimeSyncRounds.Inc()
		if n.onTimeOffset != nil {
			n.onTimeOffset(td.From, td.Msg.T0, td.Msg.T1, td.Msg.T2, arrival)
		}
		return
	default:
		slog.Warn("Dropping time delay with unknown phase", "phase", td.Msg.Phase, "link", l.Meta().ID)
		telemetry.MessagesDropped.WithLabelValues("bad_phase").Inc()
		return
	}

	// The reverse path runs through the routing table when known, and
	// falls back to the arrival link.
	out := n.linkFor(td.Dest)
	if out == nil {
		out = l
	}
	if err := out.Send(proto.NewVariant(td)); err != nil {
		slog.Warn("Failed to send time delay reply", "link", out.Meta().ID, "error", err.Error())
	}
}

func (n *Node) forward(l Link, v *proto.Variant, dest uint32) {
	link := n.linkFor(dest)
	if link == nil {
		slog.Warn("No route to destination, dropping message", "dest", dest, "type", v.Type())
		telemetry.MessagesDropped.WithLabelValues("no_route").Inc()
		return
	}
	if err := link.Send(v); err != nil {
		slog.Warn("Failed to forward message", "dest", dest, "link", link.Meta().ID, "error", err.Error())
		return
	}
	telemetry.MessagesForwarded.Inc()
}

// ---------- BROADCAST: flood ---------- //

func (n *Node) handleBroadcast(l Link, v *proto.Variant) {
	b, err := v.ToBroadcast()
	if err != nil {
		n.dropStructural(l, v, err)
		return
	}
	if b.From == n.id {
		// Our own broadcast came back around; the flood stops here.
		return
	}

	if n.onBroadcast != nil {
		n.onBroadcast(b)
	}

	n.mu.RLock()
	links := make([]Link, 0, len(n.neighbours))
	for _, nb := range n.neighbours {
		if nb.Meta().ID != l.Meta().ID {
			links = append(links, nb)
		}
	}
	n.mu.RUnlock()

	for _, nb := range links {
		if err := nb.Send(v); err != nil {
			slog.Warn("Failed to relay broadcast", "link", nb.Meta().ID, "error", err.Error())
			continue
		}
		telemetry.BroadcastsRelayed.Inc()
	}
}

func (n *Node) dropStructural(l Link, v *proto.Variant, err error) {
	slog.Warn("Dropping structurally invalid message", "type", v.Type(), "link", l.Meta().ID, "error", err.Error())
	telemetry.MessagesDropped.WithLabelValues("structural").Inc()
}

func routingLabel(r proto.Routing) string {
	switch r {
	case proto.RoutingNeighbour:
		return "neighbour"
	case proto.RoutingSingle:
		return "single"
	case proto.RoutingBroadcast:
		return "broadcast"
	}
	return "error"
}
