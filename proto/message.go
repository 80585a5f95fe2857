package proto

import (
	"errors"
	"fmt"
)

// Type is the small integer discriminant identifying a message's concrete
// kind on the wire. The values are part of the wire contract and must not
// be renumbered.
type Type int

const (
	TypeTimeDelay       Type = 3
	TypeTimeSync        Type = 4
	TypeNodeSyncRequest Type = 5
	TypeNodeSyncReply   Type = 6
	TypeControl         Type = 7 // deprecated
	TypeBroadcast       Type = 8 // application data for everyone
	TypeSingle          Type = 9 // application data for a single node
)

// Routing describes how a message travels through the mesh.
//
// RoutingNeighbour messages are handled by the immediate receiver and never
// forwarded. RoutingSingle messages are forwarded hop-by-hop toward their
// destination and only handled there. RoutingBroadcast messages are handled
// by every node and re-sent to every neighbour except the one they arrived
// from.
type Routing int

const (
	RoutingError     Routing = -1
	RoutingNeighbour Routing = 0
	RoutingSingle    Routing = 1
	RoutingBroadcast Routing = 2
)

var (
	ErrMalformed    = errors.New("proto: malformed wire document")
	ErrMissingField = errors.New("proto: required field missing")
	ErrWrongShape   = errors.New("proto: field has wrong shape")
)

// Object is the structured wire document all messages encode into and
// decode from. Values are either written natively by the encoders
// (uint32, int, string, bool, []uint32, nested Object) or produced by
// encoding/json (float64, map[string]any, []any); the field accessors
// below handle both forms.
type Object map[string]any

// Packet is implemented by every concrete message kind. AddTo writes the
// packet's fields into the given wire object and returns it; it never
// mutates the packet itself. WireSize is a capacity hint for the encoded
// form (see wireObjectSize); undershooting it is never an error.
type Packet interface {
	AddTo(obj Object) Object
	WireSize() int
}

// Rough per-slot cost of a wire object member, used only for buffer
// pre-sizing. Encoding always succeeds even when the estimate is low.
const wireSlotSize = 16

func wireObjectSize(slots int) int { return slots * wireSlotSize }

func wireArraySize(elems int) int { return elems * wireSlotSize }

func (o Object) uint32Field(key string) (uint32, bool) {
	switch v := o[key].(type) {
	case uint32:
		return v, true
	case int:
		return uint32(v), true
	case float64:
		return uint32(v), true
	}
	return 0, false
}

func (o Object) intField(key string) (int, bool) {
	switch v := o[key].(type) {
	case int:
		return v, true
	case uint32:
		return int(v), true
	case float64:
		return int(v), true
	case Type:
		return int(v), true
	case Routing:
		return int(v), true
	case TimePhase:
		return int(v), true
	}
	return 0, false
}

func (o Object) stringField(key string) (string, bool) {
	v, ok := o[key].(string)
	return v, ok
}

func (o Object) boolField(key string) (bool, bool) {
	v, ok := o[key].(bool)
	return v, ok
}

func (o Object) objectField(key string) (Object, bool) {
	switch v := o[key].(type) {
	case Object:
		return v, true
	case map[string]any:
		return Object(v), true
	}
	return nil, false
}

func (o Object) uint32SliceField(key string) ([]uint32, bool) {
	switch v := o[key].(type) {
	case []uint32:
		return v, true
	case []any:
		out := make([]uint32, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case uint32:
				out = append(out, n)
			case float64:
				out = append(out, uint32(n))
			case int:
				out = append(out, uint32(n))
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func missingField(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, key)
}
