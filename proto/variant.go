package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Variant is the type-erased envelope handed to and received from the
// transport layer. It owns exactly one parsed wire object plus an error
// state, and is immutable once constructed: inbound it is built by
// ParseVariant, outbound by NewVariant, and discarded when the caller is
// done. Concurrent readers are safe after construction; the backing
// object is never shared for mutation.
type Variant struct {
	obj  Object
	hint int
	err  error
}

// ParseVariant parses a raw wire message. Malformed input leaves the
// variant in an error state (see Err) rather than failing loudly; every
// query on an errored variant degrades to its zero answer.
func ParseVariant(data []byte) *Variant {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return &Variant{err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return &Variant{obj: obj, hint: len(data)}
}

// NewVariant encodes a concrete packet into an envelope. This path cannot
// fail; the packet's WireSize pre-sizes the wire object and later the
// serialization buffer.
func NewVariant(p Packet) *Variant {
	size := p.WireSize()
	obj := p.AddTo(make(Object, size/wireSlotSize))
	return &Variant{obj: obj, hint: size}
}

func (v *Variant) Err() error {
	return v.err
}

// Type returns the raw discriminant, 0 when absent. 0 is not a defined
// message kind, so callers can use it as "unknown".
func (v *Variant) Type() Type {
	t, _ := v.obj.intField("type")
	return Type(t)
}

// Is reports whether the envelope holds the given message kind. It is a
// plain discriminant match, total over the closed set of kinds.
func (v *Variant) Is(t Type) bool {
	return v.Type() == t
}

// Routing classifies the message for the router. An explicit routing
// field on the wire is trusted verbatim; otherwise the discriminant
// decides. Unknown discriminants yield RoutingError and the caller must
// drop or log the message, never forward it.
func (v *Variant) Routing() Routing {
	if r, ok := v.obj.intField("routing"); ok {
		return Routing(r)
	}
	switch v.Type() {
	case TypeSingle, TypeTimeDelay:
		return RoutingSingle
	case TypeBroadcast:
		return RoutingBroadcast
	case TypeNodeSyncRequest, TypeNodeSyncReply, TypeTimeSync:
		return RoutingNeighbour
	}
	return RoutingError
}

// Dest returns the destination node id, 0 when absent. 0 is reserved as
// "no destination" and is never a legitimate node id.
func (v *Variant) Dest() uint32 {
	d, _ := v.obj.uint32Field("dest")
	return d
}

// Wire exposes the underlying wire object. Callers must treat it as
// read-only; mutating it breaks the envelope's immutability contract.
func (v *Variant) Wire() Object {
	return v.obj
}

// The To conversions decode whatever the envelope holds without checking
// the discriminant first. Converting to the wrong kind yields a wrong or
// partial value, not a mismatch error; callers must check Is first.
// Structural problems (missing required fields) still return an error.

func (v *Variant) ToSingle() (Single, error) {
	if v.err != nil {
		return Single{}, v.err
	}
	return decodeSingle(v.obj)
}

func (v *Variant) ToBroadcast() (Broadcast, error) {
	if v.err != nil {
		return Broadcast{}, v.err
	}
	return decodeBroadcast(v.obj)
}

func (v *Variant) ToNodeTree() (NodeTree, error) {
	if v.err != nil {
		return NodeTree{}, v.err
	}
	return decodeNodeTree(v.obj), nil
}

func (v *Variant) ToNodeSyncRequest() (NodeSyncRequest, error) {
	if v.err != nil {
		return NodeSyncRequest{}, v.err
	}
	return decodeNodeSyncRequest(v.obj)
}

func (v *Variant) ToNodeSyncReply() (NodeSyncReply, error) {
	if v.err != nil {
		return NodeSyncReply{}, v.err
	}
	return decodeNodeSyncReply(v.obj)
}

func (v *Variant) ToTimeSync() (TimeSync, error) {
	if v.err != nil {
		return TimeSync{}, v.err
	}
	return decodeTimeSync(v.obj)
}

func (v *Variant) ToTimeDelay() (TimeDelay, error) {
	if v.err != nil {
		return TimeDelay{}, v.err
	}
	return decodeTimeDelay(v.obj)
}

// Bytes serializes the envelope for the transport layer. The capacity
// hint recorded at construction pre-sizes the buffer; if the real
// encoding is bigger the buffer simply grows.
func (v *Variant) Bytes() ([]byte, error) {
	if v.err != nil {
		return nil, v.err
	}
	buf := bytes.NewBuffer(make([]byte, 0, v.hint))
	enc := json.NewEncoder(buf)
	if err := enc.Encode(v.obj); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (v *Variant) String() (string, error) {
	b, err := v.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
