package proto

import "math"

// Single is an application payload addressed to one specific node. Other
// nodes forward it toward Dest without inspecting Msg.
type Single struct {
	From uint32
	Dest uint32
	Msg  string
}

func NewSingle(from, dest uint32, msg string) Single {
	return Single{From: from, Dest: dest, Msg: msg}
}

// addPointToPoint writes the fields shared by Single and Broadcast. The
// caller writes its own discriminant afterwards, so the discriminant of
// the concrete kind always wins.
func addPointToPoint(obj Object, from, dest uint32, msg string) Object {
	obj["dest"] = dest
	obj["from"] = from
	obj["msg"] = msg
	return obj
}

func pointToPointSize(msg string) int {
	return wireObjectSize(4) + int(math.Ceil(1.1*float64(len(msg))))
}

func (s Single) AddTo(obj Object) Object {
	obj = addPointToPoint(obj, s.From, s.Dest, s.Msg)
	obj["type"] = int(TypeSingle)
	return obj
}

func (s Single) WireSize() int {
	return pointToPointSize(s.Msg)
}

func decodeSingle(obj Object) (Single, error) {
	var s Single
	dest, ok := obj.uint32Field("dest")
	if !ok {
		return s, missingField("dest")
	}
	from, ok := obj.uint32Field("from")
	if !ok {
		return s, missingField("from")
	}
	msg, ok := obj.stringField("msg")
	if !ok {
		return s, missingField("msg")
	}
	s.Dest = dest
	s.From = from
	s.Msg = msg
	return s, nil
}

// Broadcast shares Single's layout but carries its own discriminant and is
// flooded to every node rather than routed to one.
type Broadcast Single

func NewBroadcast(from, dest uint32, msg string) Broadcast {
	return Broadcast{From: from, Dest: dest, Msg: msg}
}

func (b Broadcast) AddTo(obj Object) Object {
	obj = addPointToPoint(obj, b.From, b.Dest, b.Msg)
	obj["type"] = int(TypeBroadcast)
	return obj
}

func (b Broadcast) WireSize() int {
	return pointToPointSize(b.Msg)
}

func decodeBroadcast(obj Object) (Broadcast, error) {
	s, err := decodeSingle(obj)
	return Broadcast(s), err
}
