package proto

// TimePhase is the stage of the clock-offset exchange, carried in the
// msg.type sub-field of a TimeSync or TimeDelay message.
type TimePhase int

const (
	TimePhaseError       TimePhase = -1
	TimePhaseSyncRequest TimePhase = 0
	TimePhaseRequest     TimePhase = 1
	TimePhaseReply       TimePhase = 2
)

// TimeSyncMsg holds the phase and up to three local-clock readings. Which
// timestamps are populated depends on the phase: none at phase 0, t0 from
// phase 1, t1 and t2 from phase 2.
type TimeSyncMsg struct {
	Phase TimePhase
	T0    uint32
	T1    uint32
	T2    uint32
}

// TimeSync carries one step of the four-timestamp clock-offset round
// between two neighbours. The exchange state lives entirely in the message
// being passed back and forth; combining the timestamps into an offset
// estimate is the caller's job.
type TimeSync struct {
	From uint32
	Dest uint32
	Msg  TimeSyncMsg
}

// NewTimeSyncRequest starts a round at phase 0, no timestamps.
func NewTimeSyncRequest(from, dest uint32) TimeSync {
	return TimeSync{From: from, Dest: dest, Msg: TimeSyncMsg{Phase: TimePhaseSyncRequest}}
}

func NewTimeRequest(from, dest, t0 uint32) TimeSync {
	return TimeSync{From: from, Dest: dest, Msg: TimeSyncMsg{Phase: TimePhaseRequest, T0: t0}}
}

func NewTimeReply(from, dest, t0, t1, t2 uint32) TimeSync {
	return TimeSync{From: from, Dest: dest, Msg: TimeSyncMsg{Phase: TimePhaseReply, T0: t0, T1: t1, T2: t2}}
}

// Reply turns the message into the next phase's reply: t0 is set to the
// given clock reading, the phase advances and from/dest swap. Only valid
// at phase 0; at phase 1 use ReplyFinal instead. Calling the wrong form
// for the current phase produces a malformed message that this layer does
// not detect.
func (t *TimeSync) Reply(newT0 uint32) {
	t.Msg.T0 = newT0
	t.Msg.Phase++
	t.From, t.Dest = t.Dest, t.From
}

// ReplyFinal completes the round at phase 1: t1 and t2 are set, the phase
// advances and from/dest swap back to the original direction.
func (t *TimeSync) ReplyFinal(newT1, newT2 uint32) {
	t.Msg.T1 = newT1
	t.Msg.T2 = newT2
	t.Msg.Phase++
	t.From, t.Dest = t.Dest, t.From
}

func addTimeSync(obj Object, t TimeSync) Object {
	obj["dest"] = t.Dest
	obj["from"] = t.From
	msg := make(Object, 4)
	msg["type"] = int(t.Msg.Phase)
	if t.Msg.Phase >= TimePhaseRequest {
		msg["t0"] = t.Msg.T0
	}
	if t.Msg.Phase >= TimePhaseReply {
		msg["t1"] = t.Msg.T1
		msg["t2"] = t.Msg.T2
	}
	obj["msg"] = msg
	return obj
}

func timeSyncSize() int {
	return wireObjectSize(5) + wireObjectSize(4)
}

func (t TimeSync) AddTo(obj Object) Object {
	obj = addTimeSync(obj, t)
	obj["type"] = int(TypeTimeSync)
	return obj
}

func (t TimeSync) WireSize() int {
	return timeSyncSize()
}

func decodeTimeSync(obj Object) (TimeSync, error) {
	var t TimeSync
	if dest, ok := obj.uint32Field("dest"); ok {
		t.Dest = dest
	}
	if from, ok := obj.uint32Field("from"); ok {
		t.From = from
	}
	msg, ok := obj.objectField("msg")
	if !ok {
		return t, missingField("msg")
	}
	phase, ok := msg.intField("type")
	if !ok {
		return t, missingField("msg.type")
	}
	t.Msg.Phase = TimePhase(phase)
	if t0, ok := msg.uint32Field("t0"); ok {
		t.Msg.T0 = t0
	}
	if t1, ok := msg.uint32Field("t1"); ok {
		t.Msg.T1 = t1
	}
	if t2, ok := msg.uint32Field("t2"); ok {
		t.Msg.T2 = t2
	}
	return t, nil
}

// TimeDelay shares TimeSync's layout and exchange logic but is routed to a
// specific node for one-shot delay measurement instead of being handled by
// the immediate neighbour.
type TimeDelay TimeSync

func NewTimeDelayRequest(from, dest uint32) TimeDelay {
	return TimeDelay(NewTimeSyncRequest(from, dest))
}

func NewTimeDelay(from, dest, t0 uint32) TimeDelay {
	return TimeDelay(NewTimeRequest(from, dest, t0))
}

func (t *TimeDelay) Reply(newT0 uint32) {
	(*TimeSync)(t).Reply(newT0)
}

func (t *TimeDelay) ReplyFinal(newT1, newT2 uint32) {
	(*TimeSync)(t).ReplyFinal(newT1, newT2)
}

func (t TimeDelay) AddTo(obj Object) Object {
	obj = addTimeSync(obj, TimeSync(t))
	obj["type"] = int(TypeTimeDelay)
	return obj
}

func (t TimeDelay) WireSize() int {
	return timeSyncSize()
}

func decodeTimeDelay(obj Object) (TimeDelay, error) {
	t, err := decodeTimeSync(obj)
	return TimeDelay(t), err
}
