package types

import (
	"encoding/json"
	"fmt"
)

// NoTimestamp marks an event for which the feed supplied no timestamp.
const NoTimestamp int64 = -1

// NoBerth is used by the feed when a describer step has no from/to berth.
const NoBerth = "NONE"

// EventClass distinguishes signalling (S-Class) from describer (C-Class) events.
type EventClass byte

const (
	ClassSignalling EventClass = 'S'
	ClassDescriber  EventClass = 'C'
)

func (c EventClass) String() string {
	return string(rune(c))
}

// Event is either a decoded signalling change or a train describer movement.
// Fields that do not belong to the event's class are left at their zero value,
// so two events compare equal with == exactly when they describe the same thing.
type Event struct {
	Class     EventClass
	Timestamp int64

	// S-Class
	Type  EventType
	State State
	ID    string

	// C-Class
	FromBerth string
	ToBerth   string
	Describer string
}

// SignallingEvent builds an S-Class event.
func SignallingEvent(timestamp int64, typ EventType, state State, id string) Event {
	return Event{
		Class:     ClassSignalling,
		Timestamp: timestamp,
		Type:      typ,
		State:     state,
		ID:        id,
	}
}

// DescriberEvent builds a C-Class event. Missing berths should be passed as NoBerth.
func DescriberEvent(timestamp int64, fromBerth, toBerth, describer string) Event {
	return Event{
		Class:     ClassDescriber,
		Timestamp: timestamp,
		FromBerth: fromBerth,
		ToBerth:   toBerth,
		Describer: describer,
	}
}

func (e Event) IsSignalling() bool { return e.Class == ClassSignalling }

func (e Event) IsDescriber() bool { return e.Class == ClassDescriber }

// WithTimestamp returns a copy of e stamped with ts.
func (e Event) WithTimestamp(ts int64) Event {
	e.Timestamp = ts
	return e
}

func (e Event) String() string {
	if e.Class == ClassDescriber {
		return fmt.Sprintf("Event C-Class From:%s To:%s Descr:%s", e.FromBerth, e.ToBerth, e.Describer)
	}
	return fmt.Sprintf("Event S-Class %s: %s State: %s", e.Type, e.ID, e.State)
}

type eventJSON struct {
	Class     string     `json:"class"`
	Timestamp int64      `json:"timestamp"`
	Type      *EventType `json:"type,omitempty"`
	State     *State     `json:"state,omitempty"`
	ID        string     `json:"id,omitempty"`
	FromBerth string     `json:"from_berth,omitempty"`
	ToBerth   string     `json:"to_berth,omitempty"`
	Describer string     `json:"describer,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Class:     e.Class.String(),
		Timestamp: e.Timestamp,
	}
	switch e.Class {
	case ClassSignalling:
		typ, state := e.Type, e.State
		out.Type = &typ
		out.State = &state
		out.ID = e.ID
	case ClassDescriber:
		out.FromBerth = e.FromBerth
		out.ToBerth = e.ToBerth
		out.Describer = e.Describer
	default:
		return nil, fmt.Errorf("event has unknown class %q", e.Class)
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var in eventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Class {
	case "S":
		if in.Type == nil || in.State == nil {
			return fmt.Errorf("S-Class event missing type or state")
		}
		*e = SignallingEvent(in.Timestamp, *in.Type, *in.State, in.ID)
	case "C":
		*e = DescriberEvent(in.Timestamp, in.FromBerth, in.ToBerth, in.Describer)
	default:
		return fmt.Errorf("unknown event class %q", in.Class)
	}
	return nil
}
