package types

import (
	"fmt"
	"strings"
)

// EquipmentKind is the decoding rule attached to a single mapped bit.
type EquipmentKind int

const (
	KindInert EquipmentKind = iota
	KindPlaceholder
	KindPointNormal
	KindPointReverse
	KindSignalDG
	KindSignalOff
	KindSignalShuntOff
	KindSignalRed
	KindTrackCircuit
	KindRouteIndicatorButton
	KindRouteMain
	KindRouteShunt
	KindRouteCallOn
	KindUnmapped
)

// Mapping file tokens
var kindTokens = map[string]EquipmentKind{
	"P":        KindPlaceholder,
	"NK":       KindPointNormal,
	"RK":       KindPointReverse,
	"DGK":      KindSignalDG,
	"OFFK":     KindSignalOff,
	"SOFFK":    KindSignalShuntOff,
	"RGK":      KindSignalRed,
	"T":        KindTrackCircuit,
	"B":        KindRouteIndicatorButton,
	"RM":       KindRouteMain,
	"RS":       KindRouteShunt,
	"RC":       KindRouteCallOn,
	"UNMAPPED": KindUnmapped,
}

// ParseKind converts a mapping token (e.g. "NK", "T") into an EquipmentKind.
func ParseKind(token string) (EquipmentKind, error) {
	k, ok := kindTokens[strings.TrimSpace(token)]
	if !ok {
		return KindInert, fmt.Errorf("unknown equipment kind %q", token)
	}
	return k, nil
}

func (k EquipmentKind) Token() string {
	for tok, kind := range kindTokens {
		if kind == k {
			return tok
		}
	}
	return ""
}

func (k EquipmentKind) String() string {
	switch k {
	case KindInert:
		return "Inert"
	case KindPlaceholder:
		return "Placeholder"
	case KindPointNormal:
		return "PointNormal"
	case KindPointReverse:
		return "PointReverse"
	case KindSignalDG:
		return "SignalDG"
	case KindSignalOff:
		return "SignalOff"
	case KindSignalShuntOff:
		return "SignalShuntOff"
	case KindSignalRed:
		return "SignalRed"
	case KindTrackCircuit:
		return "TrackCircuit"
	case KindRouteIndicatorButton:
		return "RouteIndicatorButton"
	case KindRouteMain:
		return "RouteMain"
	case KindRouteShunt:
		return "RouteShunt"
	case KindRouteCallOn:
		return "RouteCallOn"
	case KindUnmapped:
		return "Unmapped"
	default:
		return fmt.Sprintf("EquipmentKind(%d)", int(k))
	}
}

// IsPoint reports whether the kind is one half of a point (NK/RK).
func (k EquipmentKind) IsPoint() bool {
	return k == KindPointNormal || k == KindPointReverse
}

// IsSignal reports whether the kind decodes to a signal aspect.
func (k EquipmentKind) IsSignal() bool {
	switch k {
	case KindSignalDG, KindSignalOff, KindSignalShuntOff, KindSignalRed:
		return true
	}
	return false
}

// EventType identifies the equipment an S-Class event applies to.
type EventType int

const (
	TypeNone EventType = iota
	TypePoint
	TypeSignalAspect
	TypeTrackCircuit
	TypeRouteIndicator
	TypeMainRoute
	TypeShuntRoute
	TypeCallOnRoute
)

var eventTypeNames = [...]string{
	TypeNone:           "none",
	TypePoint:          "point",
	TypeSignalAspect:   "signal_aspect",
	TypeTrackCircuit:   "track_circuit",
	TypeRouteIndicator: "route_indicator",
	TypeMainRoute:      "main_route",
	TypeShuntRoute:     "shunt_route",
	TypeCallOnRoute:    "call_on_route",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	for i, name := range eventTypeNames {
		if name == string(b) {
			*t = EventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(b))
}

// State is the decoded state of a piece of equipment.
type State int

const (
	StateNone State = iota

	// Points
	StateNormal
	StateReverse
	StateNeither
	StateBoth

	// Signal aspects
	StateOn
	StateMainOff
	StateShuntOff
	StateBothOff

	// Track circuits
	StateOccupied
	StateUnoccupied

	// Route indicators
	StateRouteSet
	StateRouteNotSet

	// Routes
	StateSet
	StateNotSet
)

var stateNames = [...]string{
	StateNone:        "none",
	StateNormal:      "normal",
	StateReverse:     "reverse",
	StateNeither:     "neither",
	StateBoth:        "both",
	StateOn:          "on",
	StateMainOff:     "main_off",
	StateShuntOff:    "shunt_off",
	StateBothOff:     "both_off",
	StateOccupied:    "occupied",
	StateUnoccupied:  "unoccupied",
	StateRouteSet:    "route_set",
	StateRouteNotSet: "route_not_set",
	StateSet:         "set",
	StateNotSet:      "not_set",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}
