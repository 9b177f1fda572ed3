package system

import "fmt"

type SystemState int

const (
	StateInitializing SystemState = iota
	StateConnecting
	StateRunning
	StateReconnecting
	// finite sources (capture, replay) end here once every line was served
	StateDrained
	StateStopping
	StateStopped
	StateError
)

func (s SystemState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateConnecting:
		return "CONNECTING"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDrained:
		return "DRAINED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s SystemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SystemStatus struct {
	State     SystemState `json:"state"`
	Previous  SystemState `json:"previous_state"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

var validTransitions = map[SystemState][]SystemState{
	StateInitializing: {StateConnecting, StateStopping, StateError},
	StateConnecting:   {StateRunning, StateStopping, StateError},
	StateRunning:      {StateReconnecting, StateDrained, StateStopping, StateError},
	StateReconnecting: {StateRunning, StateStopping, StateError},
	StateDrained:      {StateStopping},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {},
	StateError:        {StateStopping, StateStopped},
}

func ValidateTransition(from, to SystemState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
