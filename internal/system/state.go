package system

import "fmt"

// SystemState is the service lifecycle phase reported by the status API.
type SystemState string

const (
	StateInitializing SystemState = "INITIALIZING"
	StateRunning      SystemState = "RUNNING"
	StateStopping     SystemState = "STOPPING"
	StateStopped      SystemState = "STOPPED"
	StateError        SystemState = "ERROR"
)

func (s SystemState) String() string { return string(s) }

// next lists the states reachable from each state. STOPPED is terminal.
var next = map[SystemState]map[SystemState]bool{
	StateInitializing: {StateRunning: true, StateStopping: true, StateError: true},
	StateRunning:      {StateStopping: true, StateError: true},
	StateStopping:     {StateStopped: true, StateError: true},
	StateError:        {StateStopping: true, StateStopped: true},
	StateStopped:      {},
}

func ValidateTransition(from, to SystemState) error {
	allowed, known := next[from]
	if !known {
		return fmt.Errorf("invalid current state: %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	return nil
}
