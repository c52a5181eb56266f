package domain

import "fmt"

// State is a step of the checkpoint/restore state machine for one run.
type State int

const (
	StateNotStarted State = iota
	StatePreparing
	StateCheckpointing
	StateCheckpointed
	StateCheckpointFailed
	StateRestoring
	StateRestored
	StateRestoreFailed
	StateRunning
	StateRecovered
)

var stateNames = [...]string{
	StateNotStarted:       "NotStarted",
	StatePreparing:        "Preparing",
	StateCheckpointing:    "Checkpointing",
	StateCheckpointed:     "Checkpointed",
	StateCheckpointFailed: "CheckpointFailed",
	StateRestoring:        "Restoring",
	StateRestored:         "Restored",
	StateRestoreFailed:    "RestoreFailed",
	StateRunning:          "Running",
	StateRecovered:        "Recovered",
}

// StateNames returns the name of every state in declaration order.
func StateNames() []string {
	return append([]string(nil), stateNames[:]...)
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists the allowed successor states.
// NotStarted may go straight to CheckpointFailed when the platform check fails,
// and straight to Running on a normal boot without a checkpoint.
var transitions = map[State][]State{
	StateNotStarted:    {StatePreparing, StateCheckpointFailed, StateRunning},
	StatePreparing:     {StateCheckpointing, StateCheckpointFailed},
	StateCheckpointing: {StateCheckpointed, StateCheckpointFailed},
	StateCheckpointed:  {StateRestoring},
	StateRestoring:     {StateRestored, StateRestoreFailed},
	StateRestored:      {StateRunning},
	StateRestoreFailed: {StateRecovered},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrIllegalTransition otherwise.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return ErrIllegalTransition.WithDetails(fmt.Sprintf("%s -> %s", from, to))
	}
	return nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
