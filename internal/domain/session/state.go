// Package session implements the acquisition session state machine.
package session

// State is one node of the acquisition lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StatePreview    State = "preview"
	StateProcessing State = "processing"
	StateMatchFound State = "match_found"
	StateNoMatch    State = "no_match"
	StateResolved   State = "resolved"
)

// transitions lists legal successors. Any non-resolved state may also move
// to resolved through a cancellation; that edge is checked separately.
var transitions = map[State][]State{ //nolint:gochecknoglobals // static transition table
	StateIdle:       {StateCapturing},
	StateCapturing:  {StatePreview},
	StatePreview:    {StateCapturing, StateProcessing},
	StateProcessing: {StateMatchFound, StateNoMatch, StateIdle},
	StateMatchFound: {StateResolved},
	StateNoMatch:    {StateResolved},
}

// CanTransition reports whether from -> to is a legal decision-path edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether a session in s may be cancelled into resolved.
func CanCancel(s State) bool { return s != StateResolved }

// IsTerminal reports whether s ends the session instance.
func IsTerminal(s State) bool { return s == StateResolved }

// ValidPath reports whether path starts at idle and follows legal edges,
// treating a final hop to resolved from any state as a cancellation.
func ValidPath(path []State) bool {
	if len(path) == 0 || path[0] != StateIdle {
		return false
	}
	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		if CanTransition(from, to) {
			continue
		}
		if to == StateResolved && CanCancel(from) && i == len(path)-1 {
			continue
		}
		return false
	}
	return true
}
