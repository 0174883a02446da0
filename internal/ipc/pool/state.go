package pool

import "fmt"

// State is a listener's position in its single-use lifecycle. States only
// move forward; Disposed is terminal.
type State int32

const (
	Created State = iota
	WaitingForConnection
	Connected
	ProcessingRequest
	FinishedRequest
	Disposed
)

var stateNames = [...]string{
	Created:              "created",
	WaitingForConnection: "waiting",
	Connected:            "connected",
	ProcessingRequest:    "processing",
	FinishedRequest:      "finished",
	Disposed:             "disposed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// waiting reports whether a listener in s still counts as spare capacity.
func (s State) waiting() bool { return s == Created || s == WaitingForConnection }
