package toggle

import "fmt"

// State is the listener-side view of one dictation toggle. It is one of
// Idle, Pending, Recording or Stopping.
type State interface {
	Name() string
	isState()
}

type Idle struct{}

// Pending waits for the start RPC of ToggleSessionID.
type Pending struct {
	ToggleSessionID uint64
}

type Recording struct {
	ToggleSessionID uint64
	DaemonSessionID uint64
	ClaimToken      string
}

// Stopping waits for the stop RPC of DaemonSessionID.
type Stopping struct {
	ToggleSessionID uint64
	DaemonSessionID uint64
}

func (Idle) Name() string      { return "idle" }
func (Pending) Name() string   { return "pending" }
func (Recording) Name() string { return "recording" }
func (Stopping) Name() string  { return "stopping" }

func (Idle) isState()      {}
func (Pending) isState()   {}
func (Recording) isState() {}
func (Stopping) isState()  {}

// Event drives Transition.
type Event interface {
	isEvent()
}

// Pressed is a debounced toggle press. NextToggleSessionID is consumed only
// when the press starts a new toggle session.
type Pressed struct {
	NextToggleSessionID uint64
}

// StartCompleted carries the outcome of preparing and starting a session.
type StartCompleted struct {
	ToggleSessionID uint64
	DaemonSessionID uint64
	ClaimToken      string
	Err             error
}

// StopCompleted carries the classified outcome of a stop RPC.
type StopCompleted struct {
	ToggleSessionID uint64
	Outcome         StopOutcome
}

// Shutdown resets the controller, for example before a listener rebind.
type Shutdown struct {
	Reason string
}

func (Pressed) isEvent()        {}
func (StartCompleted) isEvent() {}
func (StopCompleted) isEvent()  {}
func (Shutdown) isEvent()       {}

type StopOutcomeKind int

const (
	StopAcknowledged StopOutcomeKind = iota
	// StopFinalizing means the stop call failed but the daemon no longer
	// records, so the transcript is expected to arrive anyway.
	StopFinalizing
	StopFailed
)

func (k StopOutcomeKind) String() string {
	switch k {
	case StopAcknowledged:
		return "acknowledged"
	case StopFinalizing:
		return "finalizing"
	case StopFailed:
		return "failed"
	default:
		return fmt.Sprintf("stop_outcome(%d)", int(k))
	}
}

type StopOutcome struct {
	Kind     StopOutcomeKind
	Detail   string
	TimedOut bool
}
