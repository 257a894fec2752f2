package toggle

import "dikt/internal/domain"

// Effect is a side effect requested by Transition. The controller executes
// effects; Transition itself performs no I/O.
type Effect interface {
	isEffect()
}

// StartSession prepares focus and issues the start RPC.
type StartSession struct {
	ToggleSessionID uint64
}

// StopSession issues the stop RPC with its timeout and fallbacks.
type StopSession struct {
	ToggleSessionID uint64
	DaemonSessionID uint64
}

// CancelSession is a best-effort cancel of a daemon session.
type CancelSession struct {
	DaemonSessionID uint64
	Reason          string
}

// ReportStartFailure records diagnostics and notifies the user.
type ReportStartFailure struct {
	ToggleSessionID uint64
	Code            domain.ErrorCode
	Err             error
}

type ReportStopFailure struct {
	ToggleSessionID uint64
	DaemonSessionID uint64
	Detail          string
}

// ExpectCommit notes that the daemon should deliver text for DaemonSessionID.
type ExpectCommit struct {
	DaemonSessionID uint64
	TimedOut        bool
}

type ClearCommitExpectation struct{}

// ClearFailures resets the last start and stop failures after a good start.
type ClearFailures struct{}

// LogEvent records a line in the diagnostics history.
type LogEvent struct {
	Message string
}

func (StartSession) isEffect()           {}
func (StopSession) isEffect()            {}
func (CancelSession) isEffect()          {}
func (ReportStartFailure) isEffect()     {}
func (ReportStopFailure) isEffect()      {}
func (ExpectCommit) isEffect()           {}
func (ClearCommitExpectation) isEffect() {}
func (ClearFailures) isEffect()          {}
func (LogEvent) isEffect()               {}
