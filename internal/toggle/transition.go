package toggle

import (
	"fmt"

	"dikt/internal/domain"
)

// Transition is the whole toggle state machine. It returns the next state and
// the effects the caller must run, in order.
func Transition(state State, event Event) (State, []Effect) {
	switch ev := event.(type) {
	case Pressed:
		return onPressed(state, ev)
	case StartCompleted:
		return onStartCompleted(state, ev)
	case StopCompleted:
		return onStopCompleted(state, ev)
	case Shutdown:
		return onShutdown(state, ev)
	default:
		return state, nil
	}
}

func onPressed(state State, ev Pressed) (State, []Effect) {
	switch s := state.(type) {
	case Idle:
		id := ev.NextToggleSessionID
		return Pending{ToggleSessionID: id}, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d pressed", id)},
			ClearCommitExpectation{},
			StartSession{ToggleSessionID: id},
		}
	case Pending:
		return s, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d press ignored while start is pending", s.ToggleSessionID)},
		}
	case Recording:
		return Stopping{ToggleSessionID: s.ToggleSessionID, DaemonSessionID: s.DaemonSessionID}, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d stop requested for daemon session %d", s.ToggleSessionID, s.DaemonSessionID)},
			StopSession{ToggleSessionID: s.ToggleSessionID, DaemonSessionID: s.DaemonSessionID},
		}
	case Stopping:
		return s, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d press ignored while stop is pending", s.ToggleSessionID)},
		}
	default:
		return state, nil
	}
}

func onStartCompleted(state State, ev StartCompleted) (State, []Effect) {
	pending, ok := state.(Pending)
	if !ok || pending.ToggleSessionID != ev.ToggleSessionID {
		if ev.Err != nil {
			return state, []Effect{
				LogEvent{Message: fmt.Sprintf("toggle:%d stale start failure ignored", ev.ToggleSessionID)},
			}
		}
		return state, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d stale start success cancelled", ev.ToggleSessionID)},
			CancelSession{DaemonSessionID: ev.DaemonSessionID, Reason: "stale start success"},
		}
	}

	if ev.Err != nil {
		return Idle{}, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d start failed: %v", ev.ToggleSessionID, ev.Err)},
			ReportStartFailure{
				ToggleSessionID: ev.ToggleSessionID,
				Code:            domain.CodeOf(ev.Err, domain.ErrorCodeStartFailed),
				Err:             ev.Err,
			},
			ClearCommitExpectation{},
		}
	}

	return Recording{
			ToggleSessionID: ev.ToggleSessionID,
			DaemonSessionID: ev.DaemonSessionID,
			ClaimToken:      ev.ClaimToken,
		}, []Effect{
			ClearFailures{},
			LogEvent{Message: fmt.Sprintf("toggle:%d started daemon session %d", ev.ToggleSessionID, ev.DaemonSessionID)},
		}
}

func onStopCompleted(state State, ev StopCompleted) (State, []Effect) {
	stopping, ok := state.(Stopping)
	if !ok || stopping.ToggleSessionID != ev.ToggleSessionID {
		return state, []Effect{
			LogEvent{Message: fmt.Sprintf("toggle:%d stale stop result ignored", ev.ToggleSessionID)},
		}
	}

	daemonID := stopping.DaemonSessionID
	switch ev.Outcome.Kind {
	case StopAcknowledged:
		return Idle{}, []Effect{
			ExpectCommit{DaemonSessionID: daemonID},
			LogEvent{Message: fmt.Sprintf("toggle:%d stop acknowledged for daemon session %d", ev.ToggleSessionID, daemonID)},
		}
	case StopFinalizing:
		return Idle{}, []Effect{
			ExpectCommit{DaemonSessionID: daemonID, TimedOut: ev.Outcome.TimedOut},
			LogEvent{Message: fmt.Sprintf("toggle:%d stop finalizing asynchronously for daemon session %d: %s", ev.ToggleSessionID, daemonID, ev.Outcome.Detail)},
		}
	default:
		return Idle{}, []Effect{
			ReportStopFailure{ToggleSessionID: ev.ToggleSessionID, DaemonSessionID: daemonID, Detail: ev.Outcome.Detail},
			ClearCommitExpectation{},
			LogEvent{Message: fmt.Sprintf("toggle:%d stop failed for daemon session %d: %s", ev.ToggleSessionID, daemonID, ev.Outcome.Detail)},
		}
	}
}

// onShutdown cancels any daemon session the toggle still owns. A pending
// start has no daemon id yet; its late result is cancelled by the runner.
func onShutdown(state State, ev Shutdown) (State, []Effect) {
	switch s := state.(type) {
	case Recording:
		return Idle{}, []Effect{CancelSession{DaemonSessionID: s.DaemonSessionID, Reason: cleanupReason(ev)}}
	case Stopping:
		return Idle{}, []Effect{CancelSession{DaemonSessionID: s.DaemonSessionID, Reason: cleanupReason(ev) + " after stop pending"}}
	default:
		return Idle{}, nil
	}
}

func cleanupReason(ev Shutdown) string {
	if ev.Reason == "" {
		return "cleanup"
	}
	return ev.Reason
}
