package toggle

import (
	"errors"
	"testing"

	"dikt/internal/domain"
)

func TestTransitionPressFromIdleStartsSession(t *testing.T) {
	t.Parallel()

	next, effects := Transition(Idle{}, Pressed{NextToggleSessionID: 4})
	if next != (Pending{ToggleSessionID: 4}) {
		t.Fatalf("expected pending(4), got %#v", next)
	}
	if len(effects) != 3 {
		t.Fatalf("expected 3 effects, got %#v", effects)
	}
	if _, ok := effects[1].(ClearCommitExpectation); !ok {
		t.Fatalf("expected commit expectation cleared, got %#v", effects[1])
	}
	if effects[2] != (StartSession{ToggleSessionID: 4}) {
		t.Fatalf("expected start effect, got %#v", effects[2])
	}
}

func TestTransitionPressIgnoredWhileWaiting(t *testing.T) {
	t.Parallel()

	for _, state := range []State{Pending{ToggleSessionID: 1}, Stopping{ToggleSessionID: 1, DaemonSessionID: 7}} {
		next, effects := Transition(state, Pressed{NextToggleSessionID: 2})
		if next != state {
			t.Fatalf("expected %s to be kept, got %#v", state.Name(), next)
		}
		if len(effects) != 1 {
			t.Fatalf("expected only a log effect in %s, got %#v", state.Name(), effects)
		}
		if _, ok := effects[0].(LogEvent); !ok {
			t.Fatalf("expected log effect, got %#v", effects[0])
		}
	}
}

func TestTransitionPressWhileRecordingStops(t *testing.T) {
	t.Parallel()

	next, effects := Transition(Recording{ToggleSessionID: 3, DaemonSessionID: 9, ClaimToken: "tok"}, Pressed{NextToggleSessionID: 4})
	if next != (Stopping{ToggleSessionID: 3, DaemonSessionID: 9}) {
		t.Fatalf("expected stopping, got %#v", next)
	}
	if last := effects[len(effects)-1]; last != (StopSession{ToggleSessionID: 3, DaemonSessionID: 9}) {
		t.Fatalf("expected stop effect, got %#v", last)
	}
}

func TestTransitionStartCompleted(t *testing.T) {
	t.Parallel()

	next, effects := Transition(Pending{ToggleSessionID: 2}, StartCompleted{ToggleSessionID: 2, DaemonSessionID: 11, ClaimToken: "abc"})
	if next != (Recording{ToggleSessionID: 2, DaemonSessionID: 11, ClaimToken: "abc"}) {
		t.Fatalf("expected recording, got %#v", next)
	}
	if _, ok := effects[0].(ClearFailures); !ok {
		t.Fatalf("expected failures cleared, got %#v", effects)
	}

	startErr := domain.NewError(domain.ErrorCodeFocusUnavailable, "no focus")
	next, effects = Transition(Pending{ToggleSessionID: 2}, StartCompleted{ToggleSessionID: 2, Err: startErr})
	if next != (Idle{}) {
		t.Fatalf("expected idle after failure, got %#v", next)
	}
	report, ok := effects[1].(ReportStartFailure)
	if !ok {
		t.Fatalf("expected start failure report, got %#v", effects)
	}
	if report.Code != domain.ErrorCodeFocusUnavailable {
		t.Fatalf("expected focus_unavailable, got %s", report.Code)
	}

	_, effects = Transition(Pending{ToggleSessionID: 2}, StartCompleted{ToggleSessionID: 2, Err: errors.New("boom")})
	if report := effects[1].(ReportStartFailure); report.Code != domain.ErrorCodeStartFailed {
		t.Fatalf("expected fallback start_failed, got %s", report.Code)
	}
}

func TestTransitionStaleStartSuccessIsCancelled(t *testing.T) {
	t.Parallel()

	states := []State{
		Idle{},
		Pending{ToggleSessionID: 5},
		Recording{ToggleSessionID: 5, DaemonSessionID: 20},
		Stopping{ToggleSessionID: 5, DaemonSessionID: 20},
	}
	for _, state := range states {
		next, effects := Transition(state, StartCompleted{ToggleSessionID: 4, DaemonSessionID: 19, ClaimToken: "x"})
		if next != state {
			t.Fatalf("stale start changed %s into %#v", state.Name(), next)
		}
		if last := effects[len(effects)-1]; last != (CancelSession{DaemonSessionID: 19, Reason: "stale start success"}) {
			t.Fatalf("expected cancel of stale session in %s, got %#v", state.Name(), effects)
		}
	}

	next, effects := Transition(Idle{}, StartCompleted{ToggleSessionID: 4, Err: errors.New("late")})
	if next != (Idle{}) || len(effects) != 1 {
		t.Fatalf("stale failure should only log, got %#v %#v", next, effects)
	}
}

func TestTransitionStopCompleted(t *testing.T) {
	t.Parallel()

	stopping := Stopping{ToggleSessionID: 6, DaemonSessionID: 30}

	next, effects := Transition(stopping, StopCompleted{ToggleSessionID: 6, Outcome: StopOutcome{Kind: StopAcknowledged}})
	if next != (Idle{}) || effects[0] != (ExpectCommit{DaemonSessionID: 30}) {
		t.Fatalf("ack: got %#v %#v", next, effects)
	}

	next, effects = Transition(stopping, StopCompleted{ToggleSessionID: 6, Outcome: StopOutcome{Kind: StopFinalizing, TimedOut: true}})
	if next != (Idle{}) || effects[0] != (ExpectCommit{DaemonSessionID: 30, TimedOut: true}) {
		t.Fatalf("finalizing: got %#v %#v", next, effects)
	}

	next, effects = Transition(stopping, StopCompleted{ToggleSessionID: 6, Outcome: StopOutcome{Kind: StopFailed, Detail: "gone"}})
	if next != (Idle{}) {
		t.Fatalf("failed: expected idle, got %#v", next)
	}
	if effects[0] != (ReportStopFailure{ToggleSessionID: 6, DaemonSessionID: 30, Detail: "gone"}) {
		t.Fatalf("failed: expected report, got %#v", effects)
	}

	next, effects = Transition(Idle{}, StopCompleted{ToggleSessionID: 6, Outcome: StopOutcome{Kind: StopAcknowledged}})
	if next != (Idle{}) || len(effects) != 1 {
		t.Fatalf("stale stop should only log, got %#v %#v", next, effects)
	}
}

func TestTransitionShutdownCancelsOwnedSession(t *testing.T) {
	t.Parallel()

	next, effects := Transition(Recording{ToggleSessionID: 1, DaemonSessionID: 8}, Shutdown{})
	if next != (Idle{}) || len(effects) != 1 || effects[0] != (CancelSession{DaemonSessionID: 8, Reason: "cleanup"}) {
		t.Fatalf("recording: got %#v %#v", next, effects)
	}

	next, effects = Transition(Stopping{ToggleSessionID: 1, DaemonSessionID: 8}, Shutdown{Reason: "rebind"})
	if next != (Idle{}) || effects[0] != (CancelSession{DaemonSessionID: 8, Reason: "rebind after stop pending"}) {
		t.Fatalf("stopping: got %#v %#v", next, effects)
	}

	next, effects = Transition(Pending{ToggleSessionID: 1}, Shutdown{})
	if next != (Idle{}) || len(effects) != 0 {
		t.Fatalf("pending: got %#v %#v", next, effects)
	}
}
