package busrpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"dikt/internal/domain"
)

func TestBusErrorRoundTripKeepsCode(t *testing.T) {
	t.Parallel()

	original := domain.WrapError(domain.ErrorCodeRecorderUnavailable, errors.New("device busy"), "Failed to start recording")
	busErr := toBusError(original)
	if busErr.Name != "io.dikt.Transcription.Error.recorder_unavailable" {
		t.Fatalf("unexpected error name %q", busErr.Name)
	}

	back := fromBusError("StartRecordingSessionForTarget", busErr)
	if got := domain.CodeOf(back, ""); got != domain.ErrorCodeRecorderUnavailable {
		t.Fatalf("expected recorder_unavailable, got %q", got)
	}
	if got := domain.DetailOf(back); got != "Failed to start recording: device busy" {
		t.Fatalf("unexpected detail %q", got)
	}

	// godbus reports remote errors by value.
	back = fromBusError("StartRecordingSessionForTarget", *busErr)
	if got := domain.CodeOf(back, ""); got != domain.ErrorCodeRecorderUnavailable {
		t.Fatalf("expected code from value error, got %q", got)
	}
}

func TestBusErrorWithoutCodeIsGeneric(t *testing.T) {
	t.Parallel()

	busErr := toBusError(errors.New("plain"))
	if busErr.Name != genericError {
		t.Fatalf("expected generic error name, got %q", busErr.Name)
	}
	back := fromBusError("GetState", busErr)
	if got := domain.CodeOf(back, "none"); got != "none" {
		t.Fatalf("generic errors must not carry a code, got %q", got)
	}
	if toBusError(nil) != nil || fromBusError("GetState", nil) != nil {
		t.Fatalf("nil errors must stay nil")
	}
}

func TestBusErrorDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	err := fromBusError("StopRecordingSession", fmt.Errorf("call: %w", context.DeadlineExceeded))
	if !errors.Is(err, domain.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestBusErrorUnknownMethodIsUnsupported(t *testing.T) {
	t.Parallel()

	err := fromBusError("GetLivePreeditForSession", dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"})
	if !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("expected unsupported classification, got %v", err)
	}
}

type fakeFacade struct {
	startErr error
	focused  map[uint64]bool
}

func (f *fakeFacade) StartRecordingSessionForTarget(_ context.Context, targetID uint64) (uint64, string, error) {
	if f.startErr != nil {
		return 0, "", f.startErr
	}
	return 7, fmt.Sprintf("token-%d", targetID), nil
}

func (f *fakeFacade) StopRecordingSession(context.Context, uint64) (bool, error)   { return true, nil }
func (f *fakeFacade) CancelRecordingSession(context.Context, uint64) (bool, error) { return false, nil }

func (f *fakeFacade) GetState(context.Context) (domain.DaemonState, error) {
	return domain.DaemonState{IsRecording: true, HasModelSelected: true}, nil
}

func (f *fakeFacade) GetActiveSessionForEngine(_ context.Context, targetID uint64) (domain.ActiveSession, error) {
	return domain.ActiveSession{SessionID: targetID + 1, ClaimToken: "claim", LivePreviewAllowed: true}, nil
}

func (f *fakeFacade) GetSessionStatus(context.Context, uint64) (domain.SessionReport, error) {
	return domain.SessionReport{Status: domain.SessionStatusMissing, Message: "Session not found"}, nil
}

func (f *fakeFacade) TakePendingCommitForSession(_ context.Context, _ uint64, claim string) (bool, string, error) {
	return claim == "claim", "hello", nil
}

func (f *fakeFacade) GetPendingCommitStats(context.Context) (string, error) {
	return `{"queue_len":0}`, nil
}

func (f *fakeFacade) GetLivePreeditForSession(context.Context, uint64, string) (domain.LivePreedit, error) {
	return domain.LivePreedit{Revision: 3, Visible: true, Text: "hel"}, nil
}

func (f *fakeFacade) SetFocusedEngine(_ context.Context, targetID uint64, focused bool) error {
	if targetID == 0 {
		return domain.WrapError(domain.ErrorCodeInvalidTarget, domain.ErrInvalidTarget, "focus update rejected")
	}
	f.focused[targetID] = focused
	return nil
}

func (f *fakeFacade) GetFocusedEngine(context.Context) (domain.FocusState, error) {
	return domain.FocusState{TargetID: 5, LastChangeMs: 10}, nil
}

func TestObjectMapsFacadeResults(t *testing.T) {
	t.Parallel()

	facade := &fakeFacade{focused: make(map[uint64]bool)}
	obj := &object{facade: facade, logger: nopLogger()}

	id, token, busErr := obj.StartRecordingSessionForTarget(42)
	if busErr != nil || id != 7 || token != "token-42" {
		t.Fatalf("unexpected start result %d %q %v", id, token, busErr)
	}

	recording, hasModel, busErr := obj.GetState()
	if busErr != nil || !recording || !hasModel {
		t.Fatalf("unexpected state %v %v %v", recording, hasModel, busErr)
	}

	sid, claim, allowed, busErr := obj.GetActiveSessionForEngine(9)
	if busErr != nil || sid != 10 || claim != "claim" || !allowed {
		t.Fatalf("unexpected active session %d %q %v %v", sid, claim, allowed, busErr)
	}

	status, message, _, busErr := obj.GetSessionStatus(99)
	if busErr != nil || status != "missing" || message != "Session not found" {
		t.Fatalf("unexpected status %q %q %v", status, message, busErr)
	}

	rev, visible, text, busErr := obj.GetLivePreeditForSession(10, "claim")
	if busErr != nil || rev != 3 || !visible || text != "hel" {
		t.Fatalf("unexpected preedit %d %v %q %v", rev, visible, text, busErr)
	}

	if busErr := obj.SetFocusedEngine(5, true); busErr != nil || !facade.focused[5] {
		t.Fatalf("focus update not forwarded: %v", busErr)
	}
	busErr = obj.SetFocusedEngine(0, true)
	if busErr == nil || busErr.Name != errorPrefix+"invalid_target" {
		t.Fatalf("expected invalid_target bus error, got %v", busErr)
	}
}

func TestObjectStartFailureCarriesCode(t *testing.T) {
	t.Parallel()

	facade := &fakeFacade{startErr: domain.NewError(domain.ErrorCodeNoModel, "No model selected")}
	obj := &object{facade: facade, logger: nopLogger()}

	_, _, busErr := obj.StartRecordingSessionForTarget(1)
	if busErr == nil {
		t.Fatalf("expected error")
	}
	want := dbus.NewError(errorPrefix+"no_model", []interface{}{"No model selected"})
	if busErr.Name != want.Name || busErr.Body[0] != want.Body[0] {
		t.Fatalf("expected %v, got %v", want, busErr)
	}
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
