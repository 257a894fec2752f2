package toggle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/health"
	"dikt/internal/ports"
)

// runner performs the blocking RPC work behind StartSession, StopSession and
// CancelSession effects. It never touches controller state.
type runner struct {
	client   ports.ToggleClient
	switcher ports.InputSourceSwitcher
	health   *health.Diagnostics
	logger   *zap.SugaredLogger
	cfg      Config
}

func (r *runner) start(ctx context.Context, toggleID uint64) StartCompleted {
	result := StartCompleted{ToggleSessionID: toggleID}

	if err := r.ensureInputSource(ctx, toggleID); err != nil {
		result.Err = err
		return result
	}

	target, err := r.waitForFocusedTarget(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	r.health.PushEvent("toggle:%d focused engine confirmed id=%d", toggleID, target)

	if err := sleepCtx(ctx, r.cfg.StartArmDelay); err != nil {
		result.Err = domain.WrapError(domain.ErrorCodeStartFailed, err, "start aborted")
		return result
	}

	// Once issued, the start RPC outlives ctx: the daemon creates the session
	// regardless, and only a returned id lets the caller cancel it as stale.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StartTimeout)
	defer cancel()
	daemonID, token, err := r.client.StartRecordingSessionForTarget(callCtx, target)
	if err != nil {
		result.Err = domain.WrapError(domain.CodeOf(err, domain.ErrorCodeStartFailed), err, "start recording for target %d", target)
		return result
	}
	result.DaemonSessionID = daemonID
	result.ClaimToken = token
	return result
}

// ensureInputSource switches to the dictation input method unless it is
// already active. A failed read of the current source is not fatal.
func (r *runner) ensureInputSource(ctx context.Context, toggleID uint64) error {
	if r.switcher == nil {
		return nil
	}

	current, err := r.switcher.Current(ctx)
	if err != nil {
		r.logger.Warnw("could not read current input source; switching anyway", "toggle_session_id", toggleID, "error", err)
		r.health.PushEvent("toggle:%d read current input source failed (non-fatal): %v", toggleID, err)
	} else if r.switcher.IsTarget(current) {
		r.health.RecordSwitchConfirmed(0)
		r.health.IncPressWhileTarget()
		r.health.PushEvent("toggle:%d pressed while dictation source already active", toggleID)
		return nil
	}

	r.health.RecordSwitchAttempt()
	started := time.Now()
	engine, err := r.switcher.SwitchVerified(ctx, r.cfg.SwitchVerifyTimeout)
	if err != nil {
		r.health.RecordSwitchFailure(err.Error())
		return domain.WrapError(domain.ErrorCodeSwitchFailed, err, "input source switch not confirmed")
	}
	latency := time.Since(started)
	r.health.RecordSwitchConfirmed(latency)
	r.health.PushEvent("toggle:%d switch confirmed to %s (%d ms)", toggleID, engine, latency.Milliseconds())
	return nil
}

func (r *runner) waitForFocusedTarget(ctx context.Context) (uint64, error) {
	deadline := time.Now().Add(r.cfg.FocusVerifyTimeout)
	var (
		last    domain.FocusState
		lastErr error
	)
	for {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		focus, err := r.client.GetFocusedEngine(callCtx)
		cancel()
		if err == nil {
			last = focus
			r.health.SetFocusedEngine(focus.TargetID, focus.LastChangeMs)
			if focus.TargetID != 0 {
				return focus.TargetID, nil
			}
		} else {
			lastErr = err
		}

		if !time.Now().Before(deadline) {
			break
		}
		if err := sleepCtx(ctx, r.cfg.FocusPollInterval); err != nil {
			lastErr = err
			break
		}
	}

	r.health.SetFocusedEngine(0, last.LastChangeMs)
	return 0, domain.WrapError(domain.ErrorCodeFocusUnavailable, lastErr,
		"engine did not report a focused context within %s (last_change_ms=%d)", r.cfg.FocusVerifyTimeout, last.LastChangeMs)
}

// stop classifies the stop RPC. Errors are resolved with a state query: a
// daemon that no longer records is assumed to be finalizing. This can mask a
// genuine late failure that coincides with the timeout.
func (r *runner) stop(ctx context.Context, toggleID uint64, daemonID uint64) StopCompleted {
	result := StopCompleted{ToggleSessionID: toggleID}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	ok, err := r.client.StopRecordingSession(callCtx, daemonID)
	cancel()

	switch {
	case err == nil && ok:
		result.Outcome = StopOutcome{Kind: StopAcknowledged}
		return result
	case err == nil:
		result.Outcome = StopOutcome{
			Kind:   StopFailed,
			Detail: "StopRecordingSession returned false; " + r.fallbackCancel(ctx, daemonID),
		}
		return result
	}

	timedOut := isTimeout(err)
	if !r.daemonStillRecording(ctx) {
		result.Outcome = StopOutcome{
			Kind:     StopFinalizing,
			TimedOut: timedOut,
			Detail:   fmt.Sprintf("stop call failed (%v), daemon reports recording stopped; waiting for final commit", err),
		}
		return result
	}

	detail := fmt.Sprintf("StopRecordingSession failed: %v", err)
	if timedOut {
		detail = fmt.Sprintf("StopRecordingSession call timed out after %s", r.cfg.StopTimeout)
	}
	result.Outcome = StopOutcome{Kind: StopFailed, TimedOut: timedOut, Detail: detail + "; " + r.fallbackCancel(ctx, daemonID)}
	return result
}

// daemonStillRecording treats an unreachable daemon as recording so the
// fallback cancel is attempted.
func (r *runner) daemonStillRecording(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	state, err := r.client.GetState(callCtx)
	if err != nil {
		r.logger.Warnw("daemon state query failed after stop error", "error", err)
		return true
	}
	return state.IsRecording
}

func (r *runner) fallbackCancel(ctx context.Context, daemonID uint64) string {
	if err := r.cancel(ctx, daemonID); err != nil {
		return fmt.Sprintf("fallback CancelRecordingSession(%d) failed: %v", daemonID, err)
	}
	return fmt.Sprintf("fallback CancelRecordingSession(%d) succeeded", daemonID)
}

// cancel runs even when ctx is already done, bounded by the call timeout.
func (r *runner) cancel(ctx context.Context, daemonID uint64) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	ok, err := r.client.CancelRecordingSession(callCtx, daemonID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("CancelRecordingSession returned false for session %d", daemonID)
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
