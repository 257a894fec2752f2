package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

// pollState is owned by the poll goroutine.
type pollState struct {
	tick             uint64
	failures         int
	preeditSupported bool

	sessionID uint64
	token     string

	lastRevision uint64
	lastVisible  bool
	lastText     string
	refreshTick  int
}

func (s *pollState) resetPreview() {
	s.lastRevision = 0
	s.lastText = ""
	s.refreshTick = 0
}

func (l *Listener) poll(ctx context.Context, target uint64, done chan struct{}) {
	defer close(done)

	client, err := l.dial(ctx)
	if err != nil {
		l.logger.Errorw("pending commit listener could not connect", "target", target, "error", err)
		return
	}
	defer func() { _ = client.Close() }()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	st := pollState{preeditSupported: true}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st.tick++

		active, err := l.activeSession(ctx, client, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			client = l.failed(ctx, client, &st, "GetActiveSessionForEngine", err)
			continue
		}
		l.recovered(&st)

		if active.SessionID != st.sessionID || active.ClaimToken != st.token {
			if st.lastVisible {
				l.sink.HidePreedit(target)
				st.lastVisible = false
			}
			st.resetPreview()
		}
		st.sessionID, st.token = active.SessionID, active.ClaimToken

		if st.sessionID == 0 || st.token == "" {
			l.setClaim(claim{})
			continue
		}
		l.setClaim(claim{sessionID: st.sessionID, token: st.token})

		switch {
		case st.preeditSupported && active.LivePreviewAllowed && st.tick%uint64(l.cfg.PreeditPollTicks) == 0:
			l.pollPreedit(ctx, client, target, &st)
		case !active.LivePreviewAllowed && st.lastVisible:
			l.sink.HidePreedit(target)
			st.lastVisible = false
			st.lastText = ""
			st.refreshTick = 0
		}

		// A take consumes the commit on the daemon side, so it is neither
		// interrupted by stop nor dropped after it succeeds.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CallTimeout)
		ok, text, err := client.TakePendingCommitForSession(callCtx, st.sessionID, st.token)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			client = l.failed(ctx, client, &st, "TakePendingCommitForSession", err)
			continue
		}
		l.recovered(&st)

		text = strings.TrimSpace(text)
		if !ok || text == "" {
			continue
		}
		l.logger.Infow("pending commit ready", "session", st.sessionID, "target", target, "text_len", len(text))
		l.sink.CommitText(target, text)
	}
}

func (l *Listener) activeSession(ctx context.Context, client ports.EngineClient, target uint64) (domain.ActiveSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	return client.GetActiveSessionForEngine(callCtx, target)
}

// pollPreedit shows the preview when it changed, or at least every
// PreeditRefreshTicks polls so a preedit dropped by the client reappears.
func (l *Listener) pollPreedit(ctx context.Context, client ports.EngineClient, target uint64, st *pollState) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	preedit, err := client.GetLivePreeditForSession(callCtx, st.sessionID, st.token)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrUnsupported) {
			l.logger.Warnw("live preedit unavailable, polling disabled", "error", err)
			st.preeditSupported = false
		} else if st.tick == uint64(l.cfg.PreeditPollTicks) || st.tick%50 == 0 {
			l.logger.Warnw("GetLivePreeditForSession failed", "session", st.sessionID, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	text := strings.TrimSpace(preedit.Text)
	show := preedit.Visible && text != ""
	apply := show && (preedit.Revision > st.lastRevision ||
		!st.lastVisible ||
		text != st.lastText ||
		st.refreshTick >= l.cfg.PreeditRefreshTicks)
	hide := !show && (st.lastVisible || preedit.Revision > st.lastRevision)

	switch {
	case apply:
		l.sink.UpdatePreedit(target, text)
		st.refreshTick = 0
	case hide:
		l.sink.HidePreedit(target)
		st.refreshTick = 0
	default:
		st.refreshTick++
	}

	st.lastRevision = max(st.lastRevision, preedit.Revision)
	st.lastVisible = show
	if show {
		st.lastText = text
	} else {
		st.lastText = ""
	}
}

// failed counts a transient failure and swaps in a fresh connection once the
// streak reaches the reconnect threshold.
func (l *Listener) failed(ctx context.Context, client ports.EngineClient, st *pollState, method string, err error) ports.EngineClient {
	st.failures++
	if st.failures == 1 || st.failures%logEvery == 0 {
		l.logger.Warnw(method+" failed", "streak", st.failures, "error", err)
	}
	if st.failures < l.cfg.ReconnectThreshold {
		return client
	}

	fresh, dialErr := l.dial(ctx)
	if dialErr != nil {
		l.logger.Warnw("pending commit listener reconnect failed", "streak", st.failures, "error", dialErr)
		return client
	}
	l.logger.Warnw("reconnected pending commit listener", "streak", st.failures)
	_ = client.Close()
	st.failures = 0
	return fresh
}

func (l *Listener) recovered(st *pollState) {
	if st.failures > 0 {
		l.logger.Infow("pending commit listener recovered", "streak", st.failures)
		st.failures = 0
	}
}
