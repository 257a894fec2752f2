// Package engine runs the input-method side of the protocol: it reports
// focus for one engine instance and delivers the text the daemon queued for
// that instance.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

const (
	DefaultPollInterval        = 60 * time.Millisecond
	DefaultPreeditPollTicks    = 4
	DefaultPreeditRefreshTicks = 5
	DefaultReconnectThreshold  = 5
	DefaultCallTimeout         = 2 * time.Second
	DefaultDisableTakeTimeout  = 80 * time.Millisecond

	logEvery = 10
)

type Config struct {
	PollInterval        time.Duration
	PreeditPollTicks    int
	PreeditRefreshTicks int
	ReconnectThreshold  int
	CallTimeout         time.Duration
	DisableTakeTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PreeditPollTicks <= 0 {
		c.PreeditPollTicks = DefaultPreeditPollTicks
	}
	if c.PreeditRefreshTicks <= 0 {
		c.PreeditRefreshTicks = DefaultPreeditRefreshTicks
	}
	if c.ReconnectThreshold <= 0 {
		c.ReconnectThreshold = DefaultReconnectThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.DisableTakeTimeout <= 0 {
		c.DisableTakeTimeout = DefaultDisableTakeTimeout
	}
	return c
}

// Dialer opens a fresh connection to the daemon.
type Dialer func(ctx context.Context) (ports.EngineClient, error)

type Deps struct {
	Dial   Dialer
	Sink   ports.TextSink
	Logger *zap.SugaredLogger
}

type claim struct {
	sessionID uint64
	token     string
}

// Listener tracks one engine instance. Enable starts the commit poll loop,
// Disable stops it and flushes any commit still queued for the last claim.
type Listener struct {
	dial   Dialer
	sink   ports.TextSink
	logger *zap.SugaredLogger
	cfg    Config

	mu      sync.Mutex
	client  ports.EngineClient
	target  uint64
	enabled bool
	focused bool
	stop    context.CancelFunc
	done    chan struct{}
	last    claim
	reports sync.WaitGroup
}

func NewListener(deps Deps, cfg Config) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Listener{
		dial:   deps.Dial,
		sink:   deps.Sink,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

func (l *Listener) FocusIn(ctx context.Context, targetID uint64) {
	l.mu.Lock()
	l.focused = true
	l.mu.Unlock()
	l.logger.Infow("engine focus in", "target", targetID)
	l.reportFocus(ctx, targetID, true)
}

func (l *Listener) FocusOut(ctx context.Context, targetID uint64) {
	l.mu.Lock()
	l.focused = false
	l.mu.Unlock()
	l.logger.Infow("engine focus out", "target", targetID)
	l.sink.HidePreedit(targetID)
	l.reportFocus(ctx, targetID, false)
}

// Enable binds the listener to targetID. Enabling the already active target
// keeps the running poll loop.
func (l *Listener) Enable(ctx context.Context, targetID uint64) error {
	if targetID == 0 {
		return domain.ErrInvalidTarget
	}

	l.mu.Lock()
	if l.done != nil && l.target == targetID {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	l.stopPolling()

	if err := l.ensureClient(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.enabled = true
	l.target = targetID
	focused := l.focused
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.stop, l.done = cancel, done
	l.mu.Unlock()

	l.reportFocus(ctx, targetID, focused)
	go l.poll(pollCtx, targetID, done)
	return nil
}

// Disable stops polling, then takes one last pending commit for the most
// recent claim within a short timeout so text finalized during teardown is
// not lost.
func (l *Listener) Disable(ctx context.Context) {
	l.mu.Lock()
	target, enabled := l.target, l.enabled
	l.mu.Unlock()
	if !enabled {
		return
	}

	l.reportFocus(ctx, target, false)
	l.stopPolling()
	l.flushPending(ctx, target)
	l.sink.HidePreedit(target)

	l.mu.Lock()
	l.enabled = false
	l.focused = false
	l.target = 0
	l.last = claim{}
	l.mu.Unlock()
}

// Close disables the listener and waits for focus reports in flight.
func (l *Listener) Close() error {
	l.Disable(context.Background())
	l.reports.Wait()

	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (l *Listener) ensureClient(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return nil
	}
	client, err := l.dial(ctx)
	if err != nil {
		l.logger.Errorw("connect to transcription service failed", "error", err)
		return err
	}
	l.client = client
	return nil
}

func (l *Listener) reportFocus(ctx context.Context, targetID uint64, focused bool) {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil || targetID == 0 {
		return
	}

	l.reports.Add(1)
	go func() {
		defer l.reports.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CallTimeout)
		defer cancel()
		if err := client.SetFocusedEngine(callCtx, targetID, focused); err != nil {
			l.logger.Warnw("SetFocusedEngine failed", "target", targetID, "focused", focused, "error", err)
		}
	}()
}

func (l *Listener) stopPolling() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (l *Listener) flushPending(ctx context.Context, target uint64) {
	l.mu.Lock()
	last, client := l.last, l.client
	l.mu.Unlock()
	if last.sessionID == 0 || last.token == "" || client == nil {
		return
	}

	takeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.DisableTakeTimeout)
	defer cancel()
	ok, text, err := client.TakePendingCommitForSession(takeCtx, last.sessionID, last.token)
	if err != nil {
		l.logger.Debugw("take pending commit on disable failed", "session", last.sessionID, "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return
	}
	l.logger.Infow("committing pending transcription on disable", "session", last.sessionID, "text_len", len(text))
	l.sink.HidePreedit(target)
	l.sink.CommitText(target, text)
}

func (l *Listener) setClaim(c claim) {
	l.mu.Lock()
	l.last = c
	l.mu.Unlock()
}
