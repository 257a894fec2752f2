package toggle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/health"
	"dikt/internal/ports"
)

const (
	DefaultDebounce            = 90 * time.Millisecond
	DefaultStartArmDelay       = 120 * time.Millisecond
	DefaultStartTimeout        = 5 * time.Second
	DefaultStopTimeout         = 20 * time.Second
	DefaultCallTimeout         = 2 * time.Second
	DefaultSwitchVerifyTimeout = 350 * time.Millisecond
	DefaultFocusVerifyTimeout  = 700 * time.Millisecond
	DefaultFocusPollInterval   = 20 * time.Millisecond
)

// Config holds the toggle timings. Zero values select the defaults.
type Config struct {
	Debounce            time.Duration
	StartArmDelay       time.Duration
	StartTimeout        time.Duration
	StopTimeout         time.Duration
	CallTimeout         time.Duration
	SwitchVerifyTimeout time.Duration
	FocusVerifyTimeout  time.Duration
	FocusPollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	def := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.Debounce, DefaultDebounce)
	def(&c.StartArmDelay, DefaultStartArmDelay)
	def(&c.StartTimeout, DefaultStartTimeout)
	def(&c.StopTimeout, DefaultStopTimeout)
	def(&c.CallTimeout, DefaultCallTimeout)
	def(&c.SwitchVerifyTimeout, DefaultSwitchVerifyTimeout)
	def(&c.FocusVerifyTimeout, DefaultFocusVerifyTimeout)
	def(&c.FocusPollInterval, DefaultFocusPollInterval)
	return c
}

type Deps struct {
	Client   ports.ToggleClient
	Switcher ports.InputSourceSwitcher
	Notifier ports.Notifier
	Health   *health.Diagnostics
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Controller owns the toggle state. All transitions happen on the goroutine
// running Run; RPC work happens on short-lived goroutines whose results come
// back as events.
type Controller struct {
	cfg      Config
	runner   *runner
	notifier ports.Notifier
	health   *health.Diagnostics
	logger   *zap.SugaredLogger
	now      func() time.Time

	state        State
	lastPress    time.Time
	nextToggleID uint64

	events chan Event
	runCtx context.Context
	wg     sync.WaitGroup
}

func NewController(deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	diag := deps.Health
	if diag == nil {
		diag = health.New()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		cfg: cfg,
		runner: &runner{
			client:   deps.Client,
			switcher: deps.Switcher,
			health:   diag,
			logger:   logger,
			cfg:      cfg,
		},
		notifier: deps.Notifier,
		health:   diag,
		logger:   logger,
		now:      now,
		state:    Idle{},
		events:   make(chan Event, 8),
		runCtx:   context.Background(),
	}
}

// Run processes presses until ctx is done or presses is closed, then runs the
// shutdown transition and waits for in-flight RPC work. A Controller may be
// run again afterwards; toggle ids keep increasing.
func (c *Controller) Run(ctx context.Context, presses <-chan struct{}) {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	defer func() {
		c.handle(Shutdown{Reason: "cleanup"})
		cancel()
		c.wg.Wait()
		c.drain()
		c.runCtx = context.Background()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-presses:
			if !ok {
				return
			}
			c.press()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) press() {
	now := c.now()
	if !c.lastPress.IsZero() && now.Sub(c.lastPress) < c.cfg.Debounce {
		c.health.PushEvent("press ignored by debounce")
		return
	}
	c.lastPress = now

	next := c.nextToggleID + 1
	c.handle(Pressed{NextToggleSessionID: next})
	if pending, ok := c.state.(Pending); ok && pending.ToggleSessionID == next {
		c.nextToggleID = next
	}
}

func (c *Controller) handle(ev Event) {
	next, effects := Transition(c.state, ev)
	c.state = next
	c.health.SetState(next.Name())
	for _, effect := range effects {
		c.execute(effect)
	}
}

// drain discards results that arrived after shutdown; a successful start
// among them is orphaned and must be cancelled.
func (c *Controller) drain() {
	for {
		select {
		case ev := <-c.events:
			if started, ok := ev.(StartCompleted); ok && started.Err == nil {
				c.cancelOrphan(c.runCtx, started.DaemonSessionID)
			}
		default:
			return
		}
	}
}

func (c *Controller) execute(effect Effect) {
	switch e := effect.(type) {
	case StartSession:
		c.spawn(func(ctx context.Context) Event { return c.runner.start(ctx, e.ToggleSessionID) })
	case StopSession:
		c.spawn(func(ctx context.Context) Event { return c.runner.stop(ctx, e.ToggleSessionID, e.DaemonSessionID) })
	case CancelSession:
		c.health.PushEvent("cancel daemon session %d (%s)", e.DaemonSessionID, e.Reason)
		c.cancelInBackground(e.DaemonSessionID, e.Reason)
	case ReportStartFailure:
		detail := domain.DetailOf(e.Err)
		c.logger.Warnw("start recording failed", "toggle_session_id", e.ToggleSessionID, "code", e.Code, "error", e.Err)
		c.health.RecordStartFailure(string(e.Code), detail)
		c.health.MarkUnhealthy("start_recording_failed", detail)
		c.notify(e.Code)
	case ReportStopFailure:
		c.logger.Warnw("stop recording failed", "toggle_session_id", e.ToggleSessionID, "session_id", e.DaemonSessionID, "detail", e.Detail)
		c.health.RecordStopFailure(e.Detail)
		c.health.MarkUnhealthy("stop_recording_failed", e.Detail)
		c.notify(domain.ErrorCodeStopFailed)
	case ExpectCommit:
		if e.TimedOut {
			c.health.IncStopTimeoutFallback()
		}
		c.health.ClearStopFailure()
		c.health.ExpectPendingCommit(e.DaemonSessionID)
	case ClearCommitExpectation:
		c.health.ClearPendingCommit()
	case ClearFailures:
		c.health.ClearStartFailure()
		c.health.ClearStopFailure()
	case LogEvent:
		c.logger.Debugw(e.Message)
		c.health.PushEvent("%s", e.Message)
	}
}

func (c *Controller) spawn(work func(context.Context) Event) {
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ev := work(ctx)
		select {
		case c.events <- ev:
		case <-ctx.Done():
			if started, ok := ev.(StartCompleted); ok && started.Err == nil {
				c.cancelOrphan(ctx, started.DaemonSessionID)
			}
		}
	}()
}

func (c *Controller) cancelInBackground(daemonID uint64, reason string) {
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.runner.cancel(ctx, daemonID); err != nil {
			c.logger.Warnw("cancel recording session failed", "session_id", daemonID, "reason", reason, "error", err)
			c.health.PushEvent("cancel daemon session %d failed: %v", daemonID, err)
		}
	}()
}

func (c *Controller) cancelOrphan(ctx context.Context, daemonID uint64) {
	c.health.PushEvent("cancel orphaned daemon session %d", daemonID)
	if err := c.runner.cancel(ctx, daemonID); err != nil {
		c.logger.Warnw("cancel orphaned session failed", "session_id", daemonID, "error", err)
	}
}

func (c *Controller) notify(code domain.ErrorCode) {
	if c.notifier == nil || !c.health.AllowNotification() {
		return
	}
	n := domain.NotificationFor(code)
	c.notifier.Notify(n.Summary, n.Hint)
}
