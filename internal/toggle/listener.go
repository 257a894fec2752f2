package toggle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"dikt/internal/health"
	"dikt/internal/input"
	"dikt/internal/ports"
)

const DefaultRetryDelay = 2 * time.Second

// KeySource opens the keyboards of one listener session.
type KeySource interface {
	Open(ctx context.Context) ([]KeyReader, error)
}

type KeyReader interface {
	Path() string
	ReadKeys(ctx context.Context, out chan<- input.KeyEvent) error
}

// DeviceSource opens every evdev keyboard matching Glob.
type DeviceSource struct {
	Glob string
}

func (s DeviceSource) Open(context.Context) ([]KeyReader, error) {
	paths, err := input.FindKeyboards(s.Glob)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no keyboard devices match %s", s.Glob)
	}

	var (
		readers  []KeyReader
		firstErr error
	)
	for _, path := range paths {
		dev, err := input.OpenDevice(path)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("open %s: %w", path, err)
			}
			continue
		}
		readers = append(readers, dev)
	}
	if len(readers) == 0 {
		return nil, firstErr
	}
	return readers, nil
}

type ListenerDeps struct {
	Controller *Controller
	Source     KeySource
	Notifier   ports.Notifier
	Health     *health.Diagnostics
	Logger     *zap.SugaredLogger
}

// Listener turns shortcut presses on the keyboards into controller presses.
// Each bind session runs its own controller loop; ending a session runs the
// controller's cleanup.
type Listener struct {
	ctrl       *Controller
	source     KeySource
	notifier   ports.Notifier
	health     *health.Diagnostics
	logger     *zap.SugaredLogger
	retryDelay time.Duration

	mu      sync.Mutex
	binding input.Binding
	rebind  chan struct{}
}

func NewListener(deps ListenerDeps, binding input.Binding, retryDelay time.Duration) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	diag := deps.Health
	if diag == nil {
		diag = health.New()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Listener{
		ctrl:       deps.Controller,
		source:     deps.Source,
		notifier:   deps.Notifier,
		health:     diag,
		logger:     logger,
		retryDelay: retryDelay,
		binding:    binding,
		rebind:     make(chan struct{}, 1),
	}
}

// Rebind replaces the shortcut and restarts the current bind session.
func (l *Listener) Rebind(binding input.Binding) {
	l.mu.Lock()
	l.binding = binding
	l.mu.Unlock()

	select {
	case l.rebind <- struct{}{}:
	default:
	}
}

func (l *Listener) currentBinding() input.Binding {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.binding
}

// Run binds the shortcut until ctx is done, retrying failed sessions.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			l.health.PushEvent("listener rebind requested")
			continue
		}

		code := "evdev_session_error"
		if errors.Is(err, fs.ErrPermission) {
			code = "evdev_permission_denied"
		}
		l.logger.Warnw("shortcut listener session failed", "code", code, "error", err)
		l.health.MarkUnhealthy(code, err.Error())
		l.health.PushEvent("listener session failed (%s): %v", code, err)
		l.notifyFailure(code)

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-l.rebind:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// session returns nil when a rebind was requested or ctx ended.
func (l *Listener) session(ctx context.Context) error {
	select {
	case <-l.rebind:
	default:
	}

	binding := l.currentBinding()
	if binding.Key == 0 {
		return errors.New("no shortcut configured")
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readers, err := l.source.Open(sessCtx)
	if err != nil {
		return err
	}

	keys := make(chan input.KeyEvent, 64)
	exits := make(chan error, len(readers))
	var wg sync.WaitGroup
	for _, reader := range readers {
		wg.Add(1)
		go func(reader KeyReader) {
			defer wg.Done()
			err := reader.ReadKeys(sessCtx, keys)
			if err == nil && sessCtx.Err() == nil {
				err = fmt.Errorf("reader %s stopped", reader.Path())
			}
			exits <- err
		}(reader)
	}

	presses := make(chan struct{})
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		l.ctrl.Run(sessCtx, presses)
	}()
	defer func() {
		cancel()
		<-ctrlDone
		wg.Wait()
	}()

	l.health.SetShortcutDescription(binding.String())
	l.health.MarkHealthy(fmt.Sprintf("Listening for %s on %d keyboard(s)", binding, len(readers)))
	l.logger.Infow("shortcut listener bound", "shortcut", binding.String(), "devices", len(readers))

	tracker := input.NewModifierTracker()
	alive := len(readers)
	var lastErr error
	for {
		select {
		case <-sessCtx.Done():
			return nil
		case <-l.rebind:
			return nil
		case err := <-exits:
			alive--
			if err != nil {
				lastErr = err
				l.logger.Warnw("keyboard reader exited", "error", err)
			}
			if alive == 0 {
				return fmt.Errorf("all keyboard readers exited: %w", lastErr)
			}
		case ev := <-keys:
			tracker.Observe(ev)
			if ev.Value != input.KeyPressed || !binding.Matches(ev.Code, tracker.Current()) {
				continue
			}
			select {
			case presses <- struct{}{}:
			case <-sessCtx.Done():
				return nil
			}
		}
	}
}

func (l *Listener) notifyFailure(code string) {
	if l.notifier == nil || !l.health.AllowNotification() {
		return
	}
	hint := "Check that the input devices are readable and restart the listener."
	if code == "evdev_permission_denied" {
		hint = "Add your user to the input group or grant read access to /dev/input."
	}
	l.notifier.Notify("Dictation shortcut unavailable", hint)
}
