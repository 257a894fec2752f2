package toggle

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"dikt/internal/health"
	"dikt/internal/input"
)

type scriptedReader struct {
	events chan input.KeyEvent
}

func (r *scriptedReader) Path() string { return "scripted" }

func (r *scriptedReader) ReadKeys(ctx context.Context, out chan<- input.KeyEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			out <- ev
		}
	}
}

type scriptedSource struct {
	mu     sync.Mutex
	opens  int
	err    error
	reader *scriptedReader
}

func (s *scriptedSource) Open(context.Context) ([]KeyReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.err != nil {
		return nil, s.err
	}
	return []KeyReader{s.reader}, nil
}

func (s *scriptedSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func startListener(t *testing.T, source *scriptedSource, client *fakeClient, diag *health.Diagnostics) *Listener {
	t.Helper()

	binding, err := input.ParseBinding("Ctrl+Space")
	if err != nil {
		t.Fatalf("parse binding: %v", err)
	}
	ctrl := NewController(Deps{Client: client, Health: diag}, testConfig())
	l := NewListener(ListenerDeps{Controller: ctrl, Source: source, Health: diag}, binding, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestListenerShortcutPressStartsRecording(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{reader: &scriptedReader{events: make(chan input.KeyEvent)}}
	client := newFakeClient()
	diag := health.New()
	startListener(t, source, client, diag)

	eventually(t, func() bool { return diag.Snapshot().ShortcutBound }, "bound listener")

	keys := source.reader.events
	keys <- input.KeyEvent{Code: input.KeySpace, Value: input.KeyPressed}
	keys <- input.KeyEvent{Code: input.KeySpace, Value: input.KeyReleased}
	keys <- input.KeyEvent{Code: input.KeyLeftCtrl, Value: input.KeyPressed}
	keys <- input.KeyEvent{Code: input.KeySpace, Value: input.KeyRepeated}
	keys <- input.KeyEvent{Code: input.KeySpace, Value: input.KeyPressed}

	eventually(t, func() bool { return diag.Snapshot().CurrentState == "recording" }, "recording")
	if got := client.startCount(); got != 1 {
		t.Fatalf("expected exactly one start, got %d", got)
	}
	if got := diag.Snapshot().ShortcutDescription; got != "Ctrl+Space" {
		t.Fatalf("unexpected shortcut description %q", got)
	}
}

func TestListenerRebindCancelsActiveSession(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{reader: &scriptedReader{events: make(chan input.KeyEvent)}}
	client := newFakeClient()
	diag := health.New()
	l := startListener(t, source, client, diag)

	eventually(t, func() bool { return diag.Snapshot().ShortcutBound }, "bound listener")
	source.reader.events <- input.KeyEvent{Code: input.KeyLeftCtrl, Value: input.KeyPressed}
	source.reader.events <- input.KeyEvent{Code: input.KeySpace, Value: input.KeyPressed}
	eventually(t, func() bool { return diag.Snapshot().CurrentState == "recording" }, "recording")

	next, err := input.ParseBinding("Super+D")
	if err != nil {
		t.Fatalf("parse binding: %v", err)
	}
	l.Rebind(next)

	select {
	case id := <-client.cancelled:
		if id != 1 {
			t.Fatalf("expected cleanup cancel of session 1, got %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected cleanup cancel on rebind")
	}
	eventually(t, func() bool { return source.openCount() == 2 }, "second bind")
	eventually(t, func() bool { return diag.Snapshot().ShortcutDescription == "Super+D" }, "new shortcut")
}

func TestListenerPermissionFailureMarksUnhealthyAndRetries(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{err: fmt.Errorf("open /dev/input/event3: %w", fs.ErrPermission)}
	diag := health.New()
	startListener(t, source, newFakeClient(), diag)

	eventually(t, func() bool { return source.openCount() >= 2 }, "retry")
	snap := diag.Snapshot()
	if snap.Healthy || snap.Code != "evdev_permission_denied" {
		t.Fatalf("expected permission failure, got %+v", snap)
	}
	if snap.BindFailCount < 1 || snap.ShortcutBound {
		t.Fatalf("expected bind failure recorded, got %+v", snap)
	}
}
