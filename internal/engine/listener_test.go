package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

type fakeDaemon struct {
	mu        sync.Mutex
	active    domain.ActiveSession
	activeErr error
	preedit   domain.LivePreedit
	preErr    error
	preCalls  int
	commits   map[uint64][]string
	focus     []focusReport
	dials     int
	closed    int

	// takeGate, when set, holds a successful take until it is closed.
	takeGate    chan struct{}
	takeEntered chan struct{}
	enterOnce   sync.Once
}

type focusReport struct {
	target  uint64
	focused bool
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{commits: make(map[uint64][]string)}
}

// dialer hands the first connection to the listener itself and every later
// one to poll loops. Poll connections see no commits when holdPoll is set.
func (d *fakeDaemon) dialer(holdPoll bool) Dialer {
	return func(context.Context) (ports.EngineClient, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.dials++
		return &fakeConn{d: d, hold: holdPoll && d.dials > 1}, nil
	}
}

func (d *fakeDaemon) set(fn func(d *fakeDaemon)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDaemon) get(fn func(d *fakeDaemon) bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d)
}

type fakeConn struct {
	d    *fakeDaemon
	hold bool
}

func (c *fakeConn) SetFocusedEngine(_ context.Context, targetID uint64, focused bool) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.focus = append(c.d.focus, focusReport{target: targetID, focused: focused})
	return nil
}

func (c *fakeConn) GetActiveSessionForEngine(context.Context, uint64) (domain.ActiveSession, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.d.active, c.d.activeErr
}

func (c *fakeConn) GetLivePreeditForSession(context.Context, uint64, string) (domain.LivePreedit, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.preCalls++
	return c.d.preedit, c.d.preErr
}

func (c *fakeConn) TakePendingCommitForSession(ctx context.Context, sessionID uint64, claimToken string) (bool, string, error) {
	c.d.mu.Lock()
	if c.hold || claimToken != c.d.active.ClaimToken {
		c.d.mu.Unlock()
		return false, "", nil
	}
	queue := c.d.commits[sessionID]
	if len(queue) == 0 {
		c.d.mu.Unlock()
		return false, "", nil
	}
	c.d.commits[sessionID] = queue[1:]
	gate := c.d.takeGate
	c.d.mu.Unlock()

	if gate != nil {
		c.d.enterOnce.Do(func() { close(c.d.takeEntered) })
		select {
		case <-gate:
		case <-ctx.Done():
			// The commit is already gone on the daemon side.
			return false, "", ctx.Err()
		}
	}
	return true, queue[0], nil
}

func (c *fakeConn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closed++
	return nil
}

type sinkEvent struct {
	kind   string
	target uint64
	text   string
}

type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *fakeSink) CommitText(targetID uint64, text string) {
	s.add(sinkEvent{kind: "commit", target: targetID, text: text})
}

func (s *fakeSink) UpdatePreedit(targetID uint64, text string) {
	s.add(sinkEvent{kind: "preedit", target: targetID, text: text})
}

func (s *fakeSink) HidePreedit(targetID uint64) {
	s.add(sinkEvent{kind: "hide", target: targetID})
}

func (s *fakeSink) add(ev sinkEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) of(kind string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, ev := range s.events {
		if ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		PollInterval:        2 * time.Millisecond,
		PreeditPollTicks:    2,
		PreeditRefreshTicks: 3,
		ReconnectThreshold:  3,
		CallTimeout:         time.Second,
		DisableTakeTimeout:  time.Second,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestListener(t *testing.T, d *fakeDaemon, holdPoll bool) (*Listener, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	l := NewListener(Deps{Dial: d.dialer(holdPoll), Sink: sink}, testConfig())
	t.Cleanup(func() { _ = l.Close() })
	return l, sink
}

func TestEnableRejectsZeroTarget(t *testing.T) {
	t.Parallel()

	l, _ := newTestListener(t, newFakeDaemon(), false)
	if err := l.Enable(context.Background(), 0); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestCommitIsTrimmedAndDelivered(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 1, ClaimToken: "tok"}
	d.commits[1] = []string{"   ", "  hello world \n"}

	l, sink := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 9); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}

	eventually(t, "commit", func() bool { return len(sink.of("commit")) > 0 })
	commits := sink.of("commit")
	if len(commits) != 1 || commits[0].target != 9 || commits[0].text != "hello world" {
		t.Fatalf("unexpected commits: %+v", commits)
	}
}

func TestNoClaimMeansNoTake(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.commits[0] = []string{"stray"}

	l, sink := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 9); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := sink.of("commit"); len(got) != 0 {
		t.Fatalf("expected no commits without a claim, got %+v", got)
	}
}

func TestPreeditShownThenHiddenOnSessionChange(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 1, ClaimToken: "a", LivePreviewAllowed: true}
	d.preedit = domain.LivePreedit{Revision: 1, Visible: true, Text: " hel "}

	l, sink := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 4); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}

	eventually(t, "preedit", func() bool { return len(sink.of("preedit")) > 0 })
	if got := sink.of("preedit")[0]; got.text != "hel" || got.target != 4 {
		t.Fatalf("unexpected preedit %+v", got)
	}

	d.set(func(d *fakeDaemon) {
		d.active = domain.ActiveSession{SessionID: 2, ClaimToken: "b"}
	})
	eventually(t, "hide", func() bool { return len(sink.of("hide")) > 0 })
}

func TestPreeditRefreshedWithoutChanges(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 1, ClaimToken: "a", LivePreviewAllowed: true}
	d.preedit = domain.LivePreedit{Revision: 3, Visible: true, Text: "same"}

	l, sink := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 4); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	eventually(t, "periodic re-apply", func() bool { return len(sink.of("preedit")) >= 2 })
}

func TestUnsupportedPreeditStopsPolling(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 1, ClaimToken: "a", LivePreviewAllowed: true}
	d.preErr = domain.ErrUnsupported

	l, _ := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 4); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	eventually(t, "first preedit call", func() bool {
		return d.get(func(d *fakeDaemon) bool { return d.preCalls > 0 })
	})
	time.Sleep(30 * time.Millisecond)
	if d.get(func(d *fakeDaemon) bool { return d.preCalls != 1 }) {
		t.Fatal("expected preedit polling to stop after an unsupported reply")
	}
}

func TestRepeatedFailuresReconnect(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.activeErr = errors.New("bus gone")

	l, _ := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 4); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	// One dial for focus reports, one for the poll loop, then reconnects.
	eventually(t, "reconnect", func() bool {
		return d.get(func(d *fakeDaemon) bool { return d.dials >= 3 && d.closed >= 1 })
	})
}

func TestDisableFlushesPendingCommit(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 5, ClaimToken: "tok"}

	l, sink := newTestListener(t, d, true)
	if err := l.Enable(context.Background(), 8); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	eventually(t, "claim", func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.last.sessionID == 5
	})
	d.set(func(d *fakeDaemon) { d.commits[5] = []string{"final words"} })

	l.Disable(context.Background())

	commits := sink.of("commit")
	if len(commits) != 1 || commits[0].text != "final words" || commits[0].target != 8 {
		t.Fatalf("unexpected commits after disable: %+v", commits)
	}
	if len(sink.of("hide")) == 0 {
		t.Fatal("expected preedit to be hidden on disable")
	}
}

func TestFocusReports(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	l, sink := newTestListener(t, d, false)
	ctx := context.Background()

	if err := l.Enable(ctx, 3); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	l.FocusIn(ctx, 3)
	l.FocusOut(ctx, 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	d.mu.Lock()
	reports := append([]focusReport(nil), d.focus...)
	d.mu.Unlock()

	var in, out int
	for _, r := range reports {
		if r.target != 3 {
			t.Fatalf("unexpected target in %+v", r)
		}
		if r.focused {
			in++
		} else {
			out++
		}
	}
	if in != 1 || out < 2 {
		t.Fatalf("unexpected focus reports %+v", reports)
	}
	if len(sink.of("hide")) == 0 {
		t.Fatal("focus out should hide the preedit")
	}
}

func TestWriterSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewWriterSink(&buf, false)
	sink.UpdatePreedit(1, "partial")
	sink.HidePreedit(1)
	sink.CommitText(1, "done")

	if got := buf.String(); got != "1\tcommit\tdone\n" {
		t.Fatalf("unexpected output %q", got)
	}

	buf.Reset()
	sink.ShowPreedit = true
	sink.UpdatePreedit(2, "par")
	if !strings.HasPrefix(buf.String(), "2\tpreedit\tpar") {
		t.Fatalf("unexpected preedit output %q", buf.String())
	}
}

func TestDisableDuringTakeKeepsCommit(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon()
	d.active = domain.ActiveSession{SessionID: 4, ClaimToken: "tok"}
	d.commits[4] = []string{"in flight"}
	gate := make(chan struct{})
	d.takeGate = gate
	d.takeEntered = make(chan struct{})

	l, sink := newTestListener(t, d, false)
	if err := l.Enable(context.Background(), 9); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}

	select {
	case <-d.takeEntered:
	case <-time.After(2 * time.Second):
		t.Fatalf("poll never took the commit")
	}

	disabled := make(chan struct{})
	go func() {
		defer close(disabled)
		l.Disable(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	close(gate)

	select {
	case <-disabled:
	case <-time.After(2 * time.Second):
		t.Fatalf("Disable did not return")
	}

	commits := sink.of("commit")
	if len(commits) != 1 || commits[0].text != "in flight" || commits[0].target != 9 {
		t.Fatalf("expected the taken commit delivered once, got %+v", commits)
	}
}
