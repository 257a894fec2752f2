package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	active   string
	samples  []float32
	growth   int
	stopMiss bool
	starts   int
	cancels  int

	// gate, when set, holds TryStart until it is closed; entered is closed
	// once TryStart is waiting.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRecorder) TryStart(_ context.Context, bindingID string) error {
	if f.gate != nil {
		close(f.entered)
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}
	if f.active != "" {
		return domain.NewError(domain.ErrorCodeRecorderBusy, "binding %s active", f.active)
	}
	f.active = bindingID
	f.starts++
	return nil
}

func (f *fakeRecorder) Stop(bindingID string) ([]float32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopMiss || f.active != bindingID {
		return nil, false
	}
	f.active = ""
	return append([]float32(nil), f.samples...), true
}

func (f *fakeRecorder) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
	f.cancels++
}

func (f *fakeRecorder) Snapshot(bindingID string, maxSamples int) ([]float32, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != bindingID {
		return nil, 0, false
	}
	f.samples = append(f.samples, make([]float32, f.growth)...)
	window := f.samples
	if len(window) > maxSamples {
		window = window[len(window)-maxSamples:]
	}
	return append([]float32(nil), window...), len(f.samples), true
}

func (f *fakeRecorder) activeBinding() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRecorder) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type fakeTranscriber struct {
	mu       sync.Mutex
	noModel  bool
	text     string
	err      error
	panics   bool
	live     []string
	liveCall int
}

func (f *fakeTranscriber) HasModel() bool { return !f.noModel }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []float32) (string, error) {
	if f.panics {
		panic("decoder exploded")
	}
	return f.text, f.err
}

func (f *fakeTranscriber) TranscribeLive(_ context.Context, _ []float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.live) == 0 {
		return "", errors.New("no live text configured")
	}
	text := f.live[min(f.liveCall, len(f.live)-1)]
	f.liveCall++
	return text, nil
}

func (f *fakeTranscriber) liveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCall
}

type fakeSignals struct {
	mu        sync.Mutex
	ready     []string
	recording []bool
	errors    []string
}

func (f *fakeSignals) TranscriptionReady(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, text)
}

func (f *fakeSignals) RecordingStateChanged(isRecording bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = append(f.recording, isRecording)
}

func (f *fakeSignals) Error(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
}

func (f *fakeSignals) snapshot() (ready []string, recording []bool, errs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ready...), append([]bool(nil), f.recording...), append([]string(nil), f.errors...)
}

type fakeFeedback struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeFeedback) PlayStart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeFeedback) PlayStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeProvider struct {
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	sendErr    error
	waitErr    error
	sent       int
	closeSend  int
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent += len(chunk)
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
