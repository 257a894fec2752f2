package ports

import (
	"context"
	"time"

	"dikt/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// Recorder owns the microphone. At most one binding records at a time.
type Recorder interface {
	TryStart(ctx context.Context, bindingID string) error
	// Stop ends the capture for bindingID and returns everything recorded.
	// ok is false when bindingID is not the active capture.
	Stop(bindingID string) (samples []float32, ok bool)
	Cancel()
	// Snapshot copies at most maxSamples of the newest audio without stopping.
	// total counts every sample captured so far, including ones outside the window.
	Snapshot(bindingID string, maxSamples int) (window []float32, total int, ok bool)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Transcriber turns captured samples into text.
type Transcriber interface {
	HasModel() bool
	Transcribe(ctx context.Context, samples []float32) (string, error)
	TranscribeLive(ctx context.Context, samples []float32) (string, error)
}

// PostProcessor transforms transcripts using deterministic rules.
type PostProcessor interface {
	Apply(text string) (string, error)
}

// FeedbackPlayer plays short audio cues around recording.
type FeedbackPlayer interface {
	PlayStart()
	PlayStop()
}

// SignalEmitter broadcasts daemon signals to bus listeners.
type SignalEmitter interface {
	TranscriptionReady(text string)
	RecordingStateChanged(isRecording bool)
	Error(message string)
}

// ToggleClient is the daemon surface used by the toggle controller.
type ToggleClient interface {
	StartRecordingSessionForTarget(ctx context.Context, targetID uint64) (uint64, string, error)
	StopRecordingSession(ctx context.Context, sessionID uint64) (bool, error)
	CancelRecordingSession(ctx context.Context, sessionID uint64) (bool, error)
	GetState(ctx context.Context) (domain.DaemonState, error)
	GetFocusedEngine(ctx context.Context) (domain.FocusState, error)
}

// EngineClient is the daemon surface used by input method engines.
type EngineClient interface {
	SetFocusedEngine(ctx context.Context, targetID uint64, focused bool) error
	GetActiveSessionForEngine(ctx context.Context, targetID uint64) (domain.ActiveSession, error)
	GetLivePreeditForSession(ctx context.Context, sessionID uint64, claimToken string) (domain.LivePreedit, error)
	TakePendingCommitForSession(ctx context.Context, sessionID uint64, claimToken string) (bool, string, error)
	Close() error
}

// InputSourceSwitcher moves keyboard focus to the dictation input method.
type InputSourceSwitcher interface {
	Current(ctx context.Context) (string, error)
	IsTarget(engine string) bool
	SwitchVerified(ctx context.Context, timeout time.Duration) (string, error)
}

// Notifier raises desktop notifications.
type Notifier interface {
	Notify(summary string, body string)
}

// TextSink receives text from the engine side listener.
type TextSink interface {
	CommitText(targetID uint64, text string)
	UpdatePreedit(targetID uint64, text string)
	HidePreedit(targetID uint64)
}
