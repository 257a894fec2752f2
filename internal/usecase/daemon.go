package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/ports"
	"dikt/internal/session"
)

// DaemonConfig controls the daemon side of dictation sessions.
type DaemonConfig struct {
	LivePreview   LivePreviewConfig
	SweepInterval time.Duration
}

// DaemonDeps are the collaborators the daemon drives.
type DaemonDeps struct {
	Registry    *session.Registry
	Recorder    ports.Recorder
	Transcriber ports.Transcriber
	Rules       ports.PostProcessor
	Feedback    ports.FeedbackPlayer
	Signals     ports.SignalEmitter
	Logger      *zap.SugaredLogger
}

// Daemon implements the transcription RPC surface on top of the session
// registry. It owns the recorder and at most one session records at a time.
type Daemon struct {
	registry    *session.Registry
	recorder    ports.Recorder
	transcriber ports.Transcriber
	finalizer   transcriptFinalizer
	feedback    ports.FeedbackPlayer
	signals     ports.SignalEmitter
	logger      *zap.SugaredLogger
	cfg         DaemonConfig

	previewEnabled atomic.Bool

	recordingMu sync.Mutex
	recording   uint64

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewDaemon(deps DaemonDeps, cfg DaemonConfig) *Daemon {
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry(session.Options{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Feedback == nil {
		deps.Feedback = silentFeedback{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	cfg.LivePreview = cfg.LivePreview.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		registry:    deps.Registry,
		recorder:    deps.Recorder,
		transcriber: deps.Transcriber,
		finalizer:   newTranscriptFinalizer(deps.Rules, deps.Logger),
		feedback:    deps.Feedback,
		signals:     deps.Signals,
		logger:      deps.Logger,
		cfg:         cfg,
		baseCtx:     ctx,
		stop:        cancel,
	}
	d.previewEnabled.Store(cfg.LivePreview.Enabled)
	return d
}

// StartRecordingSessionForTarget creates a session bound to targetID and
// starts the recorder for it.
func (d *Daemon) StartRecordingSessionForTarget(ctx context.Context, targetID uint64) (uint64, string, error) {
	if targetID == 0 {
		return 0, "", domain.WrapError(domain.ErrorCodeInvalidTarget, domain.ErrInvalidTarget, "start rejected")
	}

	d.recordingMu.Lock()
	if d.recording != 0 {
		busy := d.recording
		d.recordingMu.Unlock()
		return 0, "", domain.NewError(domain.ErrorCodeRecorderBusy, "binding session-%d is already recording", busy)
	}
	s, err := d.registry.Create(targetID)
	if err != nil {
		d.recordingMu.Unlock()
		return 0, "", err
	}
	d.recording = s.ID
	d.recordingMu.Unlock()

	d.registry.SetStatus(s.ID, domain.SessionStatusStarting, "Starting recording")
	if err := d.startRecorder(ctx, s); err != nil {
		d.releaseRecorder(s.ID)
		d.registry.Fail(s.ID, domain.DetailOf(err))
		d.registry.Remove(s.ID)
		d.emitError(err)
		d.logger.Warnw("recording start failed", "session_id", s.ID, "target_id", targetID, "error", err)
		return 0, "", err
	}

	if !d.registry.MarkRecording(s.ID) {
		// Cancelled while the recorder was starting; the capture it began
		// belongs to nobody.
		d.recorder.Stop(s.BindingID())
		d.releaseRecorder(s.ID)
		d.logger.Infow("recording session cancelled during start", "session_id", s.ID, "target_id", targetID)
		return 0, "", domain.NewError(domain.ErrorCodeStartFailed, "session %d was cancelled while starting", s.ID)
	}
	d.feedback.PlayStart()
	d.emitRecordingState(true)
	if d.previewEnabled.Load() {
		d.registry.ClearPreview(s.ID)
		d.spawn(func(ctx context.Context) {
			newLivePreviewWorker(d, s).run(ctx)
		})
	}

	d.logger.Infow("recording session started", "session_id", s.ID, "target_id", targetID, "binding", s.BindingID())
	return s.ID, s.ClaimToken, nil
}

func (d *Daemon) startRecorder(ctx context.Context, s session.Session) error {
	if d.transcriber == nil || !d.transcriber.HasModel() {
		return domain.NewError(domain.ErrorCodeNoModel, "No model selected")
	}
	if err := d.recorder.TryStart(ctx, s.BindingID()); err != nil {
		code := domain.CodeOf(err, domain.ErrorCodeRecorderUnavailable)
		return domain.WrapError(code, err, "Failed to start recording (%s)", code)
	}
	return nil
}

// StopRecordingSession stops the recorder and finalizes the session in the
// background. Stopping an already finished session reports success.
func (d *Daemon) StopRecordingSession(ctx context.Context, sessionID uint64) (bool, error) {
	s, decision := d.registry.RequestStop(sessionID)
	switch decision {
	case session.StopAlreadyFinished:
		return true, nil
	case session.StopRejected:
		d.logger.Infow("stop rejected", "session_id", sessionID)
		return false, nil
	}

	owned := d.releaseRecorder(s.ID)
	if owned {
		d.emitRecordingState(false)
	}
	d.feedback.PlayStop()
	d.registry.ClearPreview(s.ID)

	samples, ok := d.recorder.Stop(s.BindingID())
	if !ok {
		d.registry.Fail(s.ID, "Stop requested for inactive recording session")
		d.logger.Warnw("recorder had no capture for session", "session_id", s.ID, "binding", s.BindingID())
		return false, nil
	}

	finalizeCtx := context.WithoutCancel(ctx)
	d.spawn(func(context.Context) {
		d.finalize(finalizeCtx, s, samples)
	})
	return true, nil
}

func (d *Daemon) finalize(ctx context.Context, s session.Session, samples []float32) {
	defer func() {
		if r := recover(); r != nil {
			d.registry.Fail(s.ID, "Internal transcription panic")
			d.emitError(domain.NewError(domain.ErrorCodeTranscriptionFailed, "Internal transcription panic"))
			d.logger.Errorw("transcription panicked", "session_id", s.ID, "panic", r)
		}
	}()

	if len(samples) == 0 {
		if d.registry.Finalize(s.ID, "") {
			d.emitReady("")
		}
		return
	}

	raw, err := d.transcriber.Transcribe(ctx, samples)
	if err != nil {
		d.registry.Fail(s.ID, fmt.Sprintf("Transcription failed: %s", domain.DetailOf(err)))
		d.emitError(err)
		d.logger.Warnw("transcription failed", "session_id", s.ID, "error", err)
		return
	}

	text := d.finalizer.Finalize(s.ID, raw)
	if !d.registry.Finalize(s.ID, text) {
		d.logger.Infow("session left finalizing before transcript was ready", "session_id", s.ID)
		return
	}
	d.emitReady(text)
	d.logger.Infow("transcription ready", "session_id", s.ID, "chars", len(text))
}

// CancelRecordingSession abandons a session. The recorder is cancelled only
// when the session owns it.
func (d *Daemon) CancelRecordingSession(_ context.Context, sessionID uint64) (bool, error) {
	s, ok := d.registry.Cancel(sessionID)
	if !ok {
		return false, nil
	}
	if d.releaseRecorder(s.ID) {
		d.recorder.Cancel()
		d.emitRecordingState(false)
	}
	d.logger.Infow("recording session cancelled", "session_id", s.ID)
	return true, nil
}

func (d *Daemon) GetState(context.Context) (domain.DaemonState, error) {
	return domain.DaemonState{
		IsRecording:      d.recordingSession() != 0,
		HasModelSelected: d.transcriber != nil && d.transcriber.HasModel(),
	}, nil
}

func (d *Daemon) GetActiveSessionForEngine(_ context.Context, targetID uint64) (domain.ActiveSession, error) {
	return d.registry.ActiveForTarget(targetID), nil
}

func (d *Daemon) GetSessionStatus(_ context.Context, sessionID uint64) (domain.SessionReport, error) {
	return d.registry.Report(sessionID), nil
}

func (d *Daemon) TakePendingCommitForSession(_ context.Context, sessionID uint64, claimToken string) (bool, string, error) {
	text, ok := d.registry.TakeCommit(sessionID, claimToken)
	if ok {
		d.logger.Infow("pending commit delivered", "session_id", sessionID)
	}
	return ok, text, nil
}

func (d *Daemon) GetPendingCommitStats(context.Context) (string, error) {
	payload, err := json.Marshal(d.registry.Commits().Stats())
	if err != nil {
		return "", fmt.Errorf("encode pending commit stats: %w", err)
	}
	return string(payload), nil
}

func (d *Daemon) GetLivePreeditForSession(_ context.Context, sessionID uint64, claimToken string) (domain.LivePreedit, error) {
	return d.registry.PreviewFor(sessionID, claimToken), nil
}

func (d *Daemon) SetFocusedEngine(_ context.Context, targetID uint64, focused bool) error {
	d.registry.Focus().Set(targetID, focused)
	return nil
}

func (d *Daemon) GetFocusedEngine(context.Context) (domain.FocusState, error) {
	return d.registry.Focus().Get(), nil
}

// SetLivePreviewEnabled toggles live preview for sessions started afterwards.
// Running workers observe the change on their next tick.
func (d *Daemon) SetLivePreviewEnabled(enabled bool) {
	d.previewEnabled.Store(enabled)
}

// RunHousekeeping sweeps expired sessions until ctx is done.
func (d *Daemon) RunHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := d.registry.Sweep(); removed > 0 {
				d.logger.Debugw("expired sessions removed", "count", removed)
			}
		}
	}
}

// Close stops background workers and waits for them to exit.
func (d *Daemon) Close() {
	d.stop()
	d.wg.Wait()
}

// Wait blocks until all background workers have exited.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

func (d *Daemon) spawn(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.baseCtx)
	}()
}

func (d *Daemon) recordingSession() uint64 {
	d.recordingMu.Lock()
	defer d.recordingMu.Unlock()
	return d.recording
}

func (d *Daemon) ownsRecorder(sessionID uint64) bool {
	return sessionID != 0 && d.recordingSession() == sessionID
}

func (d *Daemon) releaseRecorder(sessionID uint64) bool {
	d.recordingMu.Lock()
	defer d.recordingMu.Unlock()

	if d.recording != sessionID {
		return false
	}
	d.recording = 0
	return true
}

func (d *Daemon) emitRecordingState(recording bool) {
	if d.signals != nil {
		d.signals.RecordingStateChanged(recording)
	}
}

func (d *Daemon) emitReady(text string) {
	if d.signals != nil {
		d.signals.TranscriptionReady(text)
	}
}

func (d *Daemon) emitError(err error) {
	if d.signals != nil {
		d.signals.Error(strings.TrimSpace(domain.DetailOf(err)))
	}
}

type silentFeedback struct{}

func (silentFeedback) PlayStart() {}
func (silentFeedback) PlayStop()  {}
