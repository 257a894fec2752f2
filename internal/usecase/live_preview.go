package usecase

import (
	"context"
	"strings"
	"time"

	"dikt/internal/session"
)

// LivePreviewConfig controls the provisional transcript shown while recording.
type LivePreviewConfig struct {
	Enabled           bool
	PollInterval      time.Duration
	MinTotalSamples   int
	MinNewSamples     int
	MaxWindowSamples  int
	SnapshotWarnEvery int
}

func (c LivePreviewConfig) withDefaults() LivePreviewConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 600 * time.Millisecond
	}
	if c.MinTotalSamples <= 0 {
		c.MinTotalSamples = 8000
	}
	if c.MinNewSamples <= 0 {
		c.MinNewSamples = 3200
	}
	if c.MaxWindowSamples <= 0 {
		c.MaxWindowSamples = 16000 * 8
	}
	if c.SnapshotWarnEvery <= 0 {
		c.SnapshotWarnEvery = 10
	}
	return c
}

// livePreviewWorker polls one recording session. Exit conditions are checked
// on every tick against registry and recorder state.
type livePreviewWorker struct {
	d       *Daemon
	session session.Session
	cfg     LivePreviewConfig

	lastTotal   int
	missStreak  int
	published   string
	lastWindow  string
	accumulated string
}

func newLivePreviewWorker(d *Daemon, s session.Session) *livePreviewWorker {
	return &livePreviewWorker{d: d, session: s, cfg: d.cfg.LivePreview}
}

func (w *livePreviewWorker) run(ctx context.Context) {
	logger := w.d.logger.With("session_id", w.session.ID, "target_id", w.session.TargetID)
	defer func() {
		if w.published != "" && !w.d.registry.IsStopping(w.session.ID) {
			w.d.registry.ClearPreview(w.session.ID)
		}
	}()

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		if reason := w.exitReason(); reason != "" {
			logger.Infow("live preview worker exiting", "reason", reason)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(w.cfg.PollInterval)
		}

		window, total, ok := w.d.recorder.Snapshot(w.session.BindingID(), w.cfg.MaxWindowSamples)
		if !ok {
			if !w.stopping() && (!w.bound() || !w.d.ownsRecorder(w.session.ID)) {
				logger.Infow("live preview worker exiting", "reason", "snapshot unavailable after session ended")
				return
			}
			w.missStreak++
			if w.missStreak == 1 || w.missStreak%w.cfg.SnapshotWarnEvery == 0 {
				logger.Debugw("live preview snapshot unavailable; keeping current preview", "streak", w.missStreak)
			}
			continue
		}
		if w.missStreak > 0 {
			logger.Debugw("live preview snapshot recovered", "misses", w.missStreak)
			w.missStreak = 0
		}

		if len(window) < w.cfg.MinTotalSamples {
			continue
		}
		if w.lastTotal > 0 && total-w.lastTotal < w.cfg.MinNewSamples {
			continue
		}
		w.lastTotal = total

		text, err := w.d.transcriber.TranscribeLive(ctx, window)
		if err != nil {
			logger.Debugw("live transcription failed", "error", err)
			continue
		}

		if reason := w.exitReason(); reason != "" {
			logger.Infow("live preview worker exiting after transcription", "reason", reason)
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		w.accumulated = mergeLiveTranscript(w.accumulated, w.lastWindow, text)
		w.lastWindow = text

		if w.accumulated != w.published {
			w.d.registry.PublishPreview(w.session.ID, w.accumulated)
			w.published = w.accumulated
		}
	}
}

// exitReason returns a non-empty reason when the worker must stop.
func (w *livePreviewWorker) exitReason() string {
	if !w.d.previewEnabled.Load() {
		return "live preview disabled"
	}
	stopping := w.stopping()
	if !stopping && !w.d.ownsRecorder(w.session.ID) {
		return "session no longer recording"
	}
	if !stopping && !w.bound() {
		return "session binding changed"
	}
	return ""
}

func (w *livePreviewWorker) stopping() bool {
	return w.d.registry.IsStopping(w.session.ID)
}

func (w *livePreviewWorker) bound() bool {
	current, ok := w.d.registry.Get(w.session.ID)
	return ok && current.TargetID == w.session.TargetID
}
