package domain

// SessionStatus models the daemon-side recording session lifecycle.
type SessionStatus string

const (
	SessionStatusCreated    SessionStatus = "created"
	SessionStatusStarting   SessionStatus = "starting"
	SessionStatusRecording  SessionStatus = "recording"
	SessionStatusFinalizing SessionStatus = "finalizing"
	SessionStatusReady      SessionStatus = "ready"
	SessionStatusCommitted  SessionStatus = "committed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusMissing    SessionStatus = "missing"
)

// Terminal reports whether the status is eligible for TTL expiry.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusReady, SessionStatusCommitted, SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveSession is what an engine sees when it asks which session it should follow.
// A zero SessionID means no session is active for the target.
type ActiveSession struct {
	SessionID          uint64 `json:"sessionId"`
	ClaimToken         string `json:"claimToken"`
	LivePreviewAllowed bool   `json:"livePreviewAllowed"`
}

// Found reports whether a session was selected.
func (a ActiveSession) Found() bool {
	return a.SessionID != 0
}

// SessionReport is the externally visible status of a single session.
type SessionReport struct {
	Status      SessionStatus `json:"status"`
	Message     string        `json:"message"`
	UpdatedAtMs uint64        `json:"updatedAtMs"`
}

// LivePreedit is the latest provisional text for a session.
type LivePreedit struct {
	Revision uint64 `json:"revision"`
	Visible  bool   `json:"visible"`
	Text     string `json:"text"`
}

// FocusState identifies the engine instance that most recently reported focus.
type FocusState struct {
	TargetID     uint64 `json:"targetId"`
	LastChangeMs uint64 `json:"lastChangeMs"`
}

// PendingCommitStats summarizes the commit queue.
type PendingCommitStats struct {
	QueueLen     int            `json:"queue_len"`
	OldestAgeMs  uint64         `json:"oldest_age_ms"`
	DroppedCount uint64         `json:"dropped_count"`
	Targets      map[uint64]int `json:"targets"`
}

// DaemonState is the coarse daemon status used by the toggle controller.
type DaemonState struct {
	IsRecording      bool `json:"isRecording"`
	HasModelSelected bool `json:"hasModelSelected"`
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
