package session

import (
	"cmp"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"dikt/internal/domain"
)

const DefaultTTL = 5 * time.Minute

// StopDecision is the registry verdict on a stop request.
type StopDecision int

const (
	StopRejected StopDecision = iota
	StopAccepted
	StopAlreadyFinished
)

// Session is a daemon-side recording session bound to one engine instance.
type Session struct {
	ID         uint64
	TargetID   uint64
	ClaimToken string
	Status     domain.SessionStatus
	Message    string
	UpdatedAt  time.Time
	Stopping   bool
}

// BindingID names the recorder binding owned by the session.
func (s Session) BindingID() string {
	return fmt.Sprintf("session-%d", s.ID)
}

type Options struct {
	TTL            time.Duration
	CommitCapacity int
	Now            func() time.Time
}

// Registry is the single authority over sessions, their claim tokens and the
// stores keyed by them.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]*Session

	claims  *ClaimAuthority
	commits *CommitQueue
	preview *PreviewStore
	focus   *FocusTracker

	ttl time.Duration
	now func() time.Time
}

func NewRegistry(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: make(map[uint64]*Session),
		claims:   NewClaimAuthority(now),
		commits:  NewCommitQueue(opts.CommitCapacity, now),
		preview:  NewPreviewStore(),
		focus:    NewFocusTracker(now),
		ttl:      ttl,
		now:      now,
	}
}

func (r *Registry) Commits() *CommitQueue { return r.commits }

func (r *Registry) Preview() *PreviewStore { return r.preview }

func (r *Registry) Focus() *FocusTracker { return r.focus }

// Create registers a new session for targetID in the created state.
func (r *Registry) Create(targetID uint64) (Session, error) {
	if targetID == 0 {
		return Session{}, domain.WrapError(domain.ErrorCodeInvalidTarget, domain.ErrInvalidTarget, "start rejected")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	id := r.claims.NextSessionID()
	s := &Session{
		ID:         id,
		TargetID:   targetID,
		ClaimToken: r.claims.NextClaimToken(id),
		Status:     domain.SessionStatusCreated,
		Message:    "Session created",
		UpdatedAt:  r.now(),
	}
	r.sessions[id] = s
	return *s, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetStatus overwrites the status of a live session. Terminal sessions are
// left untouched.
func (r *Registry) SetStatus(sessionID uint64, status domain.SessionStatus, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status.Terminal() {
		return false
	}
	r.setLocked(s, status, message)
	return true
}

// MarkRecording moves a starting session to recording.
func (r *Registry) MarkRecording(sessionID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || (s.Status != domain.SessionStatusStarting && s.Status != domain.SessionStatusCreated) {
		return false
	}
	r.setLocked(s, domain.SessionStatusRecording, "Recording")
	return true
}

// RequestStop moves a recording session to finalizing and raises its
// stopping flag. Repeated stops of a finished session are accepted as no-ops.
func (r *Registry) RequestStop(sessionID uint64) (Session, StopDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, StopRejected
	}
	switch s.Status {
	case domain.SessionStatusFinalizing, domain.SessionStatusReady, domain.SessionStatusCommitted:
		return *s, StopAlreadyFinished
	case domain.SessionStatusRecording:
		s.Stopping = true
		r.setLocked(s, domain.SessionStatusFinalizing, "Finalizing transcription")
		return *s, StopAccepted
	default:
		return *s, StopRejected
	}
}

// Finalize records the transcript of a finalizing session. Non-empty text is
// queued for commit. Sessions cancelled in the meantime are not touched.
func (r *Registry) Finalize(sessionID uint64, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status != domain.SessionStatusFinalizing {
		return false
	}
	s.Stopping = false
	if strings.TrimSpace(text) == "" {
		r.setLocked(s, domain.SessionStatusReady, "No speech detected")
		return true
	}
	r.commits.Store(s.ID, s.ClaimToken, text)
	r.setLocked(s, domain.SessionStatusReady, "Transcription ready")
	return true
}

// Fail marks a non-terminal session failed and clears its stopping flag.
func (r *Registry) Fail(sessionID uint64, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Status.Terminal() {
		return false
	}
	s.Stopping = false
	r.setLocked(s, domain.SessionStatusFailed, message)
	return true
}

// Cancel moves a non-terminal session to cancelled and hides its preview.
func (r *Registry) Cancel(sessionID uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status.Terminal() {
		return Session{}, false
	}
	s.Stopping = false
	r.setLocked(s, domain.SessionStatusCancelled, "Cancelled")
	r.preview.Clear(s.ID, r.preview.NextRevision())
	return *s, true
}

// Remove deletes the session and everything keyed by it except queued
// commits, which age out of the bounded queue.
func (r *Registry) Remove(sessionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	r.preview.Remove(sessionID)
}

func (r *Registry) IsStopping(sessionID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	return ok && s.Stopping
}

// ValidateClaim reports whether token is the live claim of sessionID.
func (r *Registry) ValidateClaim(sessionID uint64, claimToken string) bool {
	if claimToken == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	return ok && s.ClaimToken == claimToken
}

// Report returns the public status of a session.
func (r *Registry) Report(sessionID uint64) domain.SessionReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.SessionReport{Status: domain.SessionStatusMissing, Message: "Session not found"}
	}
	return domain.SessionReport{Status: s.Status, Message: s.Message, UpdatedAtMs: unixMillis(s.UpdatedAt)}
}

// ActiveForTarget picks the session an engine should follow. Recording wins
// over finalizing which wins over ready, then the newest update, then the
// highest id.
func (r *Registry) ActiveForTarget(targetID uint64) domain.ActiveSession {
	if targetID == 0 {
		return domain.ActiveSession{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	candidates := lo.Filter(lo.Values(r.sessions), func(s *Session, _ int) bool {
		return s.TargetID == targetID && statusPriority(s.Status) > 0
	})
	if len(candidates) == 0 {
		return domain.ActiveSession{}
	}
	best := lo.MaxBy(candidates, func(a *Session, b *Session) bool {
		return compareSessions(a, b) > 0
	})
	return domain.ActiveSession{
		SessionID:          best.ID,
		ClaimToken:         best.ClaimToken,
		LivePreviewAllowed: best.Status == domain.SessionStatusRecording,
	}
}

// TakeCommit hands out the queued text of a session exactly once and marks
// the session committed.
func (r *Registry) TakeCommit(sessionID uint64, claimToken string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text, ok := r.commits.Take(sessionID, claimToken)
	if !ok {
		return "", false
	}
	if s, exists := r.sessions[sessionID]; exists {
		r.setLocked(s, domain.SessionStatusCommitted, "Final commit delivered")
	}
	return text, true
}

// PreviewFor returns the live preedit of a session when the claim is valid.
func (r *Registry) PreviewFor(sessionID uint64, claimToken string) domain.LivePreedit {
	if !r.ValidateClaim(sessionID, claimToken) {
		return domain.LivePreedit{}
	}
	return r.preview.Get(sessionID)
}

// PublishPreview stores text for a session under a fresh revision.
func (r *Registry) PublishPreview(sessionID uint64, text string) bool {
	return r.preview.Set(sessionID, r.preview.NextRevision(), text)
}

// ClearPreview hides the preview of a session under a fresh revision.
func (r *Registry) ClearPreview(sessionID uint64) bool {
	return r.preview.Clear(sessionID, r.preview.NextRevision())
}

// Sweep removes terminal sessions older than the TTL.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) sweepLocked() int {
	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if s.Status.Terminal() && now.Sub(s.UpdatedAt) >= r.ttl {
			delete(r.sessions, id)
			r.preview.Remove(id)
			removed++
		}
	}
	return removed
}

func (r *Registry) setLocked(s *Session, status domain.SessionStatus, message string) {
	s.Status = status
	s.Message = message
	s.UpdatedAt = r.now()
}

func statusPriority(status domain.SessionStatus) int {
	switch status {
	case domain.SessionStatusRecording:
		return 3
	case domain.SessionStatusFinalizing:
		return 2
	case domain.SessionStatusReady:
		return 1
	default:
		return 0
	}
}

func compareSessions(a *Session, b *Session) int {
	if c := cmp.Compare(statusPriority(a.Status), statusPriority(b.Status)); c != 0 {
		return c
	}
	if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
