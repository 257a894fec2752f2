package session

import (
	"sync"
	"sync/atomic"

	"dikt/internal/domain"
)

// PreviewStore keeps the newest provisional text per session. Writes carrying
// a revision at or below the stored one are ignored.
type PreviewStore struct {
	mu       sync.RWMutex
	entries  map[uint64]domain.LivePreedit
	revision atomic.Uint64
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{entries: make(map[uint64]domain.LivePreedit)}
}

// NextRevision returns a process-wide increasing revision starting at 1.
func (s *PreviewStore) NextRevision() uint64 {
	return s.revision.Add(1)
}

func (s *PreviewStore) Set(sessionID uint64, revision uint64, text string) bool {
	return s.write(sessionID, domain.LivePreedit{Revision: revision, Visible: true, Text: text})
}

func (s *PreviewStore) Clear(sessionID uint64, revision uint64) bool {
	return s.write(sessionID, domain.LivePreedit{Revision: revision})
}

func (s *PreviewStore) write(sessionID uint64, next domain.LivePreedit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[sessionID]; ok && next.Revision <= current.Revision {
		return false
	}
	s.entries[sessionID] = next
	return true
}

// Get returns the zero preedit when nothing was published for the session.
func (s *PreviewStore) Get(sessionID uint64) domain.LivePreedit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sessionID]
}

func (s *PreviewStore) Remove(sessionID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}
