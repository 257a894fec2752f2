package session

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"dikt/internal/domain"
)

const DefaultCommitCapacity = 32

// PendingCommit is finalized text waiting for its owning engine.
type PendingCommit struct {
	SessionID  uint64
	ClaimToken string
	Text       string
	CreatedAt  time.Time
}

// CommitQueue is a bounded FIFO. When full the oldest entry is dropped.
type CommitQueue struct {
	mu       sync.Mutex
	entries  []PendingCommit
	capacity int
	dropped  uint64
	now      func() time.Time
}

func NewCommitQueue(capacity int, now func() time.Time) *CommitQueue {
	if capacity <= 0 {
		capacity = DefaultCommitCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &CommitQueue{capacity: capacity, now: now}
}

func (q *CommitQueue) Store(sessionID uint64, claimToken string, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, PendingCommit{
		SessionID:  sessionID,
		ClaimToken: claimToken,
		Text:       text,
		CreatedAt:  q.now(),
	})
}

// Take removes and returns the first entry matching both session and token.
func (q *CommitQueue) Take(sessionID uint64, claimToken string) (string, bool) {
	if claimToken == "" {
		return "", false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(q.entries, func(entry PendingCommit) bool {
		return entry.SessionID == sessionID && entry.ClaimToken == claimToken
	})
	if !ok {
		return "", false
	}
	text := q.entries[idx].Text
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	return text, true
}

func (q *CommitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue, oldest first.
func (q *CommitQueue) Entries() []PendingCommit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingCommit(nil), q.entries...)
}

func (q *CommitQueue) Stats() domain.PendingCommitStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.PendingCommitStats{
		QueueLen:     len(q.entries),
		DroppedCount: q.dropped,
		Targets: lo.CountValuesBy(q.entries, func(entry PendingCommit) uint64 {
			return entry.SessionID
		}),
	}
	if len(q.entries) > 0 {
		age := q.now().Sub(q.entries[0].CreatedAt)
		if age > 0 {
			stats.OldestAgeMs = uint64(age.Milliseconds())
		}
	}
	return stats
}
