package session

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"dikt/internal/domain"
)

func TestClaimIsolationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry(Options{})
		count := rapid.IntRange(2, 8).Draw(t, "sessions")

		sessions := make([]Session, 0, count)
		for i := 0; i < count; i++ {
			target := rapid.Uint64Range(1, 3).Draw(t, fmt.Sprintf("target-%d", i))
			s, err := r.Create(target)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			r.SetStatus(s.ID, domain.SessionStatusStarting, "Starting")
			r.MarkRecording(s.ID)
			r.RequestStop(s.ID)
			r.Finalize(s.ID, fmt.Sprintf("text %d", s.ID))
			sessions = append(sessions, s)
		}

		owner := rapid.IntRange(0, count-1).Draw(t, "owner")
		thief := rapid.IntRange(0, count-1).Filter(func(i int) bool { return i != owner }).Draw(t, "thief")

		if _, ok := r.TakeCommit(sessions[owner].ID, sessions[thief].ClaimToken); ok {
			t.Fatalf("session %d accepted claim of session %d", sessions[owner].ID, sessions[thief].ID)
		}
		text, ok := r.TakeCommit(sessions[owner].ID, sessions[owner].ClaimToken)
		if !ok || text != fmt.Sprintf("text %d", sessions[owner].ID) {
			t.Fatalf("owner take failed: %q %v", text, ok)
		}
		if _, ok := r.TakeCommit(sessions[owner].ID, sessions[owner].ClaimToken); ok {
			t.Fatalf("commit delivered twice")
		}
	})
}

func TestCommitQueueBoundedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewCommitQueue(DefaultCommitCapacity, nil)
		total := rapid.IntRange(0, 80).Draw(t, "total")
		for i := 1; i <= total; i++ {
			q.Store(uint64(i), fmt.Sprintf("tok-%d", i), fmt.Sprintf("text-%d", i))
		}

		stats := q.Stats()
		wantLen := min(total, DefaultCommitCapacity)
		wantDropped := max(0, total-DefaultCommitCapacity)
		if stats.QueueLen != wantLen || stats.DroppedCount != uint64(wantDropped) {
			t.Fatalf("total %d: got len %d dropped %d", total, stats.QueueLen, stats.DroppedCount)
		}

		entries := q.Entries()
		for i, entry := range entries {
			if want := uint64(wantDropped + i + 1); entry.SessionID != want {
				t.Fatalf("entry %d: expected session %d, got %d", i, want, entry.SessionID)
			}
		}
	})
}

func TestCommitQueueOverflowKeepsNewest(t *testing.T) {
	t.Parallel()

	q := NewCommitQueue(DefaultCommitCapacity, nil)
	for i := 1; i <= 40; i++ {
		q.Store(uint64(i), fmt.Sprintf("tok-%d", i), fmt.Sprintf("text-%d", i))
	}

	stats := q.Stats()
	if stats.QueueLen != 32 || stats.DroppedCount != 8 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	entries := q.Entries()
	if entries[0].SessionID != 9 || entries[31].SessionID != 40 {
		t.Fatalf("expected sessions 9..40, got %d..%d", entries[0].SessionID, entries[31].SessionID)
	}
}

func TestPreviewRevisionMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewPreviewStore()
		writes := rapid.SliceOfN(rapid.Uint64Range(1, 50), 1, 40).Draw(t, "revisions")

		var highest uint64
		for i, revision := range writes {
			hide := rapid.Bool().Draw(t, fmt.Sprintf("hide-%d", i))
			var accepted bool
			if hide {
				accepted = s.Clear(1, revision)
			} else {
				accepted = s.Set(1, revision, fmt.Sprintf("text-%d", revision))
			}
			if accepted != (revision > highest) {
				t.Fatalf("revision %d after %d: accepted=%v", revision, highest, accepted)
			}
			highest = max(highest, revision)

			if got := s.Get(1).Revision; got != highest {
				t.Fatalf("stored revision %d, expected %d", got, highest)
			}
		}
	})
}
