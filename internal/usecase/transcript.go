package usecase

import (
	"strings"

	"dikt/internal/domain"
)

// transcript accumulates one streaming pass. Only the goroutine draining
// the event channel touches it.
type transcript struct {
	segments []string
	// tail is the newest partial not yet covered by a final segment.
	tail string
}

func (t *transcript) apply(ev domain.TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	switch {
	case text == "":
	case ev.Kind == domain.TranscriptKindFinal:
		t.segments = append(t.segments, text)
		t.tail = ""
	default:
		t.tail = text
	}
}

func (t transcript) String() string {
	parts := t.segments
	if t.tail != "" {
		parts = append(parts[:len(parts):len(parts)], t.tail)
	}
	return strings.Join(parts, " ")
}

// collect drains events and delivers the joined text once the channel
// closes.
func collect(events <-chan domain.TranscriptEvent) <-chan string {
	out := make(chan string, 1)
	go func() {
		var t transcript
		for ev := range events {
			t.apply(ev)
		}
		out <- t.String()
	}()
	return out
}
