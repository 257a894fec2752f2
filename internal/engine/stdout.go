package engine

import (
	"fmt"
	"io"
	"sync"
)

// WriterSink prints committed text one line per commit. Preedit updates are
// written only when ShowPreedit is set.
type WriterSink struct {
	mu          sync.Mutex
	w           io.Writer
	ShowPreedit bool
}

func NewWriterSink(w io.Writer, showPreedit bool) *WriterSink {
	return &WriterSink{w: w, ShowPreedit: showPreedit}
}

func (s *WriterSink) CommitText(targetID uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%d\tcommit\t%s\n", targetID, text)
}

func (s *WriterSink) UpdatePreedit(targetID uint64, text string) {
	if !s.ShowPreedit {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%d\tpreedit\t%s\n", targetID, text)
}

func (s *WriterSink) HidePreedit(targetID uint64) {
	if !s.ShowPreedit {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%d\thide\n", targetID)
}
