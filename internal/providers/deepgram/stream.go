package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dikt/internal/domain"
)

var (
	errSendClosed = errors.New("audio stream is already closed")
	// errStreamEnded marks a stream that finished without failing.
	errStreamEnded = errors.New("stream ended")
)

var (
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
)

// stream is one live transcription socket. The writer goroutine owns every
// write to conn; the reader owns every read. The first failure becomes the
// cause of ctx and is what Wait reports.
type stream struct {
	conn      *websocket.Conn
	logger    *zap.SugaredLogger
	keepAlive time.Duration

	audio  chan []byte
	eof    chan struct{}
	events chan domain.TranscriptEvent
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc

	eofOnce sync.Once
}

func openStream(parent context.Context, conn *websocket.Conn, keepAlive time.Duration, logger *zap.SugaredLogger) *stream {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &stream{
		conn:      conn,
		logger:    logger,
		keepAlive: keepAlive,
		audio:     make(chan []byte, 32),
		eof:       make(chan struct{}),
		events:    make(chan domain.TranscriptEvent, 64),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	stopAbort := context.AfterFunc(parent, func() { s.abort(context.Cause(parent)) })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		wg.Wait()
		stopAbort()
		s.cancel(errStreamEnded)
		_ = conn.Close()
		close(s.events)
		close(s.done)
	}()
	return s
}

func (s *stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-s.eof:
		return errSendClosed
	default:
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.eof:
		return errSendClosed
	case <-s.ctx.Done():
		if err := s.failure(); err != nil {
			return err
		}
		return errSendClosed
	}
}

// CloseSend flushes queued audio and asks the server to finalize.
func (s *stream) CloseSend() error {
	s.eofOnce.Do(func() { close(s.eof) })
	return nil
}

func (s *stream) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *stream) Wait() error {
	<-s.done
	return s.failure()
}

func (s *stream) Close() error {
	s.abort(errStreamEnded)
	<-s.done
	return s.failure()
}

func (s *stream) abort(cause error) {
	s.cancel(cause)
	_ = s.conn.Close()
}

// failure is the cause of the stream ending, or nil for a clean end.
func (s *stream) failure() error {
	err := context.Cause(s.ctx)
	if err == nil || errors.Is(err, errStreamEnded) {
		return nil
	}
	return err
}

func (s *stream) fail(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			s.cancel(errStreamEnded)
			return
		}
	}
	s.cancel(err)
}

func (s *stream) writeLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audio:
			if !s.write(websocket.BinaryMessage, chunk, "send audio") {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.TextMessage, keepAliveMsg, "send keepalive") {
				return
			}
		case <-s.eof:
			for {
				select {
				case chunk := <-s.audio:
					if !s.write(websocket.BinaryMessage, chunk, "send audio") {
						return
					}
					continue
				default:
				}
				break
			}
			s.write(websocket.TextMessage, closeStreamMsg, "close stream")
			return
		}
	}
}

func (s *stream) write(kind int, payload []byte, what string) bool {
	if err := s.conn.WriteMessage(kind, payload); err != nil {
		s.fail(fmt.Errorf("%s: %w", what, err))
		return false
	}
	return true
}

func (s *stream) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read provider event: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(msg.Type, "Error"):
			s.fail(msg.err())
			return
		case strings.EqualFold(msg.Type, "Metadata"):
			s.logger.Debugw("deepgram metadata", "request_id", msg.RequestID)
			continue
		}

		ev, ok := msg.event()
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

type channel struct {
	Alternatives []struct {
		Transcript string `json:"transcript"`
	} `json:"alternatives"`
}

func (c channel) best() string {
	if len(c.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(c.Alternatives[0].Transcript)
}

// message covers the live "Results" shape, the pre-recorded
// "results.channels" shape, errors and metadata.
type message struct {
	Type        string  `json:"type"`
	RequestID   string  `json:"request_id"`
	Message     string  `json:"message"`
	Description string  `json:"description"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     channel `json:"channel"`
	Results     struct {
		Channels []channel `json:"channels"`
	} `json:"results"`
}

func (m message) text() string {
	if text := m.Channel.best(); text != "" {
		return text
	}
	if len(m.Results.Channels) > 0 {
		return m.Results.Channels[0].best()
	}
	return ""
}

func (m message) event() (domain.TranscriptEvent, bool) {
	text := m.text()
	if text == "" {
		return domain.TranscriptEvent{}, false
	}
	kind := domain.TranscriptKindPartial
	if m.IsFinal || m.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: m.SpeechFinal}, true
}

func (m message) err() error {
	for _, text := range []string{m.Message, m.Description} {
		if text = strings.TrimSpace(text); text != "" {
			return errors.New(text)
		}
	}
	return errors.New("deepgram returned an unknown error")
}
