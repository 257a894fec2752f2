package busrpc

import (
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Emitter broadcasts daemon signals from ObjectPath.
type Emitter struct {
	conn   *dbus.Conn
	logger *zap.SugaredLogger
}

func NewEmitter(conn *dbus.Conn, logger *zap.SugaredLogger) *Emitter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Emitter{conn: conn, logger: logger}
}

func (e *Emitter) TranscriptionReady(text string) {
	e.emit("TranscriptionReady", text)
}

func (e *Emitter) RecordingStateChanged(isRecording bool) {
	e.emit("RecordingStateChanged", isRecording)
}

func (e *Emitter) Error(message string) {
	e.emit("Error", message)
}

func (e *Emitter) emit(name string, args ...interface{}) {
	if err := e.conn.Emit(ObjectPath, Interface+"."+name, args...); err != nil {
		e.logger.Warnw("failed to emit signal", "signal", name, "error", err)
	}
}
