package busrpc

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"dikt/internal/domain"
)

const (
	BusName    = "io.dikt.Transcription"
	Interface  = "io.dikt.Transcription"
	ObjectPath = dbus.ObjectPath("/io/dikt/Transcription")
)

// Facade is the daemon surface exported on the bus.
type Facade interface {
	StartRecordingSessionForTarget(ctx context.Context, targetID uint64) (uint64, string, error)
	StopRecordingSession(ctx context.Context, sessionID uint64) (bool, error)
	CancelRecordingSession(ctx context.Context, sessionID uint64) (bool, error)
	GetState(ctx context.Context) (domain.DaemonState, error)
	GetActiveSessionForEngine(ctx context.Context, targetID uint64) (domain.ActiveSession, error)
	GetSessionStatus(ctx context.Context, sessionID uint64) (domain.SessionReport, error)
	TakePendingCommitForSession(ctx context.Context, sessionID uint64, claimToken string) (bool, string, error)
	GetPendingCommitStats(ctx context.Context) (string, error)
	GetLivePreeditForSession(ctx context.Context, sessionID uint64, claimToken string) (domain.LivePreedit, error)
	SetFocusedEngine(ctx context.Context, targetID uint64, focused bool) error
	GetFocusedEngine(ctx context.Context) (domain.FocusState, error)
}

// Connect opens the session bus, or the bus at address when set.
func Connect(address string) (*dbus.Conn, error) {
	if address == "" {
		return dbus.ConnectSessionBus()
	}
	return dbus.Connect(address)
}

// Server owns the exported object and the well-known name.
type Server struct {
	conn   *dbus.Conn
	logger *zap.SugaredLogger
}

// Serve exports facade at ObjectPath and claims BusName. It fails when
// another daemon already owns the name.
func Serve(conn *dbus.Conn, facade Facade, logger *zap.SugaredLogger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	obj := &object{facade: facade, logger: logger}
	if err := conn.Export(obj, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("export %s: %w", Interface, err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(obj),
				Signals: signals,
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("bus name %s is already owned; is another daemon running?", BusName)
	}

	logger.Infow("transcription service exported", "bus_name", BusName, "path", ObjectPath)
	return &Server{conn: conn, logger: logger}, nil
}

// Close releases the bus name and unexports the object.
func (s *Server) Close() error {
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		return fmt.Errorf("release bus name: %w", err)
	}
	if err := s.conn.Export(nil, ObjectPath, Interface); err != nil {
		return err
	}
	return s.conn.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
}

var signals = []introspect.Signal{
	{Name: "TranscriptionReady", Args: []introspect.Arg{{Name: "text", Type: "s"}}},
	{Name: "RecordingStateChanged", Args: []introspect.Arg{{Name: "is_recording", Type: "b"}}},
	{Name: "Error", Args: []introspect.Arg{{Name: "message", Type: "s"}}},
}

// object carries exactly the exported bus methods; godbus exports every
// exported method of the value.
type object struct {
	facade Facade
	logger *zap.SugaredLogger
}

func (o *object) fail(method string, err error) *dbus.Error {
	o.logger.Debugw("bus call failed", "method", method, "error", err)
	return toBusError(err)
}

func (o *object) StartRecordingSessionForTarget(targetID uint64) (uint64, string, *dbus.Error) {
	id, token, err := o.facade.StartRecordingSessionForTarget(context.Background(), targetID)
	if err != nil {
		return 0, "", o.fail("StartRecordingSessionForTarget", err)
	}
	return id, token, nil
}

func (o *object) StopRecordingSession(sessionID uint64) (bool, *dbus.Error) {
	ok, err := o.facade.StopRecordingSession(context.Background(), sessionID)
	if err != nil {
		return false, o.fail("StopRecordingSession", err)
	}
	return ok, nil
}

func (o *object) CancelRecordingSession(sessionID uint64) (bool, *dbus.Error) {
	ok, err := o.facade.CancelRecordingSession(context.Background(), sessionID)
	if err != nil {
		return false, o.fail("CancelRecordingSession", err)
	}
	return ok, nil
}

func (o *object) GetState() (bool, bool, *dbus.Error) {
	state, err := o.facade.GetState(context.Background())
	if err != nil {
		return false, false, o.fail("GetState", err)
	}
	return state.IsRecording, state.HasModelSelected, nil
}

func (o *object) GetActiveSessionForEngine(targetID uint64) (uint64, string, bool, *dbus.Error) {
	active, err := o.facade.GetActiveSessionForEngine(context.Background(), targetID)
	if err != nil {
		return 0, "", false, o.fail("GetActiveSessionForEngine", err)
	}
	return active.SessionID, active.ClaimToken, active.LivePreviewAllowed, nil
}

func (o *object) GetSessionStatus(sessionID uint64) (string, string, uint64, *dbus.Error) {
	report, err := o.facade.GetSessionStatus(context.Background(), sessionID)
	if err != nil {
		return "", "", 0, o.fail("GetSessionStatus", err)
	}
	return string(report.Status), report.Message, report.UpdatedAtMs, nil
}

func (o *object) TakePendingCommitForSession(sessionID uint64, claimToken string) (bool, string, *dbus.Error) {
	found, text, err := o.facade.TakePendingCommitForSession(context.Background(), sessionID, claimToken)
	if err != nil {
		return false, "", o.fail("TakePendingCommitForSession", err)
	}
	return found, text, nil
}

func (o *object) GetPendingCommitStats() (string, *dbus.Error) {
	stats, err := o.facade.GetPendingCommitStats(context.Background())
	if err != nil {
		return "", o.fail("GetPendingCommitStats", err)
	}
	return stats, nil
}

func (o *object) GetLivePreeditForSession(sessionID uint64, claimToken string) (uint64, bool, string, *dbus.Error) {
	preedit, err := o.facade.GetLivePreeditForSession(context.Background(), sessionID, claimToken)
	if err != nil {
		return 0, false, "", o.fail("GetLivePreeditForSession", err)
	}
	return preedit.Revision, preedit.Visible, preedit.Text, nil
}

func (o *object) SetFocusedEngine(targetID uint64, focused bool) *dbus.Error {
	if err := o.facade.SetFocusedEngine(context.Background(), targetID, focused); err != nil {
		return o.fail("SetFocusedEngine", err)
	}
	return nil
}

func (o *object) GetFocusedEngine() (uint64, uint64, *dbus.Error) {
	focus, err := o.facade.GetFocusedEngine(context.Background())
	if err != nil {
		return 0, 0, o.fail("GetFocusedEngine", err)
	}
	return focus.TargetID, focus.LastChangeMs, nil
}
