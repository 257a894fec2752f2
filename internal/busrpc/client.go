package busrpc

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"dikt/internal/domain"
)

const DefaultCallTimeout = 2 * time.Second

type ClientOption func(*Client)

// WithCallTimeout bounds calls whose context carries no deadline.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithErrorHook observes every failed call, for diagnostics.
func WithErrorHook(hook func(method string, err error)) ClientOption {
	return func(c *Client) { c.onError = hook }
}

// Client calls the transcription service. It satisfies both the toggle and
// the engine side of the protocol.
type Client struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	owned   bool
	timeout time.Duration
	onError func(method string, err error)
}

func NewClient(conn *dbus.Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		obj:     conn.Object(BusName, ObjectPath),
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the bus at address (the session bus when empty). The
// returned client owns the connection.
func Dial(address string, opts ...ClientOption) (*Client, error) {
	conn, err := Connect(address)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, opts...)
	c.owned = true
	return c, nil
}

func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args []interface{}, out ...interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...).Store(out...)
	if err != nil {
		err = fromBusError(method, err)
		if c.onError != nil {
			c.onError(method, err)
		}
	}
	return err
}

func (c *Client) StartRecordingSessionForTarget(ctx context.Context, targetID uint64) (uint64, string, error) {
	var (
		id    uint64
		token string
	)
	err := c.call(ctx, "StartRecordingSessionForTarget", []interface{}{targetID}, &id, &token)
	return id, token, err
}

func (c *Client) StopRecordingSession(ctx context.Context, sessionID uint64) (bool, error) {
	var ok bool
	err := c.call(ctx, "StopRecordingSession", []interface{}{sessionID}, &ok)
	return ok, err
}

func (c *Client) CancelRecordingSession(ctx context.Context, sessionID uint64) (bool, error) {
	var ok bool
	err := c.call(ctx, "CancelRecordingSession", []interface{}{sessionID}, &ok)
	return ok, err
}

func (c *Client) GetState(ctx context.Context) (domain.DaemonState, error) {
	var state domain.DaemonState
	err := c.call(ctx, "GetState", nil, &state.IsRecording, &state.HasModelSelected)
	return state, err
}

func (c *Client) GetActiveSessionForEngine(ctx context.Context, targetID uint64) (domain.ActiveSession, error) {
	var active domain.ActiveSession
	err := c.call(ctx, "GetActiveSessionForEngine", []interface{}{targetID},
		&active.SessionID, &active.ClaimToken, &active.LivePreviewAllowed)
	return active, err
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID uint64) (domain.SessionReport, error) {
	var (
		status string
		report domain.SessionReport
	)
	err := c.call(ctx, "GetSessionStatus", []interface{}{sessionID}, &status, &report.Message, &report.UpdatedAtMs)
	report.Status = domain.SessionStatus(status)
	return report, err
}

func (c *Client) TakePendingCommitForSession(ctx context.Context, sessionID uint64, claimToken string) (bool, string, error) {
	var (
		found bool
		text  string
	)
	err := c.call(ctx, "TakePendingCommitForSession", []interface{}{sessionID, claimToken}, &found, &text)
	return found, text, err
}

func (c *Client) GetPendingCommitStats(ctx context.Context) (string, error) {
	var stats string
	err := c.call(ctx, "GetPendingCommitStats", nil, &stats)
	return stats, err
}

func (c *Client) GetLivePreeditForSession(ctx context.Context, sessionID uint64, claimToken string) (domain.LivePreedit, error) {
	var preedit domain.LivePreedit
	err := c.call(ctx, "GetLivePreeditForSession", []interface{}{sessionID, claimToken},
		&preedit.Revision, &preedit.Visible, &preedit.Text)
	return preedit, err
}

func (c *Client) SetFocusedEngine(ctx context.Context, targetID uint64, focused bool) error {
	return c.call(ctx, "SetFocusedEngine", []interface{}{targetID, focused})
}

func (c *Client) GetFocusedEngine(ctx context.Context) (domain.FocusState, error) {
	var focus domain.FocusState
	err := c.call(ctx, "GetFocusedEngine", nil, &focus.TargetID, &focus.LastChangeMs)
	return focus, err
}
