package notify

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	notificationsName = "org.freedesktop.Notifications"
	notificationsPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod      = notificationsName + ".Notify"

	callTimeout   = 2 * time.Second
	expireTimeout = int32(6000)
)

// Desktop sends freedesktop notifications. Rate limiting is the caller's
// job; Desktop only refuses to notify inside greeter sessions.
type Desktop struct {
	conn       *dbus.Conn
	appName    string
	restricted bool
	logger     *zap.SugaredLogger
}

func NewDesktop(conn *dbus.Conn, appName string, logger *zap.SugaredLogger) *Desktop {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Desktop{
		conn:       conn,
		appName:    appName,
		restricted: IsRestrictedSession(os.Getenv("USER"), os.Getenv("XDG_SESSION_CLASS")),
		logger:     logger,
	}
}

// Notify returns immediately; delivery failures are logged.
func (d *Desktop) Notify(summary string, body string) {
	if d.restricted {
		d.logger.Debugw("notification suppressed in greeter session", "summary", summary)
		return
	}
	go d.send(summary, body)
}

func (d *Desktop) send(summary string, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))}
	call := d.conn.Object(notificationsName, notificationsPath).CallWithContext(ctx, notifyMethod, 0,
		d.appName, uint32(0), "dialog-warning", summary, body, []string{}, hints, expireTimeout)
	if call.Err != nil {
		d.logger.Warnw("desktop notification failed", "summary", summary, "error", call.Err)
	}
}

// IsRestrictedSession reports whether user and class describe a login
// greeter, where notifications must not be shown.
func IsRestrictedSession(user string, sessionClass string) bool {
	switch strings.ToLower(strings.TrimSpace(user)) {
	case "gdm", "gdm-greeter":
		return true
	}
	return strings.EqualFold(strings.TrimSpace(sessionClass), "greeter")
}
