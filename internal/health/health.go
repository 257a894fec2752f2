package health

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultComponent            = "toggle_listener"
	DefaultEventHistory         = 60
	DefaultNotificationCooldown = 8 * time.Second
)

// Snapshot is the operator-facing view of the toggle listener.
type Snapshot struct {
	Healthy                    bool   `json:"healthy"`
	Component                  string `json:"component"`
	Code                       string `json:"code"`
	Message                    string `json:"message"`
	LastSuccessMs              uint64 `json:"last_success_ms"`
	ListenerSessionOK          bool   `json:"listener_session_ok"`
	ShortcutBound              bool   `json:"shortcut_bound"`
	BindFailCount              uint64 `json:"bind_fail_count"`
	PressWhileTargetCount      uint64 `json:"press_while_dikt_count"`
	StopTimeoutFallbackCount   uint64 `json:"stop_timeout_fallback_count"`
	CurrentState               string `json:"current_state"`
	ShortcutDescription        string `json:"shortcut_description"`
	LastStartFailureCode       string `json:"last_start_failure_code"`
	LastStartFailureMessage    string `json:"last_start_failure_message"`
	LastStartFailureMs         uint64 `json:"last_start_failure_ms"`
	LastStopFailureMessage     string `json:"last_stop_failure_message"`
	LastStopFailureMs          uint64 `json:"last_stop_failure_ms"`
	PendingCommitSessionID     uint64 `json:"pending_commit_session_id"`
	PendingCommitAgeMs         uint64 `json:"pending_commit_age_ms"`
	EngineActive               bool   `json:"engine_active"`
	FocusedEngineID            uint64 `json:"focused_engine_id"`
	EngineLastChangeMs         uint64 `json:"engine_last_change_ms"`
	LastSwitchAttemptMs        uint64 `json:"last_switch_attempt_ms"`
	LastSwitchConfirmLatencyMs uint64 `json:"last_switch_confirm_latency_ms"`
	LastSwitchFailureMessage   string `json:"last_switch_failure_message"`
	LastRPCError               string `json:"last_dbus_error"`
	LastRPCErrorMs             uint64 `json:"last_dbus_error_ms"`
	RecentEventCount           int    `json:"recent_event_count"`
}

type Option func(*Diagnostics)

func WithClock(now func() time.Time) Option {
	return func(d *Diagnostics) { d.now = now }
}

func WithNotificationCooldown(cooldown time.Duration) Option {
	return func(d *Diagnostics) { d.cooldown = cooldown }
}

func WithEventHistory(limit int) Option {
	return func(d *Diagnostics) {
		if limit > 0 {
			d.historyLimit = limit
		}
	}
}

// Diagnostics holds the counters and flags of one toggle listener process.
// It is shared by handle; there is no package level state.
type Diagnostics struct {
	mu   sync.Mutex
	snap Snapshot

	pendingCommitMarked time.Time
	lastNotification    time.Time
	cooldown            time.Duration

	events       []string
	historyLimit int

	now func() time.Time
}

func New(opts ...Option) *Diagnostics {
	d := &Diagnostics{
		snap: Snapshot{
			Component:    DefaultComponent,
			Code:         "not_initialized",
			Message:      "Toggle listener not initialized yet",
			CurrentState: "idle",
		},
		cooldown:     DefaultNotificationCooldown,
		historyLimit: DefaultEventHistory,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Diagnostics) MarkHealthy(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.Healthy = true
	d.snap.Code = "ok"
	d.snap.Message = message
	d.snap.LastSuccessMs = d.nowMs()
	d.snap.ListenerSessionOK = true
	d.snap.ShortcutBound = true
}

// MarkUnhealthy records an error. Evdev codes also flag the listener
// session, and bind or permission failures count against the shortcut.
func (d *Diagnostics) MarkUnhealthy(code string, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.Healthy = false
	d.snap.Code = code
	d.snap.Message = message
	if strings.HasPrefix(code, "evdev_") {
		d.snap.ListenerSessionOK = false
		if strings.Contains(code, "bind") || strings.Contains(code, "permission") {
			d.snap.ShortcutBound = false
			d.snap.BindFailCount++
		}
	}
}

func (d *Diagnostics) SetState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.CurrentState = state
}

func (d *Diagnostics) SetShortcutDescription(description string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.ShortcutDescription = description
}

func (d *Diagnostics) RecordStartFailure(code string, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastStartFailureCode = code
	d.snap.LastStartFailureMessage = message
	d.snap.LastStartFailureMs = d.nowMs()
}

func (d *Diagnostics) ClearStartFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastStartFailureCode = ""
	d.snap.LastStartFailureMessage = ""
	d.snap.LastStartFailureMs = 0
}

func (d *Diagnostics) RecordStopFailure(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastStopFailureMessage = message
	d.snap.LastStopFailureMs = d.nowMs()
}

func (d *Diagnostics) ClearStopFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastStopFailureMessage = ""
	d.snap.LastStopFailureMs = 0
}

// ExpectPendingCommit notes that the daemon should soon hold text for sessionID.
func (d *Diagnostics) ExpectPendingCommit(sessionID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.PendingCommitSessionID = sessionID
	d.pendingCommitMarked = d.now()
}

func (d *Diagnostics) ClearPendingCommit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.PendingCommitSessionID = 0
	d.pendingCommitMarked = time.Time{}
}

func (d *Diagnostics) SetFocusedEngine(targetID uint64, lastChangeMs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.FocusedEngineID = targetID
	d.snap.EngineLastChangeMs = lastChangeMs
}

func (d *Diagnostics) RecordSwitchAttempt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.LastSwitchAttemptMs = d.nowMs()
}

func (d *Diagnostics) RecordSwitchConfirmed(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastSwitchConfirmLatencyMs = uint64(max(latency, 0).Milliseconds())
	d.snap.LastSwitchFailureMessage = ""
}

func (d *Diagnostics) RecordSwitchFailure(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.LastSwitchFailureMessage = message
}

// RecordRPCError implements the bus client error hook.
func (d *Diagnostics) RecordRPCError(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap.LastRPCError = fmt.Sprintf("%s: %v", method, err)
	d.snap.LastRPCErrorMs = d.nowMs()
}

func (d *Diagnostics) IncPressWhileTarget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.PressWhileTargetCount++
}

func (d *Diagnostics) IncStopTimeoutFallback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.StopTimeoutFallbackCount++
}

// PushEvent appends a timestamped line to the bounded event history.
func (d *Diagnostics) PushEvent(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := fmt.Sprintf("%d %s", d.nowMs(), fmt.Sprintf(format, args...))
	d.events = append(d.events, line)
	if overflow := len(d.events) - d.historyLimit; overflow > 0 {
		d.events = append([]string(nil), d.events[overflow:]...)
	}
}

func (d *Diagnostics) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// AllowNotification reports whether the cooldown has elapsed and, if so,
// starts a new cooldown window.
func (d *Diagnostics) AllowNotification() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.lastNotification.IsZero() && now.Sub(d.lastNotification) < d.cooldown {
		return false
	}
	d.lastNotification = now
	return true
}

func (d *Diagnostics) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.snap
	snap.EngineActive = snap.FocusedEngineID != 0
	snap.RecentEventCount = len(d.events)
	if snap.PendingCommitSessionID != 0 && !d.pendingCommitMarked.IsZero() {
		snap.PendingCommitAgeMs = uint64(max(d.now().Sub(d.pendingCommitMarked), 0).Milliseconds())
	}
	return snap
}

func (d *Diagnostics) nowMs() uint64 {
	ms := d.now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
