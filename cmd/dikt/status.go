package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"dikt/internal/busrpc"
	"dikt/internal/domain"
	"dikt/internal/health"
)

type statusClient interface {
	GetState(ctx context.Context) (domain.DaemonState, error)
	GetFocusedEngine(ctx context.Context) (domain.FocusState, error)
	GetPendingCommitStats(ctx context.Context) (string, error)
	GetSessionStatus(ctx context.Context, sessionID uint64) (domain.SessionReport, error)
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		sessionID uint64
		events    int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and shortcut listener status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			out := cmd.OutOrStdout()

			client, err := busrpc.Dial(a.cfg.Daemon.BusAddress, busrpc.WithCallTimeout(a.cfg.Toggle.CallTimeout))
			if err != nil {
				fmt.Fprintf(out, "daemon: unreachable (%v)\n", err)
			} else {
				defer client.Close()
				if err := writeDaemonStatus(ctx, out, client, sessionID); err != nil {
					fmt.Fprintf(out, "daemon: %v\n", err)
				}
			}

			if a.cfg.Diagnostics.Enabled {
				base := "http://" + a.cfg.Diagnostics.Address
				if err := writeListenerStatus(ctx, out, http.DefaultClient, base, events); err != nil {
					fmt.Fprintf(out, "listener: diagnostics unavailable (%v)\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&sessionID, "session", 0, "also report the status of this session id")
	cmd.Flags().IntVar(&events, "events", 10, "number of recent listener events to print")
	return cmd
}

func writeDaemonStatus(ctx context.Context, w io.Writer, c statusClient, sessionID uint64) error {
	state, err := c.GetState(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "daemon: recording=%t model=%t\n", state.IsRecording, state.HasModelSelected)

	if focus, err := c.GetFocusedEngine(ctx); err == nil {
		fmt.Fprintf(w, "focused engine: %d (changed at %d ms)\n", focus.TargetID, focus.LastChangeMs)
	}

	if raw, err := c.GetPendingCommitStats(ctx); err == nil {
		var stats domain.PendingCommitStats
		if json.Unmarshal([]byte(raw), &stats) == nil {
			fmt.Fprintf(w, "pending commits: %d (oldest %d ms, dropped %d)\n", stats.QueueLen, stats.OldestAgeMs, stats.DroppedCount)
		}
	}

	if sessionID != 0 {
		report, err := c.GetSessionStatus(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "session %d: %s", sessionID, report.Status)
		if report.Message != "" {
			fmt.Fprintf(w, " (%s)", report.Message)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeListenerStatus(ctx context.Context, w io.Writer, client *http.Client, base string, events int) error {
	var snap health.Snapshot
	if err := getJSON(ctx, client, base+"/health", &snap); err != nil {
		return err
	}

	state := "healthy"
	if !snap.Healthy {
		state = "unhealthy"
	}
	fmt.Fprintf(w, "listener: %s [%s] %s\n", state, snap.Code, snap.Message)
	fmt.Fprintf(w, "  shortcut: %s bound=%t state=%s\n", snap.ShortcutDescription, snap.ShortcutBound, snap.CurrentState)
	fmt.Fprintf(w, "  bind failures: %d, presses while target: %d, stop timeout fallbacks: %d\n",
		snap.BindFailCount, snap.PressWhileTargetCount, snap.StopTimeoutFallbackCount)
	if snap.LastStartFailureCode != "" {
		fmt.Fprintf(w, "  last start failure: %s: %s\n", snap.LastStartFailureCode, snap.LastStartFailureMessage)
	}
	if snap.LastStopFailureMessage != "" {
		fmt.Fprintf(w, "  last stop failure: %s\n", snap.LastStopFailureMessage)
	}
	if snap.PendingCommitSessionID != 0 {
		fmt.Fprintf(w, "  awaiting commit for session %d (%d ms)\n", snap.PendingCommitSessionID, snap.PendingCommitAgeMs)
	}
	if snap.LastRPCError != "" {
		fmt.Fprintf(w, "  last bus error: %s\n", snap.LastRPCError)
	}

	if events <= 0 {
		return nil
	}
	var body struct {
		Events []string `json:"events"`
	}
	if err := getJSON(ctx, client, fmt.Sprintf("%s/events?limit=%d", base, events), &body); err != nil {
		return err
	}
	for _, line := range body.Events {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}

// getJSON accepts any status code; /health answers 503 with a body while
// the listener is unhealthy.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
