package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"dikt/internal/config"
	"dikt/internal/domain"
	"dikt/internal/input"
	"dikt/internal/toggle"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(config.FileEnv, "")
	t.Setenv("DIKT_FEEDBACK_SOUNDS", "false")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return cfg
}

func TestBuildDaemonSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Deepgram.APIKey = "test-key"

	svc, err := BuildDaemon(cfg, nil, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer svc.Daemon.Close()

	state, err := svc.Daemon.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if !state.HasModelSelected || state.IsRecording {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestBuildDaemonWithoutKeyReportsNoModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Deepgram.APIKey = ""

	svc, err := BuildDaemon(cfg, nil, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer svc.Daemon.Close()

	_, _, err = svc.Daemon.StartRecordingSessionForTarget(context.Background(), 7)
	if domain.CodeOf(err, "") != domain.ErrorCodeNoModel {
		t.Fatalf("expected no_model, got %v", err)
	}
}

func TestBuildDaemonFailsOnInvalidRules(t *testing.T) {
	cfg := testConfig(t)
	rules := filepath.Join(t.TempDir(), "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg.Rules.Path = rules

	if _, err := BuildDaemon(cfg, nil, nil); err == nil {
		t.Fatal("expected build error due to invalid rules")
	}
}

func TestBuildListenerRejectsBadShortcut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Toggle.Shortcut = "Ctrl+Nope"

	if _, err := BuildListener(cfg, ListenerDeps{}, nil); err == nil {
		t.Fatal("expected shortcut error")
	}
}

func TestBuildListenerWiresDiagnostics(t *testing.T) {
	cfg := testConfig(t)

	svc, err := BuildListener(cfg, ListenerDeps{Source: toggle.DeviceSource{Glob: filepath.Join(t.TempDir(), "*")}}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if svc.Listener == nil || svc.Health == nil || svc.Diagnostics == nil {
		t.Fatalf("incomplete listener graph: %+v", svc)
	}
	if svc.Binding.String() != "Ctrl+Alt+Space" {
		t.Fatalf("unexpected binding %q", svc.Binding.String())
	}

	cfg.Diagnostics.Enabled = false
	svc, err = BuildListener(cfg, ListenerDeps{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if svc.Diagnostics != nil {
		t.Fatal("diagnostics should be disabled")
	}
}

type recordingRebinder struct {
	bindings []input.Binding
}

func (r *recordingRebinder) Rebind(b input.Binding) {
	r.bindings = append(r.bindings, b)
}

func TestRebindFromFile(t *testing.T) {
	testConfig(t)
	file := filepath.Join(t.TempDir(), "dikt.env")
	if err := os.WriteFile(file, []byte("DIKT_SHORTCUT=Super+D\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	fallback, err := input.ParseBinding("Ctrl+Alt+Space")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	r := &recordingRebinder{}
	rebindFromFile(r, file, fallback, zap.NewNop().Sugar())
	if len(r.bindings) != 1 || r.bindings[0].String() != "Super+D" {
		t.Fatalf("unexpected rebinds %+v", r.bindings)
	}

	if err := os.WriteFile(file, []byte("DIKT_SHORTCUT=Hyper+Q\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rebindFromFile(r, file, fallback, zap.NewNop().Sugar())
	if len(r.bindings) != 2 || r.bindings[1].String() != fallback.String() {
		t.Fatalf("invalid shortcut should rebind with the fallback, got %+v", r.bindings)
	}
}
