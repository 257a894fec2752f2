// Package ibus switches the global IBus engine through the ibus command line
// tool.
package ibus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCommand = "ibus"
	EngineName     = "dikt"
	FallbackName   = "other:dikt"

	pollInterval     = 20 * time.Millisecond
	setRetryInterval = 120 * time.Millisecond
	addressPrefix    = "IBUS_ADDRESS="
)

var errBlankEngine = errors.New("ibus returned blank global engine")

// Switcher implements ports.InputSourceSwitcher.
type Switcher struct {
	command string
	logger  *zap.SugaredLogger

	addrOnce sync.Once
	env      []string
}

func NewSwitcher(command string, logger *zap.SugaredLogger) *Switcher {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Switcher{command: command, logger: logger}
}

// IsTarget reports whether engine is the dictation engine under any prefix.
func (s *Switcher) IsTarget(engine string) bool {
	return IsDiktEngine(engine)
}

func IsDiktEngine(engine string) bool {
	return engine == EngineName || strings.HasSuffix(engine, ":"+EngineName)
}

func (s *Switcher) Current(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "engine")
	if err != nil {
		return "", err
	}
	engine := strings.TrimSpace(out)
	if engine == "" {
		return "", errBlankEngine
	}
	return engine, nil
}

func (s *Switcher) set(ctx context.Context, engine string) error {
	_, err := s.run(ctx, "engine", engine)
	return err
}

// SwitchVerified switches to the dictation engine and waits until IBus
// reports it as current. The bare engine name is tried first, then the
// "other:" prefixed one.
func (s *Switcher) SwitchVerified(ctx context.Context, timeout time.Duration) (string, error) {
	if engine, err := s.Current(ctx); err == nil && s.IsTarget(engine) {
		return engine, nil
	}

	var attempts []string
	for _, candidate := range []string{EngineName, FallbackName} {
		engine, err := s.switchTo(ctx, candidate, timeout)
		if err == nil {
			return engine, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		attempts = append(attempts, fmt.Sprintf("%s (%v)", candidate, err))
	}
	return "", fmt.Errorf("switch to dictation input source not confirmed, tried: %s", strings.Join(attempts, ", "))
}

func (s *Switcher) switchTo(ctx context.Context, target string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var (
		setAttempts int
		lastSetErr  error
		lastEngine  string
		lastErr     error
		lastSet     time.Time
	)
	for {
		if time.Since(lastSet) >= setRetryInterval {
			if err := s.set(ctx, target); err != nil {
				lastSetErr = err
			} else {
				setAttempts++
				lastSetErr = nil
			}
			lastSet = time.Now()
		}

		engine, err := s.Current(ctx)
		switch {
		case err != nil:
			lastErr = err
		case s.IsTarget(engine):
			return engine, nil
		default:
			lastEngine = engine
		}

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return "", fmt.Errorf("not confirmed within %s (set_attempts=%d last_set_error=%v last_engine=%q last_error=%v)",
		timeout, setAttempts, lastSetErr, lastEngine, lastErr)
}

func (s *Switcher) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Env = s.environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", s.command, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", s.command, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// environ fills in IBUS_ADDRESS from the ibus bus files when the process was
// started outside the graphical session.
func (s *Switcher) environ() []string {
	s.addrOnce.Do(func() {
		if os.Getenv("IBUS_ADDRESS") != "" {
			return
		}
		address, source := DiscoverAddress(busDirs(), machineID(), os.Getenv("WAYLAND_DISPLAY"))
		if address == "" {
			s.logger.Warnw("IBUS_ADDRESS is unset and no ibus bus file was found", "checked", busDirs())
			return
		}
		s.env = append(os.Environ(), addressPrefix+address)
		s.logger.Infow("using ibus address from bus file", "path", source)
	})
	return s.env
}

func busDirs() []string {
	var dirs []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		dirs = append(dirs, filepath.Join(dir, "ibus", "bus"))
	}
	if home := os.Getenv("HOME"); home != "" {
		fallback := filepath.Join(home, ".config", "ibus", "bus")
		if len(dirs) == 0 || dirs[0] != fallback {
			dirs = append(dirs, fallback)
		}
	}
	return dirs
}

func machineID() string {
	raw, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// DiscoverAddress picks the best IBUS_ADDRESS among the bus files in dirs.
// Files named after the machine id and the Wayland display score higher;
// ties go to the most recently modified file.
func DiscoverAddress(dirs []string, machine string, waylandDisplay string) (address string, path string) {
	displayToken := ""
	if d := strings.TrimSpace(waylandDisplay); d != "" {
		displayToken = "-unix-" + d
	}

	bestScore := -1
	var bestMod time.Time
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			addr := parseAddressFile(full)
			if addr == "" {
				continue
			}
			score := 0
			if machine != "" && strings.HasPrefix(entry.Name(), machine) {
				score += 20
			}
			if displayToken != "" && strings.Contains(entry.Name(), displayToken) {
				score += 50
			}
			var mod time.Time
			if info, err := entry.Info(); err == nil {
				mod = info.ModTime()
			}
			if score > bestScore || (score == bestScore && mod.After(bestMod)) {
				bestScore, bestMod = score, mod
				address, path = addr, full
			}
		}
	}
	return address, path
}

func parseAddressFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return parseAddress(f)
}

func parseAddress(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), addressPrefix); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}
