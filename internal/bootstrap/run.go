package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"dikt/internal/busrpc"
	"dikt/internal/config"
	"dikt/internal/input"
	"dikt/internal/notify"
	"dikt/internal/ports"
)

const appName = "dikt"

// RunDaemon exports the transcription service on the bus and serves until
// ctx is done. Edits to the rules file are picked up without a restart.
func RunDaemon(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	conn, err := busrpc.Connect(cfg.Daemon.BusAddress)
	if err != nil {
		return err
	}
	defer conn.Close()

	svc, err := BuildDaemon(cfg, busrpc.NewEmitter(conn, logger.Named("signals")), logger)
	if err != nil {
		return err
	}
	defer svc.Daemon.Close()

	server, err := busrpc.Serve(conn, svc.Daemon, logger.Named("bus"))
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warnw("release transcription service", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Daemon.RunHousekeeping(ctx)
	}()
	go func() {
		defer wg.Done()
		watchFile(ctx, svc.Rules.Path(), logger, func() { _ = svc.Rules.Reload() })
	}()

	logger.Infow("daemon ready", "live_preview", cfg.LivePreview.Enabled, "rules", svc.Rules.Path())
	<-ctx.Done()
	wg.Wait()
	return nil
}

// RunListener binds the toggle shortcut and serves diagnostics until ctx is
// done. Saving the env-file with a new shortcut rebinds the listener.
func RunListener(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	conn, err := busrpc.Connect(cfg.Daemon.BusAddress)
	if err != nil {
		return err
	}
	defer conn.Close()

	diag := NewHealth(cfg)
	client := busrpc.NewClient(conn,
		busrpc.WithCallTimeout(cfg.Toggle.CallTimeout),
		busrpc.WithErrorHook(diag.RecordRPCError),
	)
	svc, err := BuildListener(cfg, ListenerDeps{
		Client:   client,
		Notifier: notify.NewDesktop(conn, appName, logger.Named("notify")),
		Health:   diag,
	}, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if svc.Diagnostics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Diagnostics.Run(ctx, cfg.Diagnostics.Address); err != nil {
				logger.Warnw("diagnostics endpoint stopped", "error", err)
			}
		}()
	}
	if cfg.Toggle.WatchConfig {
		path := cfg.File
		if path == "" {
			path, _ = config.FilePath()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchFile(ctx, path, logger, func() { rebindFromFile(svc.Listener, path, svc.Binding, logger) })
		}()
	}

	err = svc.Listener.Run(ctx)
	wg.Wait()
	return err
}

type rebinder interface {
	Rebind(binding input.Binding)
}

// rebindFromFile reloads the configuration and rebinds the listener,
// including when the shortcut is unchanged, so a fresh bind session picks up
// newly attached keyboards.
func rebindFromFile(l rebinder, path string, fallback input.Binding, logger *zap.SugaredLogger) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		logger.Warnw("config reload failed; keeping current shortcut", "path", path, "error", err)
		return
	}
	binding, err := input.ParseBinding(cfg.Toggle.Shortcut)
	if err != nil {
		logger.Warnw("invalid shortcut in reloaded config", "shortcut", cfg.Toggle.Shortcut, "error", err)
		binding = fallback
	}
	logger.Infow("config changed; rebinding shortcut", "shortcut", binding.String())
	l.Rebind(binding)
}

// RunEngine reports targetID as the focused engine instance and delivers
// its commits to sink until ctx is done.
func RunEngine(ctx context.Context, cfg config.Config, targetID uint64, sink ports.TextSink, logger *zap.SugaredLogger) error {
	dial := func(context.Context) (ports.EngineClient, error) {
		client, err := busrpc.Dial(cfg.Daemon.BusAddress, busrpc.WithCallTimeout(cfg.Toggle.CallTimeout))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	l := BuildEngine(cfg, dial, sink, logger)
	if err := l.Enable(ctx, targetID); err != nil {
		return fmt.Errorf("enable engine %d: %w", targetID, err)
	}
	l.FocusIn(ctx, targetID)

	<-ctx.Done()
	l.FocusOut(ctx, targetID)
	return l.Close()
}

func watchFile(ctx context.Context, path string, logger *zap.SugaredLogger, onChange func()) {
	if path == "" {
		return
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		logger.Debugw("not watching file; directory is missing", "path", path)
		return
	}
	if err := config.Watch(ctx, path, 0, logger, onChange); err != nil {
		logger.Warnw("file watch stopped", "path", path, "error", err)
	}
}
