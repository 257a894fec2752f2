package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"dikt/internal/audio"
	"dikt/internal/config"
	"dikt/internal/diagnostics"
	"dikt/internal/engine"
	"dikt/internal/feedback"
	"dikt/internal/health"
	"dikt/internal/ibus"
	"dikt/internal/input"
	"dikt/internal/ports"
	"dikt/internal/postprocess"
	"dikt/internal/providers/deepgram"
	"dikt/internal/session"
	"dikt/internal/toggle"
	"dikt/internal/usecase"
)

// DaemonServices is the assembled transcription service graph.
type DaemonServices struct {
	Daemon *usecase.Daemon
	Rules  *postprocess.Reloader
	Config config.Config
}

// BuildDaemon wires the recorder, transcriber and post-processing behind the
// daemon. Signals may be nil for an unexported daemon.
func BuildDaemon(cfg config.Config, signals ports.SignalEmitter, logger *zap.SugaredLogger) (DaemonServices, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	rules, err := postprocess.NewReloader(cfg.Rules.Path, cfg.Rules.IterationLimit, logger.Named("rules"))
	if err != nil {
		return DaemonServices{}, err
	}

	player, err := feedback.NewPlayer(feedback.Config{
		Enabled:    cfg.Feedback.Enabled,
		StartSound: cfg.Feedback.StartSound,
		StopSound:  cfg.Feedback.StopSound,
		VolumeDB:   cfg.Feedback.VolumeDB,
	}, logger.Named("feedback"))
	if err != nil {
		return DaemonServices{}, fmt.Errorf("feedback sounds: %w", err)
	}

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	recorder := audio.NewFFMPEGRecorder(
		cfg.Audio.RecorderCommand,
		audioCfg,
		cfg.Audio.SampleRate*cfg.Audio.MaxBufferedSeconds,
		logger.Named("recorder"),
	)

	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
		Endpointing: cfg.Deepgram.Endpointing,
	}, logger.Named("deepgram"))
	if !provider.Configured() {
		logger.Warnw("DEEPGRAM_API_KEY is not set; recording requests will fail with no_model")
	}

	transcriber := usecase.NewStreamTranscriber(provider, provider.Configured(), usecase.TranscriberConfig{
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:      cfg.Audio.ChunkSize,
		StreamingGrace: cfg.Deepgram.StreamingGrace,
	})

	registry := session.NewRegistry(session.Options{
		TTL:            cfg.Daemon.SessionTTL,
		CommitCapacity: cfg.Daemon.CommitCapacity,
	})

	daemon := usecase.NewDaemon(usecase.DaemonDeps{
		Registry:    registry,
		Recorder:    recorder,
		Transcriber: transcriber,
		Rules:       rules,
		Feedback:    player,
		Signals:     signals,
		Logger:      logger.Named("daemon"),
	}, usecase.DaemonConfig{
		LivePreview: usecase.LivePreviewConfig{
			Enabled:          cfg.LivePreview.Enabled,
			PollInterval:     cfg.LivePreview.PollInterval,
			MinTotalSamples:  cfg.LivePreview.MinTotalSamples,
			MinNewSamples:    cfg.LivePreview.MinNewSamples,
			MaxWindowSamples: cfg.LivePreview.MaxWindowSamples,
		},
		SweepInterval: cfg.Daemon.SweepInterval,
	})

	return DaemonServices{Daemon: daemon, Rules: rules, Config: cfg}, nil
}

// ListenerDeps are the process-level collaborators of the toggle listener.
type ListenerDeps struct {
	Client   ports.ToggleClient
	Notifier ports.Notifier
	Health   *health.Diagnostics
	// Source defaults to the evdev keyboards matching the configured glob.
	Source toggle.KeySource
	// Switcher defaults to the ibus command line switcher.
	Switcher ports.InputSourceSwitcher
}

// ListenerServices is the assembled toggle listener graph.
type ListenerServices struct {
	Listener    *toggle.Listener
	Health      *health.Diagnostics
	Diagnostics *diagnostics.Server
	Binding     input.Binding
	Config      config.Config
}

func NewHealth(cfg config.Config) *health.Diagnostics {
	return health.New(health.WithNotificationCooldown(cfg.Toggle.NotificationCooldown))
}

// BuildListener wires the toggle controller to the keyboard source.
func BuildListener(cfg config.Config, deps ListenerDeps, logger *zap.SugaredLogger) (ListenerServices, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	binding, err := input.ParseBinding(cfg.Toggle.Shortcut)
	if err != nil {
		return ListenerServices{}, fmt.Errorf("shortcut: %w", err)
	}

	diag := deps.Health
	if diag == nil {
		diag = NewHealth(cfg)
	}
	source := deps.Source
	if source == nil {
		source = toggle.DeviceSource{Glob: cfg.Toggle.DeviceGlob}
	}
	switcher := deps.Switcher
	if switcher == nil {
		switcher = ibus.NewSwitcher(cfg.Toggle.IBusCommand, logger.Named("ibus"))
	}

	ctrl := toggle.NewController(toggle.Deps{
		Client:   deps.Client,
		Switcher: switcher,
		Notifier: deps.Notifier,
		Health:   diag,
		Logger:   logger.Named("toggle"),
	}, toggle.Config{
		Debounce:            cfg.Toggle.Debounce,
		StartArmDelay:       cfg.Toggle.StartArmDelay,
		StartTimeout:        cfg.Toggle.StartTimeout,
		StopTimeout:         cfg.Toggle.StopTimeout,
		CallTimeout:         cfg.Toggle.CallTimeout,
		SwitchVerifyTimeout: cfg.Toggle.SwitchVerifyTimeout,
		FocusVerifyTimeout:  cfg.Toggle.FocusVerifyTimeout,
		FocusPollInterval:   cfg.Toggle.FocusPollInterval,
	})

	listener := toggle.NewListener(toggle.ListenerDeps{
		Controller: ctrl,
		Source:     source,
		Notifier:   deps.Notifier,
		Health:     diag,
		Logger:     logger.Named("listener"),
	}, binding, cfg.Toggle.RetryDelay)

	var server *diagnostics.Server
	if cfg.Diagnostics.Enabled {
		server = diagnostics.NewServer(diag, logger.Named("diagnostics"))
	}

	return ListenerServices{
		Listener:    listener,
		Health:      diag,
		Diagnostics: server,
		Binding:     binding,
		Config:      cfg,
	}, nil
}

// BuildEngine wires the engine-side commit listener.
func BuildEngine(cfg config.Config, dial engine.Dialer, sink ports.TextSink, logger *zap.SugaredLogger) *engine.Listener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return engine.NewListener(engine.Deps{
		Dial:   dial,
		Sink:   sink,
		Logger: logger.Named("engine"),
	}, engine.Config{
		PollInterval:        cfg.Engine.PollInterval,
		PreeditPollTicks:    cfg.Engine.PreeditPollTicks,
		PreeditRefreshTicks: cfg.Engine.PreeditRefreshTicks,
		ReconnectThreshold:  cfg.Engine.ReconnectThreshold,
		CallTimeout:         cfg.Toggle.CallTimeout,
	})
}
