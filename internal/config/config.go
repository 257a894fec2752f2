package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	// FileEnv names the optional env-file; variables set in the process
	// environment take precedence over the file.
	FileEnv = "DIKT_CONFIG_FILE"

	appDir = "dikt"
)

// Config stores runtime configuration for every dikt process.
type Config struct {
	// File is the env-file the configuration was read from, if any.
	File string

	Daemon      DaemonConfig
	LivePreview LivePreviewConfig
	Audio       AudioConfig
	Deepgram    DeepgramConfig
	Rules       RulesConfig
	Feedback    FeedbackConfig
	Toggle      ToggleConfig
	Engine      EngineConfig
	Diagnostics DiagnosticsConfig
	Log         LogConfig
}

type DaemonConfig struct {
	// BusAddress selects the D-Bus; empty means the session bus.
	BusAddress     string        `env:"DIKT_BUS_ADDRESS"`
	SessionTTL     time.Duration `env:"DIKT_SESSION_TTL" envDefault:"5m"`
	SweepInterval  time.Duration `env:"DIKT_SWEEP_INTERVAL" envDefault:"30s"`
	CommitCapacity int           `env:"DIKT_COMMIT_QUEUE_CAPACITY" envDefault:"32"`
}

type LivePreviewConfig struct {
	Enabled          bool          `env:"DIKT_LIVE_PREVIEW" envDefault:"true"`
	PollInterval     time.Duration `env:"DIKT_LIVE_PREVIEW_INTERVAL" envDefault:"600ms"`
	MinTotalSamples  int           `env:"DIKT_LIVE_PREVIEW_MIN_TOTAL_SAMPLES" envDefault:"8000"`
	MinNewSamples    int           `env:"DIKT_LIVE_PREVIEW_MIN_NEW_SAMPLES" envDefault:"3200"`
	MaxWindowSamples int           `env:"DIKT_LIVE_PREVIEW_MAX_WINDOW_SAMPLES" envDefault:"128000"`
}

type AudioConfig struct {
	RecorderCommand    string `env:"DIKT_FFMPEG_COMMAND" envDefault:"ffmpeg"`
	InputFormat        string `env:"DIKT_AUDIO_INPUT_FORMAT" envDefault:"pulse"`
	InputDevice        string `env:"DIKT_AUDIO_INPUT_DEVICE" envDefault:"default"`
	SampleRate         int    `env:"DIKT_SAMPLE_RATE" envDefault:"16000"`
	Channels           int    `env:"DIKT_CHANNELS" envDefault:"1"`
	ChunkSize          int    `env:"DIKT_AUDIO_CHUNK_SIZE" envDefault:"4096"`
	MaxBufferedSeconds int    `env:"DIKT_AUDIO_MAX_BUFFERED_SECONDS" envDefault:"600"`
}

type DeepgramConfig struct {
	APIKey         string        `env:"DEEPGRAM_API_KEY"`
	APIBaseURL     string        `env:"DEEPGRAM_API_BASE" envDefault:"https://api.deepgram.com/v1"`
	Model          string        `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	Language       string        `env:"DEEPGRAM_LANGUAGE"`
	SmartFormat    bool          `env:"DEEPGRAM_SMART_FORMAT" envDefault:"true"`
	Endpointing    int           `env:"DEEPGRAM_ENDPOINTING_MS"`
	StreamingGrace time.Duration `env:"DIKT_STREAMING_GRACE" envDefault:"5s"`
}

type RulesConfig struct {
	// Path defaults to $XDG_CONFIG_HOME/dikt/substitutions.rules.
	Path           string `env:"DIKT_RULES_FILE"`
	IterationLimit int    `env:"DIKT_RULE_ITERATION_LIMIT" envDefault:"30"`
}

type FeedbackConfig struct {
	Enabled    bool    `env:"DIKT_FEEDBACK_SOUNDS" envDefault:"true"`
	StartSound string  `env:"DIKT_FEEDBACK_START_SOUND"`
	StopSound  string  `env:"DIKT_FEEDBACK_STOP_SOUND"`
	VolumeDB   float64 `env:"DIKT_FEEDBACK_VOLUME_DB"`
}

type ToggleConfig struct {
	Shortcut             string        `env:"DIKT_SHORTCUT" envDefault:"Ctrl+Alt+Space"`
	Debounce             time.Duration `env:"DIKT_TOGGLE_DEBOUNCE" envDefault:"90ms"`
	StartArmDelay        time.Duration `env:"DIKT_START_ARM_DELAY" envDefault:"120ms"`
	StartTimeout         time.Duration `env:"DIKT_START_TIMEOUT" envDefault:"5s"`
	StopTimeout          time.Duration `env:"DIKT_STOP_TIMEOUT" envDefault:"20s"`
	CallTimeout          time.Duration `env:"DIKT_CALL_TIMEOUT" envDefault:"2s"`
	SwitchVerifyTimeout  time.Duration `env:"DIKT_SWITCH_VERIFY_TIMEOUT" envDefault:"350ms"`
	FocusVerifyTimeout   time.Duration `env:"DIKT_FOCUS_VERIFY_TIMEOUT" envDefault:"700ms"`
	FocusPollInterval    time.Duration `env:"DIKT_FOCUS_POLL_INTERVAL" envDefault:"20ms"`
	NotificationCooldown time.Duration `env:"DIKT_NOTIFICATION_COOLDOWN" envDefault:"8s"`
	DeviceGlob           string        `env:"DIKT_KEYBOARD_GLOB" envDefault:"/dev/input/by-path/*-event-kbd"`
	RetryDelay           time.Duration `env:"DIKT_LISTENER_RETRY_DELAY" envDefault:"2s"`
	IBusCommand          string        `env:"DIKT_IBUS_COMMAND" envDefault:"ibus"`
	WatchConfig          bool          `env:"DIKT_WATCH_CONFIG" envDefault:"true"`
}

type EngineConfig struct {
	PollInterval        time.Duration `env:"DIKT_ENGINE_POLL_INTERVAL" envDefault:"60ms"`
	PreeditPollTicks    int           `env:"DIKT_ENGINE_PREEDIT_TICKS" envDefault:"4"`
	PreeditRefreshTicks int           `env:"DIKT_ENGINE_PREEDIT_REFRESH_TICKS" envDefault:"5"`
	ReconnectThreshold  int           `env:"DIKT_ENGINE_RECONNECT_THRESHOLD" envDefault:"5"`
}

type DiagnosticsConfig struct {
	Enabled bool   `env:"DIKT_DIAGNOSTICS" envDefault:"true"`
	Address string `env:"DIKT_DIAGNOSTICS_ADDR" envDefault:"127.0.0.1:7781"`
}

type LogConfig struct {
	Level string `env:"DIKT_LOG_LEVEL" envDefault:"info"`
}

// Load resolves configuration from the env-file named by DIKT_CONFIG_FILE
// (or the default location), the process environment and defaults.
func Load() (Config, error) {
	path, err := FilePath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// FilePath returns DIKT_CONFIG_FILE or $XDG_CONFIG_HOME/dikt/dikt.env.
func FilePath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		return path, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir, "dikt.env"), nil
}

// LoadFile is Load with an explicit env-file. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	environment := make(map[string]string)
	if path != "" {
		fileVars, err := godotenv.Read(path)
		switch {
		case err == nil:
			for k, v := range fileVars {
				environment[k] = v
			}
		case errors.Is(err, os.ErrNotExist):
			path = ""
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environment[k] = v
		}
	}

	var cfg Config
	if err := env.Parse(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = path

	if strings.TrimSpace(cfg.Rules.Path) == "" {
		dir, err := configDir()
		if err == nil {
			cfg.Rules.Path = filepath.Join(dir, appDir, "substitutions.rules")
		}
	}
	cfg.Audio.InputDevice = firstNonEmpty(cfg.Audio.InputDevice, "default")
	cfg.clamp()
	return cfg, nil
}

// clamp replaces out of range values with their defaults.
func (c *Config) clamp() {
	positiveInt(&c.Audio.SampleRate, 16000)
	positiveInt(&c.Audio.Channels, 1)
	positiveInt(&c.Audio.MaxBufferedSeconds, 600)
	if c.Audio.ChunkSize < 256 {
		c.Audio.ChunkSize = 4096
	}
	positiveInt(&c.Rules.IterationLimit, 30)
	positiveInt(&c.Daemon.CommitCapacity, 32)
	positiveDuration(&c.Daemon.SessionTTL, 5*time.Minute)
	positiveDuration(&c.Daemon.SweepInterval, 30*time.Second)

	positiveDuration(&c.LivePreview.PollInterval, 600*time.Millisecond)
	positiveInt(&c.LivePreview.MinTotalSamples, 8000)
	positiveInt(&c.LivePreview.MinNewSamples, 3200)
	positiveInt(&c.LivePreview.MaxWindowSamples, 16000*8)

	if c.Deepgram.Endpointing < 0 {
		c.Deepgram.Endpointing = 0
	}
	positiveDuration(&c.Deepgram.StreamingGrace, 5*time.Second)

	if c.Toggle.Debounce < 0 {
		c.Toggle.Debounce = 90 * time.Millisecond
	}
	if c.Toggle.StartArmDelay < 0 {
		c.Toggle.StartArmDelay = 120 * time.Millisecond
	}
	positiveDuration(&c.Toggle.StartTimeout, 5*time.Second)
	positiveDuration(&c.Toggle.StopTimeout, 20*time.Second)
	positiveDuration(&c.Toggle.CallTimeout, 2*time.Second)
	positiveDuration(&c.Toggle.SwitchVerifyTimeout, 350*time.Millisecond)
	positiveDuration(&c.Toggle.FocusVerifyTimeout, 700*time.Millisecond)
	positiveDuration(&c.Toggle.FocusPollInterval, 20*time.Millisecond)
	positiveDuration(&c.Toggle.NotificationCooldown, 8*time.Second)
	positiveDuration(&c.Toggle.RetryDelay, 2*time.Second)
	c.Toggle.Shortcut = firstNonEmpty(c.Toggle.Shortcut, "Ctrl+Alt+Space")
	c.Toggle.DeviceGlob = firstNonEmpty(c.Toggle.DeviceGlob, "/dev/input/by-path/*-event-kbd")
	c.Toggle.IBusCommand = firstNonEmpty(c.Toggle.IBusCommand, "ibus")

	positiveDuration(&c.Engine.PollInterval, 60*time.Millisecond)
	positiveInt(&c.Engine.PreeditPollTicks, 4)
	positiveInt(&c.Engine.PreeditRefreshTicks, 5)
	positiveInt(&c.Engine.ReconnectThreshold, 5)

	c.Log.Level = firstNonEmpty(c.Log.Level, "info")
}

func configDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config"), nil
}

func positiveInt(v *int, fallback int) {
	if *v <= 0 {
		*v = fallback
	}
}

func positiveDuration(v *time.Duration, fallback time.Duration) {
	if *v <= 0 {
		*v = fallback
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
