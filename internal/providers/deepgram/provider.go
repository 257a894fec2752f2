// Package deepgram streams linear PCM to Deepgram's live transcription
// websocket.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

const (
	DefaultBaseURL     = "https://api.deepgram.com/v1"
	DefaultModel       = "nova-2"
	DefaultDialTimeout = 10 * time.Second
	// DefaultKeepAlive stays under the server's ten second idle limit.
	DefaultKeepAlive = 8 * time.Second
)

type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// Endpointing is the silence in milliseconds that ends an utterance;
	// zero keeps the server default.
	Endpointing int
	DialTimeout time.Duration
	KeepAlive   time.Duration
}

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

func NewProvider(cfg Config, logger *zap.SugaredLogger) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger,
	}
}

// Configured reports whether an API key is present. The daemon treats an
// unconfigured provider as having no model selected.
func (p *Provider) Configured() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

// StartStreaming opens one listen socket. Cancelling ctx aborts the stream.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if !p.Configured() {
		return nil, domain.NewError(domain.ErrorCodeNoModel, "Deepgram API key is not configured")
	}

	target, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{"Authorization": []string{"Token " + p.cfg.APIKey}}
	conn, resp, err := p.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to deepgram (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}
	if resp != nil {
		p.logger.Debugw("deepgram stream opened", "request_id", resp.Header.Get("dg-request-id"), "interim", cfg.InterimResults)
	}
	return openStream(ctx, conn, p.cfg.KeepAlive, p.logger), nil
}

// listenURL maps the REST base URL onto the websocket listen endpoint.
func listenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid deepgram base URL %q: unsupported scheme", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/listen"

	encoding := streamCfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	rate := streamCfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := streamCfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := url.Values{
		"model":           {providerCfg.Model},
		"encoding":        {encoding},
		"sample_rate":     {strconv.Itoa(rate)},
		"channels":        {strconv.Itoa(channels)},
		"interim_results": {strconv.FormatBool(streamCfg.InterimResults)},
		"smart_format":    {strconv.FormatBool(providerCfg.SmartFormat)},
	}
	if providerCfg.Language != "" {
		q.Set("language", providerCfg.Language)
	}
	if providerCfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(providerCfg.Endpointing))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
