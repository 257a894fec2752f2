package usecase

import (
	"context"
	"strings"
	"time"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

// TranscriberConfig controls how captured samples are streamed to the provider.
type TranscriberConfig struct {
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	LiveGrace      time.Duration
}

// StreamTranscriber runs one streaming provider pass per transcription.
type StreamTranscriber struct {
	provider ports.TranscriptionProvider
	hasModel bool
	cfg      TranscriberConfig
}

func NewStreamTranscriber(provider ports.TranscriptionProvider, hasModel bool, cfg TranscriberConfig) *StreamTranscriber {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.StreamingGrace <= 0 {
		cfg.StreamingGrace = 5 * time.Second
	}
	if cfg.LiveGrace <= 0 {
		cfg.LiveGrace = 2 * time.Second
	}
	return &StreamTranscriber{provider: provider, hasModel: hasModel && provider != nil, cfg: cfg}
}

func (t *StreamTranscriber) HasModel() bool {
	return t.hasModel
}

func (t *StreamTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	return t.run(ctx, samples, t.cfg.Streaming, t.cfg.StreamingGrace)
}

// TranscribeLive favors latency over completeness; interim results are
// accepted when the final segment does not arrive within the live grace.
func (t *StreamTranscriber) TranscribeLive(ctx context.Context, samples []float32) (string, error) {
	streaming := t.cfg.Streaming
	streaming.InterimResults = true
	return t.run(ctx, samples, streaming, t.cfg.LiveGrace)
}

func (t *StreamTranscriber) run(ctx context.Context, samples []float32, streaming ports.StreamingConfig, grace time.Duration) (string, error) {
	if !t.hasModel {
		return "", domain.NewError(domain.ErrorCodeNoModel, "No model selected")
	}
	if len(samples) == 0 {
		return "", nil
	}

	stream, err := t.provider.StartStreaming(ctx, streaming)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeTranscriptionFailed, err, "failed to open transcription stream")
	}

	text := collect(stream.Events())

	if err := pumpAudioChunks(encodePCM16(samples), stream, t.cfg.ChunkSize); err != nil {
		_ = stream.Close()
		<-text
		return "", domain.WrapError(domain.ErrorCodeTranscriptionFailed, err, "transcription stream rejected audio")
	}
	_ = stream.CloseSend()

	waitErr := waitForStream(stream, grace)
	raw := strings.TrimSpace(<-text)
	if waitErr != nil && raw == "" {
		return "", domain.WrapError(domain.ErrorCodeTranscriptionFailed, waitErr, "transcription stream failed")
	}
	return raw, nil
}
