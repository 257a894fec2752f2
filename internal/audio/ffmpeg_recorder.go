package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"dikt/internal/domain"
	"dikt/internal/ports"
)

const (
	DefaultSampleRate = 16000

	// DefaultMaxBufferedSamples keeps ten minutes of 16 kHz mono audio.
	DefaultMaxBufferedSamples = DefaultSampleRate * 60 * 10

	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
	readChunk    = 4096
)

// FFMPEGRecorder captures microphone PCM with ffmpeg into memory. One binding
// records at a time.
type FFMPEGRecorder struct {
	command    string
	cfg        ports.AudioConfig
	maxSamples int
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	active *capture
}

func NewFFMPEGRecorder(command string, cfg ports.AudioConfig, maxSamples int, logger *zap.SugaredLogger) *FFMPEGRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxBufferedSamples
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FFMPEGRecorder{command: command, cfg: cfg, maxSamples: maxSamples, logger: logger}
}

func (r *FFMPEGRecorder) TryStart(ctx context.Context, bindingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return domain.NewError(domain.ErrorCodeRecorderBusy, "binding %s is already recording", r.active.bindingID)
	}

	proc, err := r.startProcess(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeRecorderUnavailable, err, "could not open audio input %s:%s", r.cfg.InputFormat, r.cfg.InputDevice)
	}

	c := &capture{
		bindingID:  bindingID,
		proc:       proc,
		maxSamples: r.maxSamples,
		done:       make(chan struct{}),
	}
	go c.pump(r.logger)
	r.active = c
	r.logger.Debugw("audio capture started", "binding", bindingID)
	return nil
}

func (r *FFMPEGRecorder) Stop(bindingID string) ([]float32, bool) {
	c := r.detach(bindingID)
	if c == nil {
		return nil, false
	}
	if err := c.finish(); err != nil {
		r.logger.Warnw("audio capture stopped with error", "binding", bindingID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float32(nil), c.samples...), true
}

func (r *FFMPEGRecorder) Cancel() {
	c := r.detach("")
	if c == nil {
		return
	}
	if err := c.finish(); err != nil {
		r.logger.Debugw("cancelled audio capture exited with error", "binding", c.bindingID, "error", err)
	}
}

func (r *FFMPEGRecorder) Snapshot(bindingID string, maxSamples int) ([]float32, int, bool) {
	r.mu.Lock()
	c := r.active
	r.mu.Unlock()
	if c == nil || c.bindingID != bindingID {
		return nil, 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	window := c.samples
	if maxSamples > 0 && len(window) > maxSamples {
		window = window[len(window)-maxSamples:]
	}
	return append([]float32(nil), window...), c.total, true
}

// detach removes the active capture. An empty bindingID matches any binding.
func (r *FFMPEGRecorder) detach(bindingID string) *capture {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.active
	if c == nil || (bindingID != "" && c.bindingID != bindingID) {
		return nil
	}
	r.active = nil
	return c
}

func (r *FFMPEGRecorder) startProcess(ctx context.Context) (*ffmpegProcess, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// The capture outlives the start call, so ctx only bounds the startup wait.
	cmd := exec.Command(r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// A plain pipe instead of StdoutPipe: Wait must not close the read end
	// before the last frames are drained.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	err = cmd.Start()
	_ = stdoutW.Close()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	proc := &ffmpegProcess{stdout: stdout, stderr: &stderr, process: cmd.Process, waitErr: waitErr}
	timer := time.NewTimer(startupGrace)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = proc.stop()
		_ = stdout.Close()
		return nil, ctx.Err()
	case <-timer.C:
	}
	return proc, nil
}

type capture struct {
	bindingID  string
	proc       *ffmpegProcess
	maxSamples int
	done       chan struct{}

	mu      sync.Mutex
	samples []float32
	total   int
	dropped bool
}

// pump decodes s16le frames until ffmpeg closes its output.
func (c *capture) pump(logger *zap.SugaredLogger) {
	defer close(c.done)

	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := c.proc.stdout.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			c.append(decodePCM16(data[:even]), logger)
			carry = append(carry[:0], data[even:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.Debugw("audio capture read ended", "binding", c.bindingID, "error", err)
			}
			return
		}
	}
}

func (c *capture) append(samples []float32, logger *zap.SugaredLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, samples...)
	c.total += len(samples)
	if overflow := len(c.samples) - c.maxSamples; overflow > 0 {
		c.samples = append(c.samples[:0], c.samples[overflow:]...)
		if !c.dropped {
			c.dropped = true
			logger.Warnw("audio buffer full; dropping oldest samples", "binding", c.bindingID, "max_samples", c.maxSamples)
		}
	}
}

// finish stops ffmpeg and waits until every buffered frame is decoded. A
// child that keeps the pipe open is cut off after stopGrace.
func (c *capture) finish() error {
	err := c.proc.stop()

	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		_ = c.proc.stdout.Close()
		<-c.done
	}
	_ = c.proc.stdout.Close()
	return err
}

func decodePCM16(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}

type ffmpegProcess struct {
	stdout *os.File
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (p *ffmpegProcess) stop() error {
	p.stopOnce.Do(func() {
		if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if p.process != nil {
				_ = p.process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
