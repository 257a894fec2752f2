package feedback

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

const outputRate = beep.SampleRate(44100)

var outputFormat = beep.Format{SampleRate: outputRate, NumChannels: 2, Precision: 2}

// Config selects the cue sounds. Empty paths fall back to short tones.
type Config struct {
	Enabled    bool
	StartSound string
	StopSound  string
	// VolumeDB is relative loudness; negative values are quieter.
	VolumeDB float64
}

// Player plays recording cues without blocking the caller.
type Player struct {
	start  *beep.Buffer
	stop   *beep.Buffer
	volume float64
	logger *zap.SugaredLogger

	output func(beep.Streamer) error
}

// NewPlayer decodes both cues up front so a bad file fails at startup.
func NewPlayer(cfg Config, logger *zap.SugaredLogger) (*Player, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Player{volume: cfg.VolumeDB, logger: logger, output: speakerOutput()}
	if !cfg.Enabled {
		return p, nil
	}

	var err error
	if p.start, err = loadCue(cfg.StartSound, 880); err != nil {
		return nil, err
	}
	if p.stop, err = loadCue(cfg.StopSound, 660); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Player) PlayStart() {
	p.play("start", p.start)
}

func (p *Player) PlayStop() {
	p.play("stop", p.stop)
}

func (p *Player) play(name string, cue *beep.Buffer) {
	if cue == nil {
		return
	}
	streamer := &effects.Volume{
		Streamer: cue.Streamer(0, cue.Len()),
		Base:     2,
		Volume:   p.volume,
	}
	go func() {
		if err := p.output(streamer); err != nil {
			p.logger.Debugw("feedback sound failed", "cue", name, "error", err)
		}
	}()
}

// speakerOutput initialises the speaker on first use. Later cues mix with
// any cue still playing.
func speakerOutput() func(beep.Streamer) error {
	var (
		once    sync.Once
		initErr error
	)
	return func(s beep.Streamer) error {
		once.Do(func() {
			initErr = speaker.Init(outputRate, outputRate.N(time.Second/20))
		})
		if initErr != nil {
			return initErr
		}
		speaker.Play(s)
		return nil
	}
}

func loadCue(path string, toneHz float64) (*beep.Buffer, error) {
	buf := beep.NewBuffer(outputFormat)
	if strings.TrimSpace(path) == "" {
		buf.Append(tone(toneHz, 90*time.Millisecond))
		return buf, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feedback sound: %w", err)
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported feedback sound %q; use wav or mp3", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode feedback sound %q: %w", path, err)
	}
	defer streamer.Close()

	buf.Append(beep.Resample(4, format.SampleRate, outputRate, streamer))
	return buf, nil
}

// tone is a sine beep with a short linear fade to avoid clicks.
func tone(hz float64, d time.Duration) beep.Streamer {
	total := outputRate.N(d)
	fade := outputRate.N(10 * time.Millisecond)
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for i := range samples {
			if pos >= total {
				break
			}
			gain := 0.3
			if pos < fade {
				gain *= float64(pos) / float64(fade)
			} else if total-pos < fade {
				gain *= float64(total-pos) / float64(fade)
			}
			v := gain * math.Sin(2*math.Pi*hz*float64(pos)/float64(outputRate))
			samples[i][0], samples[i][1] = v, v
			pos++
			n++
		}
		return n, true
	})
}
