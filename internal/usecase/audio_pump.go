package usecase

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"dikt/internal/ports"
)

const defaultChunkSize = 8192

// encodePCM16 converts normalized float samples to little-endian signed 16 bit PCM.
func encodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		clamped := math.Max(-1, math.Min(1, float64(sample)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamped*math.MaxInt16)))
	}
	return out
}

func pumpAudioChunks(pcm []byte, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	for start := 0; start < len(pcm); start += chunkSize {
		end := min(start+chunkSize, len(pcm))
		if err := stream.SendAudio(pcm[start:end]); err != nil {
			return fmt.Errorf("failed to stream audio: %w", err)
		}
	}
	return nil
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
