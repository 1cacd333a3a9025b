package usecase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"speechpad/internal/ports"
)

// pumpAudioBuffers is the input tap: every captured buffer is forwarded to the
// recognition task until capture ends.
func pumpAudioBuffers(
	audio ports.AudioSession,
	stream ports.StreamingSession,
	bufferBytes int,
	sent *atomic.Int64,
) error {
	if bufferBytes < 256 {
		bufferBytes = 2048
	}

	buf := make([]byte, bufferBytes)
	for {
		n, err := io.ReadFull(audio, buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("%w: failed to stream audio: %w", ErrAudioStream, sendErr)
			}
			sent.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%w: audio capture error: %w", ErrAudioStream, err)
		}
	}
}
