package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"speechpad/internal/ports"
)

const (
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"

	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// ErrRecorderExited reports a recorder process that ended before Stop.
var ErrRecorderExited = errors.New("recorder exited unexpectedly")

// voiceFilter band-limits capture to speech frequencies. Measurement mode
// leaves the signal untouched.
const voiceFilter = "highpass=f=80,lowpass=f=7600"

// FFMPEGCapture records microphone PCM through an ffmpeg child process.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Command returns the recorder binary this capture source runs.
func (c *FFMPEGCapture) Command() string {
	return c.command
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioSessionConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, trimOutput(stderr.String()))
		}
		return nil, errors.New("recorder exited before capture started")
	case <-time.After(startupGrace):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func captureArgs(cfg ports.AudioSessionConfig) []string {
	format := cfg.InputFormat
	if format == "" {
		format = defaultInputFormat
	}
	device := cfg.InputDevice
	if device == "" {
		device = defaultInputDevice
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
	}
	if cfg.BufferFrames > 0 {
		// Keep the device buffer close to one tap so stops are prompt.
		args = append(args, "-fragment_size", strconv.Itoa(cfg.BufferBytes()))
	}
	args = append(args, "-i", device)
	if cfg.Mode == ports.AudioModeVoice {
		args = append(args, "-af", voiceFilter)
	}
	return append(args,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"-",
	)
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// Read returns io.EOF once the session has been stopped and the pipe closed.
// A recorder that exits on its own yields ErrRecorderExited.
func (s *ffmpegSession) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil && (errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)) {
		return n, s.endOfStream()
	}
	return n, err
}

func (s *ffmpegSession) endOfStream() error {
	if s.stopped.Load() {
		return io.EOF
	}

	var exitErr error
	exited := false
	select {
	case err, ok := <-s.waitErr:
		exitErr, exited = err, ok
	case <-time.After(stopGrace):
	}
	if s.stopped.Load() {
		return io.EOF
	}

	// stderr is complete only once the process has been reaped.
	detail := ""
	if exited {
		detail = trimOutput(s.stderr.String())
	}
	switch {
	case exitErr != nil && detail != "":
		return fmt.Errorf("%w: %w: %s", ErrRecorderExited, exitErr, detail)
	case exitErr != nil:
		return fmt.Errorf("%w: %w", ErrRecorderExited, exitErr)
	case detail != "":
		return fmt.Errorf("%w: %s", ErrRecorderExited, detail)
	default:
		return ErrRecorderExited
	}
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimOutput(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeStopErr drops the non-zero exit status recorders report when
// interrupted.
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

func trimOutput(input string) string {
	return strings.TrimSpace(input)
}
