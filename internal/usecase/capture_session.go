package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

var (
	ErrAudioSessionConfig     = errors.New("audio session configuration failed")
	ErrAudioEngineStart       = errors.New("audio engine failed to start")
	ErrAudioStream            = errors.New("audio stream failed")
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
)

const defaultDrainTimeout = 4 * time.Second

// ResultHandler receives recognition results and the terminal stop update.
// It is called from recognition goroutines, never from the caller of Start.
type ResultHandler func(update domain.Update)

// CaptureConfig controls capture and recognition for every session.
type CaptureConfig struct {
	Audio        ports.AudioSessionConfig
	Streaming    ports.StreamingConfig
	DrainTimeout time.Duration
}

// CaptureSession bridges microphone audio to a recognition service. At most
// one recognition task is in flight at any time.
type CaptureSession struct {
	audio    ports.AudioCaptureSource
	service  ports.TranscriptionService
	observer ports.SessionObserver
	logger   *log.Logger
	cfg      CaptureConfig

	newID func() string
	clock func() time.Time

	startMu sync.Mutex
	mu      sync.Mutex
	current *activeSession
}

func NewCaptureSession(
	audio ports.AudioCaptureSource,
	service ports.TranscriptionService,
	observer ports.SessionObserver,
	logger *log.Logger,
	cfg CaptureConfig,
) *CaptureSession {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &CaptureSession{
		audio:    audio,
		service:  service,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		newID:    uuid.NewString,
		clock:    time.Now,
	}
}

// Start cancels any in-flight recognition task, then opens a new one and
// begins forwarding microphone buffers to it.
func (c *CaptureSession) Start(ctx context.Context, handler ResultHandler) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.mu.Unlock()

	if previous != nil {
		c.logger.Info("canceling previous recognition task", "session", previous.id)
		c.cancelSession(previous)
	}

	if err := validateAudioConfig(c.cfg.Audio); err != nil {
		return fmt.Errorf("%w: %w", ErrAudioSessionConfig, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := c.service.StartStreaming(sessionCtx, c.cfg.Streaming)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrRecognitionUnavailable, err)
	}

	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return fmt.Errorf("%w: %w", ErrAudioEngineStart, err)
	}

	active := &activeSession{
		id:        c.newID(),
		provider:  c.service.Name(),
		startedAt: c.clock(),
		cancel:    cancel,
		audio:     audioSession,
		stream:    stream,
		handler:   handler,
		state:     taskRecording,
		ended:     make(chan struct{}),
		audioDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	c.observer.SessionStarted(context.Background(), active.record("", nil, time.Time{}))
	c.logger.Info("recognition started", "session", active.id, "provider", active.provider)

	go c.consumeResults(active)
	go c.pump(active)
	return nil
}

// Stop halts audio capture and ends the request. The recognition task keeps
// delivering results until its final result or the drain timeout. Stop is
// idempotent and returns without waiting for the audio engine.
func (c *CaptureSession) Stop() {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil || !active.beginDrain() {
		return
	}

	c.logger.Info("recognition stopping", "session", active.id)
	go c.drain(active)
}

// Cancel tears down the in-flight task immediately without further callbacks.
func (c *CaptureSession) Cancel() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active != nil {
		c.cancelSession(active)
	}
}

// Wait blocks until the recognition task in flight when it was called has
// ended, or ctx is done.
func (c *CaptureSession) Wait(ctx context.Context) error {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil {
		return nil
	}
	select {
	case <-active.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether a recognition task is in flight.
func (c *CaptureSession) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *CaptureSession) cancelSession(active *activeSession) {
	active.detach()
	c.finish(active, domain.OutcomeCanceled, nil)
}

// drain stops the audio engine, ends the audio once the tap has flushed and
// waits for the task to finish within the drain timeout.
func (c *CaptureSession) drain(active *activeSession) {
	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()

	if err := active.audio.Stop(); err != nil {
		c.logger.Warn("audio capture did not stop cleanly", "session", active.id, "err", err)
	}

	select {
	case <-active.audioDone:
	case <-active.ended:
		return
	case <-timer.C:
		c.logger.Warn("audio tap did not drain before timeout", "session", active.id)
		c.finish(active, domain.OutcomeStopped, nil)
		return
	}

	if err := active.stream.CloseSend(); err != nil {
		c.logger.Warn("failed to end audio for recognition", "session", active.id, "err", err)
	}

	select {
	case <-active.ended:
	case <-timer.C:
		c.logger.Warn("recognition did not finish before drain timeout", "session", active.id)
		c.finish(active, domain.OutcomeStopped, nil)
	}
}

func (c *CaptureSession) pump(active *activeSession) {
	err := pumpAudioBuffers(active.audio, active.stream, c.cfg.Audio.BufferBytes(), &active.audioBytes)
	close(active.audioDone)
	if active.isEnded() {
		return
	}
	if err != nil {
		c.finish(active, domain.OutcomeError, err)
		return
	}
	// Capture ended without a stop; let the task finalize what it heard.
	if active.beginDrain() {
		c.logger.Warn("audio capture ended before stop", "session", active.id)
		c.drain(active)
	}
}

func (c *CaptureSession) consumeResults(active *activeSession) {
	for event := range active.stream.Events() {
		text := strings.TrimSpace(event.Text)
		final := event.Kind == domain.TranscriptKindFinal
		if text != "" {
			active.markHeard()
		}
		// Every result replaces the display, including an empty revision.
		active.deliver(domain.Update{Text: text, HasText: true, Final: final})
		if final {
			outcome := domain.OutcomeFinal
			if text == "" {
				outcome = domain.OutcomeNoSpeech
			}
			c.finish(active, outcome, nil)
			return
		}
	}

	if err := active.stream.Wait(); err != nil {
		c.finish(active, domain.OutcomeError, err)
		return
	}
	if active.hasHeard() {
		c.finish(active, domain.OutcomeStopped, nil)
		return
	}
	c.finish(active, domain.OutcomeNoSpeech, nil)
}

// finish releases the request and task exactly once and reports the stop.
func (c *CaptureSession) finish(active *activeSession, outcome domain.SessionOutcome, err error) {
	active.endOnce.Do(func() {
		active.cancel()
		if stopErr := active.audio.Stop(); stopErr != nil && !active.draining() {
			c.logger.Warn("audio capture did not stop cleanly", "session", active.id, "err", stopErr)
		}
		_ = active.stream.Close()

		c.mu.Lock()
		if c.current == active {
			c.current = nil
		}
		c.mu.Unlock()
		close(active.ended)

		c.observer.SessionEnded(context.Background(), active.record(outcome, err, c.clock()))
		if err != nil {
			c.logger.Error("recognition failed", "session", active.id, "err", err)
		} else {
			c.logger.Info("recognition ended", "session", active.id, "outcome", outcome)
		}

		active.deliver(domain.Update{Final: true, Stopped: true, Err: err})
	})
}

func validateAudioConfig(cfg ports.AudioSessionConfig) error {
	if cfg.Category != ports.AudioCategoryRecord {
		return fmt.Errorf("unsupported audio category %q", cfg.Category)
	}
	switch cfg.Mode {
	case ports.AudioModeMeasurement, ports.AudioModeVoice:
	default:
		return fmt.Errorf("unsupported audio mode %q", cfg.Mode)
	}
	if cfg.SampleRate < 8000 || cfg.SampleRate > 48000 {
		return fmt.Errorf("sample rate %d out of range", cfg.SampleRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return fmt.Errorf("channel count %d out of range", cfg.Channels)
	}
	if cfg.BufferFrames < 128 {
		return fmt.Errorf("buffer of %d frames is too small", cfg.BufferFrames)
	}
	return nil
}

type noopObserver struct{}

func (noopObserver) SessionStarted(context.Context, ports.SessionRecord) {}
func (noopObserver) SessionEnded(context.Context, ports.SessionRecord)   {}
