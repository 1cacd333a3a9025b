// Package local runs an external speech-to-text command over the audio
// captured so far. The command is invoked with --audio <wav> and must print
// {"text": "..."} on stdout.
package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

const defaultPartialInterval = 1500 * time.Millisecond

// Config controls the local recognizer command.
type Config struct {
	Command         string
	ModelPath       string
	Language        string
	PartialInterval time.Duration
	Logger          *log.Logger
}

// Provider implements ports.TranscriptionService by re-running a command.
type Provider struct {
	cfg  Config
	argv []string
}

func NewProvider(cfg Config) (*Provider, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	if cfg.PartialInterval <= 0 {
		cfg.PartialInterval = defaultPartialInterval
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Provider{cfg: cfg, argv: args}, nil
}

func (p *Provider) Name() string {
	return "local"
}

// Binary returns the recognizer executable.
func (p *Provider) Binary() string {
	return p.argv[0]
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if _, err := exec.LookPath(p.argv[0]); err != nil {
		return nil, fmt.Errorf("stt command unavailable: %w", err)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	language := cfg.Language
	if language == "" {
		language = p.cfg.Language
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &streamingSession{
		provider:   p,
		ctx:        sessionCtx,
		cancel:     cancel,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		language:   language,
		interim:    cfg.InterimResults,
		events:     make(chan domain.TranscriptEvent, 16),
		closeSend:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	go session.run()
	return session, nil
}

type streamingSession struct {
	provider *Provider
	ctx      context.Context
	cancel   context.CancelFunc

	sampleRate int
	channels   int
	language   string
	interim    bool

	mu         sync.Mutex
	pcm        []byte
	sendClosed bool
	err        error

	events        chan domain.TranscriptEvent
	closeSend     chan struct{}
	closeSendOnce sync.Once
	done          chan struct{}
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}
	s.pcm = append(s.pcm, chunk...)
	return nil
}

func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.mu.Lock()
		s.sendClosed = true
		s.mu.Unlock()
		close(s.closeSend)
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *streamingSession) Close() error {
	s.cancel()
	_ = s.CloseSend()
	return s.Wait()
}

func (s *streamingSession) run() {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.provider.cfg.PartialInterval)
	defer ticker.Stop()

	var transcribed int
	var last string
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.closeSend:
			pcm := s.snapshot()
			if len(pcm) == 0 {
				s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal})
				return
			}
			text, err := s.provider.transcribe(s.ctx, pcm, s.sampleRate, s.channels, s.language, true)
			if err != nil {
				if s.ctx.Err() == nil {
					s.setErr(err)
				}
				return
			}
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text})
			return
		case <-ticker.C:
			if !s.interim {
				continue
			}
			pcm := s.snapshot()
			if len(pcm) == transcribed {
				continue
			}
			transcribed = len(pcm)
			text, err := s.provider.transcribe(s.ctx, pcm, s.sampleRate, s.channels, s.language, false)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.provider.cfg.Logger.Warn("partial transcription failed", "err", err)
				continue
			}
			if text == "" || text == last {
				continue
			}
			last = text
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text})
		}
	}
}

func (s *streamingSession) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pcm...)
}

func (s *streamingSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

type commandResult struct {
	Text string `json:"text"`
}

func (p *Provider) transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, language string, final bool) (string, error) {
	file, err := os.CreateTemp("", "speechpad_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return "", err
	}

	args := append([]string{}, p.argv[1:]...)
	args = append(args, "--audio", file.Name())
	if p.cfg.ModelPath != "" {
		args = append(args, "--model", p.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if !final {
		args = append(args, "--partial")
	}

	command := exec.CommandContext(ctx, p.argv[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	started := time.Now()
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	p.cfg.Logger.Debug("stt command finished", "final", final, "bytes", len(pcm), "elapsed", time.Since(started))

	var result commandResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		// Drop a trailing half sample from a short read.
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
