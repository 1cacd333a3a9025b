// Package mock provides a recognizer that reveals a fixed phrase as audio
// arrives. It needs no credentials and is used for demos and tests.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

const (
	defaultPhrase = "testing one two three"
	// One word per half second of 16 kHz mono audio.
	defaultBytesPerWord = 16000
)

// Config controls the mock recognizer.
type Config struct {
	Phrase       string
	BytesPerWord int
}

type Provider struct {
	words        []string
	bytesPerWord int
}

func NewProvider(cfg Config) *Provider {
	phrase := strings.TrimSpace(cfg.Phrase)
	if phrase == "" {
		phrase = defaultPhrase
	}
	if cfg.BytesPerWord <= 0 {
		cfg.BytesPerWord = defaultBytesPerWord
	}
	return &Provider{words: strings.Fields(phrase), bytesPerWord: cfg.BytesPerWord}
}

func (p *Provider) Name() string {
	return "mock"
}

func (p *Provider) StartStreaming(ctx context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &streamingSession{
		words:        p.words,
		bytesPerWord: p.bytesPerWord,
		events:       make(chan domain.TranscriptEvent, len(p.words)+1),
	}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

type streamingSession struct {
	words        []string
	bytesPerWord int

	mu       sync.Mutex
	received int
	revealed int
	closed   bool
	events   chan domain.TranscriptEvent
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audio stream is already closed")
	}
	s.received += len(chunk)
	words := min(s.received/s.bytesPerWord, len(s.words))
	if words > s.revealed {
		s.revealed = words
		s.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: s.textLocked()}
	}
	return nil
}

// CloseSend emits the final result with every word revealed so far.
func (s *streamingSession) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: s.textLocked()}
	s.closeLocked()
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	return nil
}

func (s *streamingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *streamingSession) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *streamingSession) textLocked() string {
	return strings.Join(s.words[:s.revealed], " ")
}
