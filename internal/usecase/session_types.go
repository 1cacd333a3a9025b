package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

type taskState int

const (
	taskRecording taskState = iota
	taskDraining
)

// activeSession is one recognition request (the audio tap) plus its
// recognition task (the provider stream).
type activeSession struct {
	id        string
	provider  string
	startedAt time.Time

	cancel  context.CancelFunc
	audio   ports.AudioSession
	stream  ports.StreamingSession
	handler ResultHandler

	stateMu  sync.Mutex
	state    taskState
	detached bool
	heard    bool

	audioBytes atomic.Int64

	endOnce   sync.Once
	ended     chan struct{}
	audioDone chan struct{}
}

func (s *activeSession) beginDrain() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == taskDraining {
		return false
	}
	s.state = taskDraining
	return true
}

func (s *activeSession) draining() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state == taskDraining
}

func (s *activeSession) detach() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.detached = true
}

func (s *activeSession) markHeard() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.heard = true
}

func (s *activeSession) hasHeard() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.heard
}

func (s *activeSession) isEnded() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}

// deliver invokes the handler unless the session was detached. The handler
// runs outside stateMu so it may call back into the capture session.
func (s *activeSession) deliver(update domain.Update) {
	s.stateMu.Lock()
	detached := s.detached
	s.stateMu.Unlock()
	if detached || s.handler == nil {
		return
	}
	s.handler(update)
}

func (s *activeSession) record(outcome domain.SessionOutcome, err error, endedAt time.Time) ports.SessionRecord {
	rec := ports.SessionRecord{
		ID:         s.id,
		Provider:   s.provider,
		StartedAt:  s.startedAt,
		EndedAt:    endedAt,
		Outcome:    outcome,
		AudioBytes: s.audioBytes.Load(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
