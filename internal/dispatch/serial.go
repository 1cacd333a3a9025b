// Package dispatch provides a UI executor for surfaces without their own
// event loop.
package dispatch

import "sync"

// Serial runs dispatched functions one at a time, in order, on a single
// goroutine. Dispatch never blocks.
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewSerial() *Serial {
	s := &Serial{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Dispatch queues fn. Functions dispatched after Close are dropped.
func (s *Serial) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

// Call dispatches fn and waits for it to run.
func (s *Serial) Call(fn func()) {
	ran := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, func() {
		defer close(ran)
		fn()
	})
	s.cond.Signal()
	s.mu.Unlock()

	select {
	case <-ran:
	case <-s.done:
	}
}

// Close runs what is already queued, then stops the loop.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
