package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

func testCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Audio: ports.AudioSessionConfig{
			Category:     ports.AudioCategoryRecord,
			Mode:         ports.AudioModeMeasurement,
			SampleRate:   16000,
			Channels:     1,
			BufferFrames: 1024,
		},
		Streaming:    ports.StreamingConfig{SampleRate: 16000, Channels: 1, Encoding: "linear16", InterimResults: true},
		DrainTimeout: time.Second,
	}
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioSessionConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// fakeAudioSession serves its chunks, then blocks like a live microphone
// until Stop. With endAfterChunks set it reports EOF on its own instead.
type fakeAudioSession struct {
	mu             sync.Mutex
	chunks         [][]byte
	index          int
	endAfterChunks bool
	stopCalls      int
	stopErr        error
	stopped        chan struct{}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	endNow := f.endAfterChunks
	stopped := f.stoppedLocked()
	f.mu.Unlock()

	if !endNow {
		<-stopped
	}
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCalls == 0 {
		close(f.stoppedLocked())
	}
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stoppedLocked() chan struct{} {
	if f.stopped == nil {
		f.stopped = make(chan struct{})
	}
	return f.stopped
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeService struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	calls    int

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	session.owner = f
	open := f.open.Add(1)
	if open > f.maxOpen.Load() {
		f.maxOpen.Store(open)
	}
	return session, nil
}

type fakeStreamingSession struct {
	owner *fakeService

	mu              sync.Mutex
	events          chan domain.TranscriptEvent
	waitErr         error
	closeSendCalls  int
	closeCalls      int
	closed          bool
	ignoreCloseSend bool
	sent            int
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent += len(chunk)
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSendCalls++
	if !f.ignoreCloseSend {
		f.closeLocked()
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeLocked()
	return nil
}

// fail ends the event stream with a terminal error.
func (f *fakeStreamingSession) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	f.closeLocked()
}

func (f *fakeStreamingSession) closeLocked() {
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
	if f.owner != nil {
		f.owner.open.Add(-1)
	}
}

func (f *fakeStreamingSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []domain.Update
	stopped chan struct{}
	once    sync.Once
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{stopped: make(chan struct{})}
}

func (r *updateRecorder) handle(update domain.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	if update.Stopped {
		r.once.Do(func() { close(r.stopped) })
	}
}

func (r *updateRecorder) snapshot() []domain.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *updateRecorder) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-r.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session stop")
	}
}

type fakeObserver struct {
	mu      sync.Mutex
	started []ports.SessionRecord
	ended   []ports.SessionRecord
}

func (f *fakeObserver) SessionStarted(_ context.Context, record ports.SessionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, record)
}

func (f *fakeObserver) SessionEnded(_ context.Context, record ports.SessionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, record)
}

func (f *fakeObserver) snapshotEnded() []ports.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.SessionRecord, len(f.ended))
	copy(out, f.ended)
	return out
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
