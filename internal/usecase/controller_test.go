package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"speechpad/internal/dispatch"
	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

func TestSessionControllerInitialStateFromAuthorization(t *testing.T) {
	t.Parallel()

	cases := map[domain.AuthorizationStatus]domain.RecognitionState{
		domain.AuthorizationAuthorized:    domain.StateReady,
		domain.AuthorizationNotDetermined: domain.StateRequiresAuthorization,
		domain.AuthorizationDenied:        domain.StateRequiresAuthorization,
		domain.AuthorizationRestricted:    domain.StateRequiresAuthorization,
	}
	for status, want := range cases {
		status := status
		want := want
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			view := &fakeView{}
			controller := NewSessionController(&fakeRecognizer{}, &fakeAuthorizer{status: status}, newQueueExecutor(), view, nil, nil)
			controller.Load()
			if controller.State() != want {
				t.Fatalf("expected %s, got %s", want, controller.State())
			}
			if got := view.lastTitle(); got != want.ButtonTitle() {
				t.Fatalf("unexpected button title: %q", got)
			}
		})
	}
}

func TestSessionControllerAuthorizationGranted(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	auth := &fakeAuthorizer{status: domain.AuthorizationNotDetermined, result: domain.AuthorizationAuthorized}
	controller := NewSessionController(&fakeRecognizer{}, auth, ui, view, nil, nil)
	controller.Load()

	controller.HandleAction(context.Background())
	if controller.State() != domain.StateRequiresAuthorization {
		t.Fatalf("state must not change before the authorization callback runs on the UI executor")
	}
	ui.waitAndDrain(t)

	if controller.State() != domain.StateReady {
		t.Fatalf("expected ready, got %s", controller.State())
	}
	if got := view.lastTitle(); got != "Record" {
		t.Fatalf("unexpected button title: %q", got)
	}
}

func TestSessionControllerAuthorizationDenied(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	auth := &fakeAuthorizer{
		status: domain.AuthorizationNotDetermined,
		result: domain.AuthorizationDenied,
		err:    errors.New("speech recognition denied"),
	}
	controller := NewSessionController(&fakeRecognizer{}, auth, ui, view, nil, nil)
	controller.Load()

	controller.HandleAction(context.Background())
	ui.waitAndDrain(t)

	if controller.State() != domain.StateRequiresAuthorization {
		t.Fatalf("expected requires_authorization, got %s", controller.State())
	}
	if got := view.lastTitle(); got != "Authorize" {
		t.Fatalf("unexpected button title: %q", got)
	}
	errs := view.snapshotErrors()
	if len(errs) != 1 || errs[0] != domain.ErrorCodeAuthorization {
		t.Fatalf("expected authorization error, got %v", errs)
	}
}

func TestSessionControllerRecordingBeforeAnyResult(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()

	controller.HandleAction(context.Background())

	if controller.State() != domain.StateRecording {
		t.Fatalf("expected recording, got %s", controller.State())
	}
	if got := view.lastTitle(); got != "Stop Recording" {
		t.Fatalf("unexpected button title: %q", got)
	}
	if recognizer.starts() != 1 {
		t.Fatalf("expected one capture session start")
	}
	if len(view.snapshotTranscripts()) != 0 {
		t.Fatalf("expected no transcript yet")
	}
}

func TestSessionControllerScriptedTranscript(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()
	controller.HandleAction(context.Background())

	handler := recognizer.lastHandler()
	for _, text := range []string{"he", "hello", "hello world"} {
		handler(domain.Update{Text: text, HasText: true})
	}
	handler(domain.Update{Text: "hello world", HasText: true, Final: true})
	handler(domain.Update{Final: true, Stopped: true})

	if len(view.snapshotTranscripts()) != 0 {
		t.Fatalf("results must be rendered on the UI executor, not the callback goroutine")
	}
	ui.drain()

	transcripts := view.snapshotTranscripts()
	if len(transcripts) != 4 || transcripts[len(transcripts)-1] != "hello world" {
		t.Fatalf("unexpected transcripts: %v", transcripts)
	}
	if controller.State() != domain.StateReady || view.lastTitle() != "Record" {
		t.Fatalf("expected ready after final result, got %s / %q", controller.State(), view.lastTitle())
	}
}

func TestSessionControllerEmptyRevisionClearsTranscript(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()
	controller.HandleAction(context.Background())

	handler := recognizer.lastHandler()
	handler(domain.Update{Text: "uh", HasText: true})
	handler(domain.Update{Text: "", HasText: true, Final: true})
	handler(domain.Update{Final: true, Stopped: true})
	ui.drain()

	transcripts := view.snapshotTranscripts()
	if len(transcripts) != 2 || transcripts[1] != "" {
		t.Fatalf("expected the empty final to replace the text, got %q", transcripts)
	}
	if len(view.snapshotErrors()) != 0 {
		t.Fatalf("an empty result is not an error")
	}
	if controller.State() != domain.StateReady {
		t.Fatalf("expected ready, got %s", controller.State())
	}
}

func TestSessionControllerErrorMidSessionReturnsToReady(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()
	controller.HandleAction(context.Background())

	handler := recognizer.lastHandler()
	handler(domain.Update{Text: "hel", HasText: true})
	handler(domain.Update{Final: true, Stopped: true, Err: errors.New("service unavailable")})
	ui.drain()

	if controller.State() != domain.StateReady {
		t.Fatalf("expected ready, got %s", controller.State())
	}
	if got := view.lastTitle(); got != "Record" {
		t.Fatalf("unexpected button title: %q", got)
	}
	if transcripts := view.snapshotTranscripts(); len(transcripts) != 1 || transcripts[0] != "hel" {
		t.Fatalf("expected transcript to keep last text, got %v", transcripts)
	}
	if errs := view.snapshotErrors(); len(errs) != 1 || errs[0] != domain.ErrorCodeTranscription {
		t.Fatalf("expected transcription error, got %v", errs)
	}
}

func TestSessionControllerUserStopCommandsTeardown(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()

	controller.HandleAction(context.Background())
	controller.HandleAction(context.Background())

	if recognizer.stops() != 1 {
		t.Fatalf("expected explicit capture stop on user stop")
	}
	if controller.State() != domain.StateReady || view.lastTitle() != "Record" {
		t.Fatalf("expected ready after user stop")
	}

	// The draining task may still deliver its final text.
	handler := recognizer.lastHandler()
	handler(domain.Update{Text: "tail", HasText: true, Final: true})
	handler(domain.Update{Final: true, Stopped: true})
	ui.drain()

	if transcripts := view.snapshotTranscripts(); len(transcripts) != 1 || transcripts[0] != "tail" {
		t.Fatalf("expected drained final to be shown, got %v", transcripts)
	}
	if controller.State() != domain.StateReady {
		t.Fatalf("expected ready, got %s", controller.State())
	}
}

func TestSessionControllerIgnoresSupersededSession(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	controller.Load()

	controller.HandleAction(context.Background())
	first := recognizer.lastHandler()
	controller.HandleAction(context.Background())
	controller.HandleAction(context.Background())

	first(domain.Update{Text: "stale", HasText: true})
	first(domain.Update{Final: true, Stopped: true})
	ui.drain()

	if controller.State() != domain.StateRecording {
		t.Fatalf("stale stop must not end the new session, got %s", controller.State())
	}
	if len(view.snapshotTranscripts()) != 0 {
		t.Fatalf("stale transcript must not be shown")
	}
}

func TestSessionControllerStartFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	cases := map[error]domain.ErrorCode{
		ErrAudioSessionConfig:     domain.ErrorCodeAudioConfig,
		ErrAudioEngineStart:       domain.ErrorCodeAudioStart,
		ErrRecognitionUnavailable: domain.ErrorCodeTranscription,
	}
	for sentinel, code := range cases {
		sentinel := sentinel
		code := code
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()

			view := &fakeView{}
			recognizer := &fakeRecognizer{startErr: errors.Join(sentinel, errors.New("boom"))}
			controller := NewSessionController(recognizer, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, newQueueExecutor(), view, nil, nil)
			controller.Load()
			controller.HandleAction(context.Background())

			if controller.State() != domain.StateReady || view.lastTitle() != "Record" {
				t.Fatalf("expected to stay ready after start failure")
			}
			if errs := view.snapshotErrors(); len(errs) != 1 || errs[0] != code {
				t.Fatalf("expected %s error, got %v", code, errs)
			}
		})
	}
}

func TestSessionControllerRewritesTranscript(t *testing.T) {
	t.Parallel()

	ui := newQueueExecutor()
	view := &fakeView{}
	recognizer := &fakeRecognizer{}
	controller := NewSessionController(
		recognizer,
		&fakeAuthorizer{status: domain.AuthorizationAuthorized},
		ui,
		view,
		upperRewriter{},
		nil,
	)
	controller.HandleAction(context.Background())
	recognizer.lastHandler()(domain.Update{Text: "hello", HasText: true})
	ui.drain()

	if transcripts := view.snapshotTranscripts(); len(transcripts) != 1 || transcripts[0] != "HELLO" {
		t.Fatalf("unexpected transcripts: %v", transcripts)
	}
}

func TestSessionControllerWithCaptureSessionEndToEnd(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	for _, text := range []string{"he", "hello", "hello world"} {
		stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}
	}
	capture := NewCaptureSession(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{}}},
		&fakeService{sessions: []*fakeStreamingSession{stream}},
		nil,
		nil,
		testCaptureConfig(),
	)

	ui := dispatch.NewSerial()
	defer ui.Close()
	view := &fakeView{}
	controller := NewSessionController(capture, &fakeAuthorizer{status: domain.AuthorizationAuthorized}, ui, view, nil, nil)
	ui.Call(controller.Load)
	ui.Call(func() { controller.HandleAction(context.Background()) })

	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello world"}

	eventually(t, func() bool { return view.lastTitle() == "Record" && len(view.snapshotRenders()) == 3 }, "controller back to ready")
	transcripts := view.snapshotTranscripts()
	if len(transcripts) != 4 || transcripts[3] != "hello world" {
		t.Fatalf("unexpected transcripts: %v", transcripts)
	}
	renders := view.snapshotRenders()
	if renders[1] != domain.StateRecording || renders[2] != domain.StateReady {
		t.Fatalf("unexpected render sequence: %v", renders)
	}
	if capture.Active() {
		t.Fatalf("expected capture session to be idle")
	}
}

type fakeRecognizer struct {
	mu          sync.Mutex
	startErr    error
	handlers    []ResultHandler
	stopCalls   int
	cancelCalls int
}

func (f *fakeRecognizer) Start(_ context.Context, handler ResultHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.handlers = append(f.handlers, handler)
	return nil
}

func (f *fakeRecognizer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeRecognizer) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
}

func (f *fakeRecognizer) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeRecognizer) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeRecognizer) lastHandler() ResultHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[len(f.handlers)-1]
}

type fakeAuthorizer struct {
	status domain.AuthorizationStatus
	result domain.AuthorizationStatus
	err    error
}

func (f *fakeAuthorizer) Status() domain.AuthorizationStatus { return f.status }

func (f *fakeAuthorizer) RequestAuthorization(_ context.Context) (domain.AuthorizationStatus, error) {
	return f.result, f.err
}

// queueExecutor holds dispatched work until the test drains it, standing in
// for a UI loop.
type queueExecutor struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func newQueueExecutor() *queueExecutor {
	return &queueExecutor{notify: make(chan struct{}, 64)}
}

func (q *queueExecutor) Dispatch(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queueExecutor) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()
		fn()
	}
}

func (q *queueExecutor) waitAndDrain(t *testing.T) {
	t.Helper()
	select {
	case <-q.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for UI dispatch")
	}
	q.drain()
}

type fakeView struct {
	mu          sync.Mutex
	renders     []domain.RecognitionState
	titles      []string
	transcripts []string
	errors      []domain.ErrorCode
}

func (f *fakeView) Render(state domain.RecognitionState, buttonTitle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, state)
	f.titles = append(f.titles, buttonTitle)
}

func (f *fakeView) ShowTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeView) ShowError(code domain.ErrorCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

func (f *fakeView) lastTitle() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.titles) == 0 {
		return ""
	}
	return f.titles[len(f.titles)-1]
}

func (f *fakeView) snapshotRenders() []domain.RecognitionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RecognitionState, len(f.renders))
	copy(out, f.renders)
	return out
}

func (f *fakeView) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeView) snapshotErrors() []domain.ErrorCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ErrorCode, len(f.errors))
	copy(out, f.errors)
	return out
}

type upperRewriter struct{}

func (upperRewriter) Apply(text string) (string, error) { return strings.ToUpper(text), nil }
