package ports

import (
	"context"
	"io"
	"time"

	"speechpad/internal/domain"
)

// Audio session categories and modes.
const (
	AudioCategoryRecord = "record"

	AudioModeMeasurement = "measurement"
	AudioModeVoice       = "voice"
)

// AudioSessionConfig describes how the microphone should be captured. It is
// passed explicitly to every capture start instead of living in process state.
type AudioSessionConfig struct {
	Category     string
	Mode         string
	SampleRate   int
	Channels     int
	BufferFrames int
	InputFormat  string
	InputDevice  string
}

// BufferBytes is the size of one tap buffer of signed 16-bit samples.
func (c AudioSessionConfig) BufferBytes() int {
	return c.BufferFrames * c.Channels * 2
}

// AudioSession is a live capture session. Read returns io.EOF once Stop has
// been called and the buffered audio is drained.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCaptureSource creates microphone capture sessions.
type AudioCaptureSource interface {
	Start(ctx context.Context, cfg AudioSessionConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is one recognition task. Events yields partial results and
// at most one final result, then closes. Wait returns the terminal error.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionService starts recognition tasks.
type TranscriptionService interface {
	Name() string
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Authorizer reports and requests speech recognition permission.
type Authorizer interface {
	Status() domain.AuthorizationStatus
	RequestAuthorization(ctx context.Context) (domain.AuthorizationStatus, error)
}

// UIExecutor runs fn on the goroutine that owns the UI.
type UIExecutor interface {
	Dispatch(fn func())
}

// View renders controller state. Calls always arrive on the UI executor.
type View interface {
	Render(state domain.RecognitionState, buttonTitle string)
	ShowTranscript(text string)
	ShowError(code domain.ErrorCode, detail string)
}

// TranscriptRewriter transforms transcript text before display.
type TranscriptRewriter interface {
	Apply(text string) (string, error)
}

// SessionRecord summarizes one recognition task for the journal.
type SessionRecord struct {
	ID         string
	Provider   string
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    domain.SessionOutcome
	Error      string
	AudioBytes int64
}

// SessionObserver is told when recognition tasks begin and end.
type SessionObserver interface {
	SessionStarted(ctx context.Context, record SessionRecord)
	SessionEnded(ctx context.Context, record SessionRecord)
}
