package domain

// RecognitionState models the record button lifecycle.
type RecognitionState string

const (
	StateRequiresAuthorization RecognitionState = "requires_authorization"
	StateReady                 RecognitionState = "ready"
	StateRecording             RecognitionState = "recording"
)

// ButtonTitle returns the label shown on the record button for a state.
func (s RecognitionState) ButtonTitle() string {
	switch s {
	case StateRequiresAuthorization:
		return "Authorize"
	case StateReady:
		return "Record"
	case StateRecording:
		return "Stop Recording"
	default:
		return ""
	}
}

// AuthorizationStatus is the speech recognition permission state.
type AuthorizationStatus string

const (
	AuthorizationNotDetermined AuthorizationStatus = "not_determined"
	AuthorizationAuthorized    AuthorizationStatus = "authorized"
	AuthorizationDenied        AuthorizationStatus = "denied"
	AuthorizationRestricted    AuthorizationStatus = "restricted"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAuthorization ErrorCode = "authorization"
	ErrorCodeAudioConfig   ErrorCode = "audio_config"
	ErrorCodeAudioStart    ErrorCode = "audio_start"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is one result from a recognition task. Text is always the
// full transcript so far, never a delta.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
}

// Update is delivered to a capture session's result handler.
//
// Result updates carry HasText. The terminal update has Stopped set, Final
// set, no text, and Err when the recognition task failed.
type Update struct {
	Text    string
	HasText bool
	Final   bool
	Stopped bool
	Err     error
}

// SessionOutcome records how a recognition task ended.
type SessionOutcome string

const (
	OutcomeFinal    SessionOutcome = "final"
	OutcomeStopped  SessionOutcome = "stopped"
	OutcomeCanceled SessionOutcome = "canceled"
	OutcomeError    SessionOutcome = "error"
	OutcomeNoSpeech SessionOutcome = "no_speech"
)

// Status summarizes the current runtime status.
type Status struct {
	State         RecognitionState    `json:"state"`
	ButtonTitle   string              `json:"buttonTitle"`
	Authorization AuthorizationStatus `json:"authorization"`
	Message       string              `json:"message,omitempty"`
}
