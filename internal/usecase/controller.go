package usecase

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

// Recognizer is the capture session contract the controller drives.
type Recognizer interface {
	Start(ctx context.Context, handler ResultHandler) error
	Stop()
	Cancel()
}

// SessionController owns the record button state machine. Load and
// HandleAction must be called on the UI executor; everything the controller
// renders is marshaled back onto it.
type SessionController struct {
	recognizer Recognizer
	authorizer ports.Authorizer
	ui         ports.UIExecutor
	view       ports.View
	rewriter   ports.TranscriptRewriter
	logger     *log.Logger

	mu         sync.Mutex
	state      domain.RecognitionState
	generation uint64
	authBusy   bool
}

func NewSessionController(
	recognizer Recognizer,
	authorizer ports.Authorizer,
	ui ports.UIExecutor,
	view ports.View,
	rewriter ports.TranscriptRewriter,
	logger *log.Logger,
) *SessionController {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	state := domain.StateRequiresAuthorization
	if authorizer.Status() == domain.AuthorizationAuthorized {
		state = domain.StateReady
	}
	return &SessionController{
		recognizer: recognizer,
		authorizer: authorizer,
		ui:         ui,
		view:       view,
		rewriter:   rewriter,
		logger:     logger,
		state:      state,
	}
}

// Load renders the initial state.
func (c *SessionController) Load() {
	c.render()
}

// State returns the current state.
func (c *SessionController) State() domain.RecognitionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status summarizes state and authorization for status surfaces.
func (c *SessionController) Status() domain.Status {
	state := c.State()
	return domain.Status{
		State:         state,
		ButtonTitle:   state.ButtonTitle(),
		Authorization: c.authorizer.Status(),
	}
}

// HandleAction reacts to a press of the record button.
func (c *SessionController) HandleAction(ctx context.Context) {
	switch c.State() {
	case domain.StateRequiresAuthorization:
		c.requestAuthorization(ctx)
	case domain.StateReady:
		c.startRecording(ctx)
	case domain.StateRecording:
		c.stopRecording()
	}
}

// Close cancels any recognition in flight.
func (c *SessionController) Close() {
	c.recognizer.Cancel()
}

func (c *SessionController) requestAuthorization(ctx context.Context) {
	c.mu.Lock()
	if c.authBusy {
		c.mu.Unlock()
		return
	}
	c.authBusy = true
	c.mu.Unlock()

	go func() {
		status, err := c.authorizer.RequestAuthorization(ctx)
		c.ui.Dispatch(func() {
			c.mu.Lock()
			c.authBusy = false
			if status == domain.AuthorizationAuthorized {
				c.state = domain.StateReady
			} else {
				c.state = domain.StateRequiresAuthorization
			}
			c.mu.Unlock()

			if err != nil {
				c.logger.Warn("speech recognition authorization not granted", "status", status, "err", err)
				c.view.ShowError(domain.ErrorCodeAuthorization, err.Error())
			}
			c.render()
		})
	}()
}

func (c *SessionController) startRecording(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	err := c.recognizer.Start(ctx, func(update domain.Update) {
		c.ui.Dispatch(func() {
			c.handleUpdate(generation, update)
		})
	})
	if err != nil {
		c.logger.Error("failed to start recording", "err", err)
		c.view.ShowError(startErrorCode(err), err.Error())
		c.render()
		return
	}

	c.setState(domain.StateRecording)
	c.render()
}

func (c *SessionController) stopRecording() {
	c.recognizer.Stop()
	c.setState(domain.StateReady)
	c.render()
}

func (c *SessionController) handleUpdate(generation uint64, update domain.Update) {
	c.mu.Lock()
	current := c.generation == generation
	c.mu.Unlock()
	if !current {
		return
	}

	if update.HasText {
		c.view.ShowTranscript(c.rewrite(update.Text))
	}
	if update.Err != nil {
		c.view.ShowError(updateErrorCode(update.Err), update.Err.Error())
	}
	if update.Stopped {
		c.mu.Lock()
		changed := c.state == domain.StateRecording
		if changed {
			c.state = domain.StateReady
		}
		c.mu.Unlock()
		if changed {
			c.render()
		}
	}
}

func (c *SessionController) rewrite(text string) string {
	if c.rewriter == nil {
		return text
	}
	rewritten, err := c.rewriter.Apply(text)
	if err != nil {
		c.logger.Warn("transcript rewrite failed", "err", err)
		return text
	}
	return rewritten
}

func (c *SessionController) setState(state domain.RecognitionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *SessionController) render() {
	state := c.State()
	c.view.Render(state, state.ButtonTitle())
}

func startErrorCode(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, ErrAudioSessionConfig):
		return domain.ErrorCodeAudioConfig
	case errors.Is(err, ErrAudioEngineStart):
		return domain.ErrorCodeAudioStart
	default:
		return domain.ErrorCodeTranscription
	}
}

func updateErrorCode(err error) domain.ErrorCode {
	if errors.Is(err, ErrAudioStream) {
		return domain.ErrorCodeAudioStream
	}
	return domain.ErrorCodeTranscription
}
