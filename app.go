package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"speechpad/internal/bootstrap"
	"speechpad/internal/config"
	"speechpad/internal/dispatch"
	"speechpad/internal/domain"
	"speechpad/internal/logging"
	"speechpad/internal/ports"
	"speechpad/internal/usecase"
)

const (
	eventState      = "speechpad:state"
	eventTranscript = "speechpad:transcript"
	eventError      = "speechpad:error"
	eventHistory    = "speechpad:history"
)

// App is the Wails application root. It renders controller state by emitting
// frontend events and serializes controller work on its own executor.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	ui         *dispatch.Serial
	runtime    *bootstrap.Runtime
	controller *usecase.SessionController
	logCloser  io.Closer
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load("")
	if err != nil {
		a.fail(err)
		return
	}
	logger, closer, err := logging.New(cfg.Log, true)
	if err != nil {
		a.fail(err)
		return
	}
	a.logCloser = closer

	if err := a.boot(ctx, cfg, logger); err != nil {
		logger.Error("startup failed", "err", err)
		a.fail(err)
	}
}

// boot wires the backend and renders the initial state.
func (a *App) boot(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	rt, err := bootstrap.Build(ctx, cfg, logger, historyNotifier{app: a})
	if err != nil {
		return err
	}
	a.runtime = rt
	a.ui = dispatch.NewSerial()
	a.controller = rt.NewController(a.ui, a)
	a.ui.Call(a.controller.Load)
	return nil
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.ui != nil {
		a.ui.Close()
	}
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			a.runtime.Logger.Warn("shutdown incomplete", "err", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) fail(err error) {
	a.bootErr = err
	a.ShowError(domain.ErrorCodeStartup, err.Error())
}

// Tap presses the record button.
func (a *App) Tap() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.ui.Call(func() {
		a.controller.HandleAction(a.ctx)
	})
	return a.controller.Status(), nil
}

// GetStatus returns the current button state.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{
				State:       domain.StateRequiresAuthorization,
				ButtonTitle: domain.StateRequiresAuthorization.ButtonTitle(),
				Message:     a.bootErr.Error(),
			}
		}
		return domain.Status{State: domain.StateRequiresAuthorization}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.runtime == nil {
		return map[string]string{}
	}

	cfg := a.runtime.Config
	return map[string]string{
		"provider":         a.runtime.Provider.Name(),
		"language":         cfg.Session.Language,
		"rulesFile":        cfg.Rewrite.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"audioMode":        cfg.Audio.Mode,
	}
}

// HistoryEntry is one journal row as shown by the frontend.
type HistoryEntry struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	StartedAt  string `json:"startedAt"`
	Duration   string `json:"duration"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	AudioBytes int64  `json:"audioBytes"`
}

// GetHistory returns the most recent recognition sessions.
func (a *App) GetHistory(limit int) ([]HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if a.runtime.Journal == nil {
		return []HistoryEntry{}, nil
	}
	records, err := a.runtime.Journal.Recent(a.ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entry := HistoryEntry{
			ID:         record.ID,
			Provider:   record.Provider,
			StartedAt:  record.StartedAt.Format(time.RFC3339),
			Outcome:    string(record.Outcome),
			Error:      record.Error,
			AudioBytes: record.AudioBytes,
		}
		if !record.EndedAt.IsZero() {
			entry.Duration = record.EndedAt.Sub(record.StartedAt).Round(100 * time.Millisecond).String()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// historyNotifier tells the frontend that a session was journaled.
type historyNotifier struct {
	app *App
}

func (historyNotifier) SessionStarted(context.Context, ports.SessionRecord) {}

func (n historyNotifier) SessionEnded(_ context.Context, record ports.SessionRecord) {
	if n.app.ctx == nil {
		return
	}
	n.app.emit(n.app.ctx, eventHistory, map[string]string{
		"id":      record.ID,
		"outcome": string(record.Outcome),
	})
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// Render emits the button state to the frontend.
func (a *App) Render(state domain.RecognitionState, buttonTitle string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventState, map[string]string{
		"state":       string(state),
		"buttonTitle": buttonTitle,
	})
}

// ShowTranscript replaces the frontend transcript.
func (a *App) ShowTranscript(text string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventTranscript, map[string]string{"text": text})
}

// ShowError emits backend errors to the UI.
func (a *App) ShowError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAuthorization:
		return "Speech recognition not authorized"
	case domain.ErrorCodeAudioConfig:
		return "Audio session configuration failed"
	case domain.ErrorCodeAudioStart:
		return "Audio engine failed to start"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
