package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"speechpad/internal/audio"
	"speechpad/internal/auth"
	"speechpad/internal/config"
	"speechpad/internal/journal"
	"speechpad/internal/ports"
	"speechpad/internal/providers/deepgram"
	"speechpad/internal/providers/local"
	"speechpad/internal/providers/mock"
	"speechpad/internal/rewrite"
	"speechpad/internal/usecase"
)

// Runtime is the assembled backend graph shared by every surface.
type Runtime struct {
	Config     config.Config
	Logger     *log.Logger
	Provider   ports.TranscriptionService
	Capture    *usecase.CaptureSession
	Authorizer *auth.ConsentAuthorizer
	Rewriter   *rewrite.Rewriter
	// Journal is nil when the journal is disabled.
	Journal *journal.Store
}

// Build wires all backend dependencies for cfg. Extra observers are told about
// sessions after the journal has recorded them.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger, observers ...ports.SessionObserver) (*Runtime, error) {
	rewriter, err := rewrite.Load(cfg.Rewrite.Path, cfg.Rewrite.IterationLimit)
	if err != nil {
		return nil, err
	}

	provider, err := NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	var chain observerChain
	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(ctx, cfg.Journal, logger.WithPrefix("journal"))
		if err != nil {
			return nil, err
		}
		chain = append(chain, store)
	}
	for _, observer := range observers {
		if observer != nil {
			chain = append(chain, observer)
		}
	}
	var observer ports.SessionObserver
	if len(chain) > 0 {
		observer = chain
	}

	capture := usecase.NewCaptureSession(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		provider,
		observer,
		logger.WithPrefix("capture"),
		CaptureConfig(cfg),
	)

	authorizer := auth.NewConsentAuthorizer(auth.Options{
		Path:               cfg.Auth.ConsentPath,
		Recorder:           cfg.Audio.RecorderCommand,
		Provider:           provider.Name(),
		CredentialRequired: cfg.Provider.Mode == config.ProviderDeepgram,
		Credential:         cfg.Deepgram.APIKey,
		Logger:             logger,
	})

	logger.Debug("runtime assembled", "provider", provider.Name(), "rules", rewriter.Len(), "journal", cfg.Journal.Enabled)

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Provider:   provider,
		Capture:    capture,
		Authorizer: authorizer,
		Rewriter:   rewriter,
		Journal:    store,
	}, nil
}

// NewController builds the button controller for one UI surface.
func (r *Runtime) NewController(ui ports.UIExecutor, view ports.View) *usecase.SessionController {
	return usecase.NewSessionController(
		r.Capture,
		r.Authorizer,
		ui,
		view,
		r.Rewriter,
		r.Logger.WithPrefix("controller"),
	)
}

// Close cancels recognition and releases the journal.
func (r *Runtime) Close() error {
	r.Capture.Cancel()
	if r.Journal != nil {
		return r.Journal.Close()
	}
	return nil
}

// NewProvider selects the recognition service for cfg.Provider.Mode.
func NewProvider(cfg config.Config, logger *log.Logger) (ports.TranscriptionService, error) {
	switch cfg.Provider.Mode {
	case config.ProviderDeepgram:
		return deepgram.NewProvider(deepgram.Config{
			APIKey:           cfg.Deepgram.APIKey,
			APIBaseURL:       cfg.Deepgram.APIBaseURL,
			Model:            cfg.Deepgram.Model,
			Language:         cfg.Deepgram.Language,
			SmartFormat:      cfg.Deepgram.SmartFormat,
			EndOnSpeechFinal: cfg.Deepgram.EndOnSpeechFinal,
			Logger:           logger.WithPrefix("deepgram"),
		}), nil
	case config.ProviderLocal:
		provider, err := local.NewProvider(local.Config{
			Command:         cfg.Local.Command,
			ModelPath:       cfg.Local.ModelPath,
			Language:        cfg.Session.Language,
			PartialInterval: cfg.Local.PartialInterval(),
			Logger:          logger.WithPrefix("local"),
		})
		if err != nil {
			return nil, fmt.Errorf("local provider: %w", err)
		}
		return provider, nil
	case config.ProviderMock:
		return mock.NewProvider(mock.Config{
			Phrase:       cfg.Mock.Phrase,
			BytesPerWord: cfg.Mock.BytesPerWord,
		}), nil
	case "":
		return nil, errors.New("provider mode is not configured")
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Provider.Mode)
	}
}

// CaptureConfig maps configuration onto capture session settings.
func CaptureConfig(cfg config.Config) usecase.CaptureConfig {
	return usecase.CaptureConfig{
		Audio: ports.AudioSessionConfig{
			Category:     cfg.Audio.Category,
			Mode:         cfg.Audio.Mode,
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			BufferFrames: cfg.Audio.BufferFrames,
			InputFormat:  cfg.Audio.InputFormat,
			InputDevice:  cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			Language:       cfg.Session.Language,
			InterimResults: cfg.Session.InterimResults,
		},
		DrainTimeout: cfg.Session.DrainTimeout(),
	}
}

// observerChain notifies each observer in order.
type observerChain []ports.SessionObserver

func (c observerChain) SessionStarted(ctx context.Context, record ports.SessionRecord) {
	for _, observer := range c {
		observer.SessionStarted(ctx, record)
	}
}

func (c observerChain) SessionEnded(ctx context.Context, record ports.SessionRecord) {
	for _, observer := range c {
		observer.SessionEnded(ctx, record)
	}
}
