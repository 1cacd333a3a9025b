// Package auth persists the user's consent to speech recognition.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"speechpad/internal/domain"
)

var (
	ErrDenied     = errors.New("speech recognition denied")
	ErrRestricted = errors.New("speech recognition restricted on this device")
)

// Options configures a ConsentAuthorizer.
type Options struct {
	// Path of the YAML consent record.
	Path string
	// Recorder is the audio capture binary that must be installed.
	Recorder string
	// Provider names the recognition service the consent applies to.
	Provider string
	// CredentialRequired is set when the provider needs an API key.
	CredentialRequired bool
	Credential         string
	Logger             *log.Logger
}

// ConsentAuthorizer implements ports.Authorizer with a consent file.
type ConsentAuthorizer struct {
	opts     Options
	lookPath func(string) (string, error)
	clock    func() time.Time

	mu sync.Mutex
}

type consentRecord struct {
	Status    domain.AuthorizationStatus `yaml:"status"`
	Provider  string                     `yaml:"provider"`
	UpdatedAt time.Time                  `yaml:"updated_at"`
	Reason    string                     `yaml:"reason,omitempty"`
}

func NewConsentAuthorizer(opts Options) *ConsentAuthorizer {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &ConsentAuthorizer{opts: opts, lookPath: exec.LookPath, clock: time.Now}
}

// Status reports the recorded consent. A grant whose recorder has since
// disappeared reports restricted.
func (a *ConsentAuthorizer) Status() domain.AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.opts.Logger.Warn("unreadable consent record", "path", a.opts.Path, "err", err)
		}
		return domain.AuthorizationNotDetermined
	}
	if record.Status == domain.AuthorizationAuthorized && !a.recorderAvailable() {
		return domain.AuthorizationRestricted
	}
	switch record.Status {
	case domain.AuthorizationAuthorized, domain.AuthorizationDenied, domain.AuthorizationRestricted:
		return record.Status
	default:
		return domain.AuthorizationNotDetermined
	}
}

// RequestAuthorization checks prerequisites and records the outcome.
func (a *ConsentAuthorizer) RequestAuthorization(ctx context.Context) (domain.AuthorizationStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuthorizationNotDetermined, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.recorderAvailable() {
		err := fmt.Errorf("%w: recorder %q not found", ErrRestricted, a.opts.Recorder)
		return domain.AuthorizationRestricted, a.persist(domain.AuthorizationRestricted, err)
	}
	if a.opts.CredentialRequired && strings.TrimSpace(a.opts.Credential) == "" {
		err := fmt.Errorf("%w: no credential configured for %s", ErrDenied, a.opts.Provider)
		return domain.AuthorizationDenied, a.persist(domain.AuthorizationDenied, err)
	}
	if err := a.write(consentRecord{
		Status:    domain.AuthorizationAuthorized,
		Provider:  a.opts.Provider,
		UpdatedAt: a.clock().UTC(),
	}); err != nil {
		return domain.AuthorizationNotDetermined, err
	}
	a.opts.Logger.Info("speech recognition authorized", "provider", a.opts.Provider)
	return domain.AuthorizationAuthorized, nil
}

// Revoke forgets any recorded consent.
func (a *ConsentAuthorizer) Revoke() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(a.opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove consent record: %w", err)
	}
	return nil
}

// persist records a refusal and returns cause, or the write error.
func (a *ConsentAuthorizer) persist(status domain.AuthorizationStatus, cause error) error {
	if err := a.write(consentRecord{
		Status:    status,
		Provider:  a.opts.Provider,
		UpdatedAt: a.clock().UTC(),
		Reason:    cause.Error(),
	}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (a *ConsentAuthorizer) recorderAvailable() bool {
	if strings.TrimSpace(a.opts.Recorder) == "" {
		return true
	}
	_, err := a.lookPath(a.opts.Recorder)
	return err == nil
}

func (a *ConsentAuthorizer) read() (consentRecord, error) {
	var record consentRecord
	data, err := os.ReadFile(a.opts.Path)
	if err != nil {
		return record, err
	}
	if err := yaml.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to parse consent record: %w", err)
	}
	return record, nil
}

func (a *ConsentAuthorizer) write(record consentRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode consent record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.opts.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create consent directory: %w", err)
	}
	if err := os.WriteFile(a.opts.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write consent record: %w", err)
	}
	return nil
}
