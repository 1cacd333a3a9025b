package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider modes.
const (
	ProviderDeepgram = "deepgram"
	ProviderLocal    = "local"
	ProviderMock     = "mock"
)

// Config stores runtime configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Local    LocalConfig    `yaml:"local"`
	Mock     MockConfig     `yaml:"mock"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Rewrite  RewriteConfig  `yaml:"rewrite"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
}

type ProviderConfig struct {
	Mode string `yaml:"mode"`
}

type DeepgramConfig struct {
	APIKey           string `yaml:"api_key"`
	APIBaseURL       string `yaml:"api_base_url"`
	Model            string `yaml:"model"`
	Language         string `yaml:"language"`
	SmartFormat      bool   `yaml:"smart_format"`
	EndOnSpeechFinal bool   `yaml:"end_on_speech_final"`
}

type LocalConfig struct {
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
}

type MockConfig struct {
	Phrase       string `yaml:"phrase"`
	BytesPerWord int    `yaml:"bytes_per_word"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	BufferFrames    int    `yaml:"buffer_frames"`
	Category        string `yaml:"category"`
	Mode            string `yaml:"mode"`
}

type SessionConfig struct {
	Language       string `yaml:"language"`
	InterimResults bool   `yaml:"interim_results"`
	DrainTimeoutMS int    `yaml:"drain_timeout_ms"`
}

type RewriteConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxSessions int    `yaml:"max_sessions"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type AuthConfig struct {
	ConsentPath string `yaml:"consent_path"`
}

// DrainTimeout is how long a stopped session waits for its final result.
func (c SessionConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// PartialInterval is how often the local recognizer re-transcribes.
func (c LocalConfig) PartialInterval() time.Duration {
	return time.Duration(c.PartialEveryMS) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() Config {
	configDir, stateDir := baseDirs()
	return Config{
		Provider: ProviderConfig{Mode: ProviderDeepgram},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			Language:    "en-US",
			SmartFormat: true,
		},
		Local: LocalConfig{
			Command:        "whisper-stream",
			PartialEveryMS: 1500,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			BufferFrames:    1024,
			Category:        "record",
			Mode:            "measurement",
		},
		Session: SessionConfig{
			Language:       "en-US",
			InterimResults: true,
			DrainTimeoutMS: 4000,
		},
		Rewrite: RewriteConfig{
			Path:           filepath.Join(configDir, "substitutions.rules"),
			IterationLimit: 30,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        filepath.Join(stateDir, "journal.db"),
			MaxSessions: 500,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(stateDir, "speechpad.log"),
		},
		Auth: AuthConfig{
			ConsentPath: filepath.Join(configDir, "consent.yaml"),
		},
	}
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	configDir, _ := baseDirs()
	return filepath.Join(configDir, "config.yaml")
}

// Load layers the YAML file at path and then the environment over the
// defaults. An empty path reads DefaultPath when it exists.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = firstExisting(strings.TrimSpace(os.Getenv("SPEECHPAD_CONFIG")), DefaultPath())
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Provider.Mode, "SPEECHPAD_PROVIDER")

	overrideString(&cfg.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Deepgram.APIBaseURL, "DEEPGRAM_API_BASE")
	overrideString(&cfg.Deepgram.Model, "DEEPGRAM_MODEL")
	overrideString(&cfg.Deepgram.Language, "DEEPGRAM_LANGUAGE")
	overrideBool(&cfg.Deepgram.SmartFormat, "DEEPGRAM_SMART_FORMAT")
	overrideBool(&cfg.Deepgram.EndOnSpeechFinal, "DEEPGRAM_END_ON_SPEECH_FINAL")

	overrideString(&cfg.Local.Command, "SPEECHPAD_LOCAL_COMMAND")
	overrideString(&cfg.Local.ModelPath, "SPEECHPAD_LOCAL_MODEL_PATH")
	overrideInt(&cfg.Local.PartialEveryMS, "SPEECHPAD_LOCAL_PARTIAL_EVERY_MS")

	overrideString(&cfg.Audio.RecorderCommand, "SPEECHPAD_FFMPEG_COMMAND")
	overrideString(&cfg.Audio.InputFormat, "SPEECHPAD_AUDIO_INPUT_FORMAT")
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("SPEECHPAD_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	overrideInt(&cfg.Audio.SampleRate, "SPEECHPAD_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SPEECHPAD_CHANNELS")
	overrideInt(&cfg.Audio.BufferFrames, "SPEECHPAD_BUFFER_FRAMES")
	overrideString(&cfg.Audio.Mode, "SPEECHPAD_AUDIO_MODE")

	overrideInt(&cfg.Session.DrainTimeoutMS, "SPEECHPAD_DRAIN_TIMEOUT_MS")
	overrideBool(&cfg.Session.InterimResults, "SPEECHPAD_INTERIM_RESULTS")

	overrideString(&cfg.Rewrite.Path, "SPEECHPAD_RULES_FILE")
	overrideInt(&cfg.Rewrite.IterationLimit, "SPEECHPAD_RULE_ITERATION_LIMIT")

	overrideBool(&cfg.Journal.Enabled, "SPEECHPAD_JOURNAL_ENABLED")
	overrideString(&cfg.Journal.Path, "SPEECHPAD_JOURNAL_PATH")
	overrideInt(&cfg.Journal.MaxSessions, "SPEECHPAD_JOURNAL_MAX_SESSIONS")

	overrideString(&cfg.Log.Level, "SPEECHPAD_LOG_LEVEL")
	overrideString(&cfg.Log.File, "SPEECHPAD_LOG_FILE")

	overrideString(&cfg.Auth.ConsentPath, "SPEECHPAD_CONSENT_FILE")
}

// validate rejects settings no component can run with. Audio session
// category and mode are checked when a capture starts so the failure reaches
// the UI as an audio configuration error.
func validate(cfg Config) error {
	switch cfg.Provider.Mode {
	case ProviderDeepgram, ProviderLocal, ProviderMock:
	default:
		return fmt.Errorf("provider.mode must be one of deepgram, local, mock (got %q)", cfg.Provider.Mode)
	}
	if cfg.Provider.Mode == ProviderLocal && strings.TrimSpace(cfg.Local.Command) == "" {
		return errors.New("local.command must not be empty")
	}
	if cfg.Session.DrainTimeoutMS <= 0 {
		return errors.New("session.drain_timeout_ms must be positive")
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		return errors.New("journal.path must not be empty when the journal is enabled")
	}
	if cfg.Journal.MaxSessions < 0 {
		return errors.New("journal.max_sessions must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	return nil
}

func baseDirs() (configDir string, stateDir string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir = filepath.Join(home, ".config", "speechpad")
	stateDir = filepath.Join(home, ".local", "state", "speechpad")
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		stateDir = filepath.Join(xdg, "speechpad")
	}
	return configDir, stateDir
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func overrideString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		*target = parsed
	}
}

func overrideBool(target *bool, key string) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		*target = true
	case "0", "false", "no", "off":
		*target = false
	}
}
