package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"speechpad/internal/bootstrap"
	"speechpad/internal/config"
	"speechpad/internal/logging"
)

var (
	configPath   string
	providerMode string
	logLevel     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.config/speechpad/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerMode, "provider", "", "Recognition provider: deepgram, local or mock")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	transcribeCmd.Flags().Bool("partials", false, "Print every partial transcript on its own line")
	authorizeCmd.Flags().BoolP("yes", "y", false, "Grant consent without prompting")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of sessions to show")

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

var rootCmd = &cobra.Command{
	Use:   "speechpad",
	Short: "Record the microphone and show a live transcript",
	Long: `speechpad records microphone audio and shows a live speech-to-text
transcript from a streaming recognition service. Run without a subcommand to
open the terminal UI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the record button and transcript in the terminal",
	RunE:  runTUI,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Record until interrupted and print the transcript",
	RunE:  runTranscribe,
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Grant speech recognition consent",
	RunE:  runAuthorize,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Forget speech recognition consent",
	RunE:  runRevoke,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authorization and configuration",
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recognition sessions",
	RunE:  runHistory,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if providerMode != "" {
		cfg.Provider.Mode = providerMode
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// session holds what every subcommand needs once the backend is wired.
type session struct {
	cfg     config.Config
	logger  *log.Logger
	runtime *bootstrap.Runtime
	closers []func() error
}

// openSession loads config and wires the backend. Logs go to the log file
// when toFile is set, which is required while the TUI owns the terminal.
func openSession(ctx context.Context, toFile bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Log, toFile)
	if err != nil {
		return nil, err
	}
	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return &session{
		cfg:     cfg,
		logger:  logger,
		runtime: rt,
		closers: []func() error{rt.Close, logCloser.Close},
	}, nil
}

func (s *session) Close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn("close failed", "err", err)
		}
	}
}
