package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"speechpad/internal/tui"
)

func runTUI(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	model := tui.New(ctx)
	controller := s.runtime.NewController(model, model)
	model.Bind(controller)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.Attach(program)

	s.logger.Info("terminal UI started", "provider", s.runtime.Provider.Name())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	controller.Close()
	return nil
}
