package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

func runAuthorize(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	confirm, _ := cmd.Flags().GetBool("yes")
	if !confirm {
		err := huh.NewConfirm().
			Title("Allow speechpad to use the microphone?").
			Description(fmt.Sprintf("Audio is recorded with %s and transcribed by %s.",
				s.cfg.Audio.RecorderCommand, s.runtime.Provider.Name())).
			Value(&confirm).
			Run()
		if err != nil {
			return fmt.Errorf("error getting user confirmation: %w", err)
		}
	}
	if !confirm {
		fmt.Fprintln(cmd.OutOrStdout(), "Authorization not granted.")
		return nil
	}

	status, err := s.runtime.Authorizer.RequestAuthorization(cmd.Context())
	if err != nil {
		return fmt.Errorf("authorization %s: %w", status, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Speech recognition %s.\n", status)
	return nil
}

func runRevoke(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.runtime.Authorizer.Revoke(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Consent revoked.")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	status := s.runtime.Authorizer.Status()
	state := domain.StateRequiresAuthorization
	if status == domain.AuthorizationAuthorized {
		state = domain.StateReady
	}

	cfg := s.cfg
	journal := "disabled"
	if cfg.Journal.Enabled {
		journal = cfg.Journal.Path
	}
	rows := [][]string{
		{"Authorization", string(status)},
		{"Button", state.ButtonTitle()},
		{"Provider", s.runtime.Provider.Name()},
		{"Language", cfg.Session.Language},
		{"Recorder", cfg.Audio.RecorderCommand},
		{"Audio input", cfg.Audio.InputFormat + ":" + cfg.Audio.InputDevice},
		{"Audio mode", cfg.Audio.Category + "/" + cfg.Audio.Mode},
		{"Rewrite rules", fmt.Sprintf("%s (%d loaded)", cfg.Rewrite.Path, s.runtime.Rewriter.Len())},
		{"Journal", journal},
		{"Log file", cfg.Log.File},
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetColumnSeparator(":")
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.runtime.Journal == nil {
		return fmt.Errorf("the session journal is disabled")
	}
	records, err := s.runtime.Journal.Recent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	renderHistory(cmd.OutOrStdout(), records)
	return nil
}

func renderHistory(out io.Writer, records []ports.SessionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Session", "Started", "Provider", "Duration", "Audio", "Outcome", "Error"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, record := range records {
		table.Append(historyRow(record))
	}
	table.Render()
}

func historyRow(record ports.SessionRecord) []string {
	duration := "in progress"
	if !record.EndedAt.IsZero() {
		duration = fmt.Sprintf("%.1f s", record.EndedAt.Sub(record.StartedAt).Seconds())
	}
	outcome := string(record.Outcome)
	if outcome == "" {
		outcome = "-"
	}
	id := record.ID
	if len(id) > 8 {
		id = id[:8]
	}
	audio := strconv.FormatInt(record.AudioBytes/1024, 10) + " KiB"
	return []string{
		id,
		record.StartedAt.Local().Format(time.DateTime),
		record.Provider,
		duration,
		audio,
		outcome,
		record.Error,
	}
}
