package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"speechpad/internal/dispatch"
	"speechpad/internal/domain"
)

func runTranscribe(cmd *cobra.Command, _ []string) error {
	partials, _ := cmd.Flags().GetBool("partials")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	ui := dispatch.NewSerial()
	defer ui.Close()

	view := newLineView(cmd.OutOrStdout(), partials)
	controller := s.runtime.NewController(ui, view)
	defer controller.Close()

	if controller.State() == domain.StateRequiresAuthorization {
		return errors.New("speech recognition is not authorized; run `speechpad authorize` first")
	}

	ui.Call(func() { controller.HandleAction(context.Background()) })
	if controller.State() != domain.StateRecording {
		return view.err()
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Recording. Press Ctrl+C to stop.")

	select {
	case <-view.stopped:
	case <-ctx.Done():
		ui.Call(func() { controller.HandleAction(context.Background()) })
		waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.DrainTimeout()+time.Second)
		if err := s.runtime.Capture.Wait(waitCtx); err != nil {
			s.logger.Warn("recognition did not end after interrupt", "err", err)
		}
		cancel()
	}

	// Flush results the capture session already handed to the executor.
	ui.Call(func() {})
	view.finish()
	return view.err()
}

// lineView renders transcripts as plain lines for pipes and scripts.
type lineView struct {
	out      io.Writer
	partials bool

	mu         sync.Mutex
	recording  bool
	transcript string
	printed    string
	errText    string
	stopOnce   sync.Once
	stopped    chan struct{}
}

func newLineView(out io.Writer, partials bool) *lineView {
	return &lineView{out: out, partials: partials, stopped: make(chan struct{})}
}

func (v *lineView) Render(state domain.RecognitionState, _ string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch state {
	case domain.StateRecording:
		v.recording = true
	case domain.StateReady:
		if v.recording {
			v.stopOnce.Do(func() { close(v.stopped) })
		}
	}
}

func (v *lineView) ShowTranscript(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcript = text
	if v.partials && text != v.printed {
		fmt.Fprintln(v.out, text)
		v.printed = text
	}
}

func (v *lineView) ShowError(code domain.ErrorCode, detail string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errText = fmt.Sprintf("%s: %s", code, detail)
}

// finish prints the last transcript unless it is already on screen.
func (v *lineView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.transcript != "" && v.transcript != v.printed {
		fmt.Fprintln(v.out, v.transcript)
		v.printed = v.transcript
	}
}

func (v *lineView) err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.errText == "" {
		return nil
	}
	return errors.New(v.errText)
}
