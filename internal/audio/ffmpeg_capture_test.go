package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"speechpad/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script)

	session, err := capture.Start(context.Background(), ports.AudioSessionConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, err := session.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stop, got %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioSessionConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGCaptureReportsRecorderExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "unplug.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 0.5\necho 'device unplugged' 1>&2\nexit 3\n")
	capture := NewFFMPEGCapture(script)

	session, err := capture.Start(context.Background(), ports.AudioSessionConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 64)
	var readErr error
	for readErr == nil {
		_, readErr = session.Read(buf)
	}
	if !errors.Is(readErr, ErrRecorderExited) {
		t.Fatalf("expected recorder exit error, got %v", readErr)
	}
	if errors.Is(readErr, io.EOF) || !strings.Contains(readErr.Error(), "device unplugged") {
		t.Fatalf("expected stderr detail instead of a clean end: %v", readErr)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop after exit failed: %v", err)
	}
}

func TestFFMPEGCaptureMissingBinary(t *testing.T) {
	t.Parallel()

	capture := NewFFMPEGCapture(filepath.Join(t.TempDir(), "missing"))
	if _, err := capture.Start(context.Background(), ports.AudioSessionConfig{}); err == nil {
		t.Fatalf("expected start error for missing recorder")
	}
}

func TestCaptureArgsByMode(t *testing.T) {
	t.Parallel()

	base := ports.AudioSessionConfig{
		Category:     ports.AudioCategoryRecord,
		Mode:         ports.AudioModeMeasurement,
		SampleRate:   16000,
		Channels:     1,
		BufferFrames: 1024,
		InputFormat:  "alsa",
		InputDevice:  "hw:0",
	}

	measurement := captureArgs(base)
	if slices.Contains(measurement, "-af") {
		t.Fatalf("measurement mode must not filter: %v", measurement)
	}
	if i := slices.Index(measurement, "-fragment_size"); i < 0 || measurement[i+1] != "2048" {
		t.Fatalf("expected fragment size of one buffer: %v", measurement)
	}
	if i := slices.Index(measurement, "-i"); i < 0 || measurement[i+1] != "hw:0" {
		t.Fatalf("expected input device: %v", measurement)
	}

	voice := base
	voice.Mode = ports.AudioModeVoice
	args := captureArgs(voice)
	if i := slices.Index(args, "-af"); i < 0 || args[i+1] != voiceFilter {
		t.Fatalf("voice mode must band-limit capture: %v", args)
	}
}

func TestCaptureArgsDefaults(t *testing.T) {
	t.Parallel()

	args := strings.Join(captureArgs(ports.AudioSessionConfig{}), " ")
	for _, want := range []string{"-f pulse", "-i default", "-ac 1", "-ar 16000", "-f s16le -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	other := errors.New("wait failed")
	if got := normalizeStopErr(other); got != other {
		t.Fatalf("expected other errors to pass through, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
