package sandbox

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"quickwatch-go/pkg/juicycodes"
	"quickwatch-go/pkg/logging"
)

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	opts.Runtime = "node"
	return NewRunner(opts, logging.New("error", false, io.Discard))
}

func TestRunner_Run(t *testing.T) {
	r := newTestRunner(t, Options{})

	out, err := r.Run(context.Background(), `var result={file:[{"file":"https://cdn.example/video.m3u8"}]}; console.log(JSON.stringify(result));`)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != `{"file":[{"file":"https://cdn.example/video.m3u8"}]}` {
		t.Errorf("Run() = %q", out)
	}
}

func TestRunner_DecoderScriptMatchesGoPort(t *testing.T) {
	r := newTestRunner(t, Options{})

	for _, payload := range []string{"SGVsbG8h", "SGVsbG8=", "ZXZhbCgiMSsxIik="} {
		want, err := juicycodes.Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%q): %v", payload, err)
		}

		got, err := r.Run(context.Background(), juicycodes.Snippet(`"`+payload+`"`))
		if err != nil {
			t.Fatalf("Run(decoder %q): %v", payload, err)
		}
		if got != want {
			t.Errorf("interpreter decoded %q as %q, Go port as %q", payload, got, want)
		}
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := newTestRunner(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, `while (true) {}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() returned after %v, process was not killed promptly", elapsed)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := newTestRunner(t, Options{})

	_, err := r.Run(context.Background(), `throw new Error("boom")`)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError", err)
	}
	if exitErr.Code == 0 {
		t.Error("exit code should be non-zero")
	}
}

func TestRunner_OutputLimit(t *testing.T) {
	r := newTestRunner(t, Options{MaxOutputBytes: 16})

	_, err := r.Run(context.Background(), `console.log("x".repeat(1000))`)
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("Run() error = %v, want ErrOutputTooLarge", err)
	}
}

func TestRunner_EmptyEnvironment(t *testing.T) {
	t.Setenv("QUICKWATCH_SECRET", "leak")
	r := newTestRunner(t, Options{})

	out, err := r.Run(context.Background(), `console.log(process.env.QUICKWATCH_SECRET === undefined ? "clean" : "leaked")`)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != "clean" {
		t.Errorf("parent environment visible to script: %q", out)
	}
}

func TestRunner_PermissionModelBlocksFilesystem(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	flag, err := DetectPermissionFlag(context.Background(), "node")
	if err != nil {
		t.Skip(err)
	}
	r := newTestRunner(t, Options{PermissionModel: true, PermissionFlag: flag})

	_, err = r.Run(context.Background(), `console.log(require("fs").readFileSync("/etc/hostname", "utf8"))`)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError from denied filesystem access", err)
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}

	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if b.buf.String() != "abcd" || !b.truncated {
		t.Errorf("buffer = %q truncated=%v", b.buf.String(), b.truncated)
	}
}
