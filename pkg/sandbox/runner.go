// Package sandbox evaluates small untrusted script snippets in a separate
// interpreter process.
//
// Each Run starts a fresh process with an empty environment and a private
// temporary working directory, captures stdout up to a fixed size and kills
// the process when the context is done. It is meant for short programs that
// print one value, not for general computation.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
)

// ErrOutputTooLarge is returned when a snippet prints more than the configured limit.
var ErrOutputTooLarge = errors.New("script output exceeds limit")

// ExitError reports a snippet that terminated with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("script exited with status %d", e.Code)
	}
	return fmt.Sprintf("script exited with status %d: %s", e.Code, e.Stderr)
}

// Options configures a Runner.
type Options struct {
	// Runtime is the interpreter binary, resolved through PATH.
	Runtime string
	// PermissionModel enables Node's permission model, which blocks
	// filesystem, child process and worker access.
	PermissionModel bool
	// PermissionFlag is the flag that enables the permission model, usually
	// from DetectPermissionFlag. Node 20-22.12 spell it
	// --experimental-permission, newer releases --permission.
	PermissionFlag string
	// MaxOutputBytes caps captured stdout.
	MaxOutputBytes int64
	// HeapLimitMB caps the interpreter heap.
	HeapLimitMB int
}

// Runner runs snippets with a Node-compatible interpreter (`<runtime> -e`).
type Runner struct {
	runtime   string
	args      []string
	maxOutput int64
	log       *logging.Logger
}

// NewRunner creates a Runner. The permission model does not restrict
// network access; snippets can still open sockets.
func NewRunner(opts Options, log *logging.Logger) *Runner {
	if opts.Runtime == "" {
		opts.Runtime = "node"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	if opts.HeapLimitMB <= 0 {
		opts.HeapLimitMB = 64
	}

	args := []string{fmt.Sprintf("--max-old-space-size=%d", opts.HeapLimitMB)}
	if opts.PermissionModel {
		flag := opts.PermissionFlag
		if flag == "" {
			flag = "--experimental-permission"
		}
		args = append(args, flag)
	}

	return &Runner{
		runtime:   opts.Runtime,
		args:      args,
		maxOutput: opts.MaxOutputBytes,
		log:       log.WithComponent("sandbox"),
	}
}

// Run executes snippet and returns its trimmed stdout.
// When ctx expires the process is killed and the returned error wraps ctx.Err().
func (r *Runner) Run(ctx context.Context, snippet string) (string, error) {
	dir, err := os.MkdirTemp("", "quickwatch-script-*")
	if err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args := make([]string, 0, len(r.args)+2)
	args = append(args, r.args...)
	args = append(args, "-e", snippet)

	cmd := exec.CommandContext(ctx, r.runtime, args...)
	cmd.Dir = dir
	cmd.Env = []string{"HOME=" + dir, "TMPDIR=" + dir}
	cmd.WaitDelay = time.Second

	stdout := &limitedBuffer{max: r.maxOutput}
	stderr := &limitedBuffer{max: 2048}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	r.log.Debug("script finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"snippet_bytes", len(snippet),
		"stdout_bytes", stdout.buf.Len(),
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("script aborted: %w", ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.buf.String()),
			}
		}
		return "", fmt.Errorf("run %s: %w", r.runtime, runErr)
	}
	if stdout.truncated {
		return "", fmt.Errorf("%w (%d bytes)", ErrOutputTooLarge, r.maxOutput)
	}

	return strings.TrimSpace(stdout.buf.String()), nil
}

// limitedBuffer keeps the first max bytes written and discards the rest
// without failing the writer, so the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

var _ interfaces.ScriptRunner = (*Runner)(nil)
