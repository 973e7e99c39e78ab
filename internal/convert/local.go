package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// DefaultTimeout bounds a single converter run.
const DefaultTimeout = 180 * time.Second

// ErrSpawn marks a converter binary that could not be started.
var ErrSpawn = errors.New("converter could not be started")

// Local runs an ebook-convert compatible binary as "<bin> <input> <output>".
type Local struct {
	binary  string
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

// LocalOption configures Local.
type LocalOption func(*Local)

// WithTimeout sets the hard per-run timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(l *Local) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithTempDir sets where per-run work directories are created.
func WithTempDir(dir string) LocalOption {
	return func(l *Local) { l.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger.OrDiscard(log) }
}

// NewLocal creates a Local converter for binary, which may be a bare name
// resolved through PATH.
func NewLocal(binary string, opts ...LocalOption) *Local {
	l := &Local{
		binary:  binary,
		timeout: DefaultTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Probe checks that the binary exists and answers --version.
func (l *Local) Probe(ctx context.Context) error {
	path, err := exec.LookPath(l.binary)
	if err != nil {
		return fmt.Errorf("look up %s: %w", l.binary, err)
	}
	cmd := exec.CommandContext(ctx, path, "--version") //nolint:gosec // binary path comes from configuration
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s --version: %w: %s", l.binary, err, truncate(string(out), maxErrorOutput))
	}
	return nil
}

// Convert writes the input to a private work directory, runs the binary and
// reads back the output. The work directory is always removed.
func (l *Local) Convert(ctx context.Context, job Job) ([]byte, error) {
	dir, err := os.MkdirTemp(l.tempDir, "convert-*")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "create work directory")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			l.logger.Warn("failed to remove work directory", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	input := filepath.Join(dir, "input."+job.Source)
	output := filepath.Join(dir, "output."+job.Target)
	if err := os.WriteFile(input, job.Input, 0o600); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "write converter input")
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, l.binary, input, output) //nolint:gosec // binary path comes from configuration
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	stderr := &limitedBuffer{max: 64 << 10}
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	start := time.Now()
	l.logger.Debug("running converter",
		slog.Int64("book_id", job.BookID),
		slog.String("from", job.Source),
		slog.String("to", job.Target))

	runErr := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case runErr == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		l.logger.Warn("converter timed out",
			slog.Int64("book_id", job.BookID),
			slog.String("to", job.Target),
			slog.Duration("timeout", l.timeout))
		return nil, apperr.ConverterTimeout(job.Target, runErr)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("conversion to %s: %w", job.Target, ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, apperr.ConverterFailed(job.Target, truncate(stderr.String(), maxErrorOutput), runErr)
		}
		return nil, apperr.Wrapf(errors.Join(ErrSpawn, runErr), apperr.CodeConverterUnavailable,
			"cannot start converter for %s", job.Target)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.OutputMissing(job.Target)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "read converter output")
	}
	if len(data) == 0 {
		return nil, apperr.OutputMissing(job.Target)
	}

	l.logger.Info("converted book",
		slog.Int64("book_id", job.BookID),
		slog.String("from", job.Source),
		slog.String("to", job.Target),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", elapsed))
	return data, nil
}
