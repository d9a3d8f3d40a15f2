// Package markitdown runs the external markitdown CLI through uv.
package markitdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrUVNotFound is returned when no uv executable can be located
var ErrUVNotFound = errors.New("uv executable not found, set UV_PATH or install uv (https://docs.astral.sh/uv/)")

// Executor abstracts process execution so tests never spawn real processes
type Executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecError carries the stderr of a failed markitdown run
type ExecError struct {
	Err    error
	Stderr string
	Path   string
	Hint   string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("markitdown failed for %s: %v", e.Path, e.Err)
	if stderr := lastLine(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Status describes whether markitdown can be run
type Status struct {
	UVPath    string `json:"uv_path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// Runner invokes `uv tool run --from <package> markitdown <file>`
type Runner struct {
	uvPath    string
	pkg       string
	extraArgs []string
	timeout   time.Duration
	executor  Executor
	state     *config.StateFile
	logger    *logrus.Logger

	mu       sync.Mutex
	resolved string
}

// Option configures a Runner
type Option func(*Runner)

// WithExecutor replaces the process executor
func WithExecutor(e Executor) Option {
	return func(r *Runner) { r.executor = e }
}

// WithState caches the probe result in the given state file
func WithState(s *config.StateFile) Option {
	return func(r *Runner) { r.state = s }
}

// NewRunner creates a runner from the configuration. MarkitdownArgs is split with shell quoting rules.
func NewRunner(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Runner, error) {
	extra, err := shlex.Split(cfg.MarkitdownArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid MARKITDOWN_ARGS: %w", err)
	}

	r := &Runner{
		uvPath:    cfg.UVPath,
		pkg:       cfg.MarkitdownPackage,
		extraArgs: extra,
		timeout:   cfg.MarkitdownTimeout,
		executor:  osExecutor{},
		logger:    logger,
	}
	if r.pkg == "" {
		r.pkg = config.DefaultMarkitdownPackage
	}
	if r.timeout <= 0 {
		r.timeout = config.DefaultMarkitdownTimeout
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// UV locates the uv executable: UV_PATH, then the cached probe, then PATH, then the installer defaults
func (r *Runner) UV() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}

	var candidates []string
	if r.uvPath != "" {
		candidates = append(candidates, r.uvPath)
	} else {
		if r.state != nil {
			if cached, _ := r.state.GetUV(); cached != "" && !r.state.IsStale() {
				candidates = append(candidates, cached)
			}
		}
		candidates = append(candidates, "uv")
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates,
				filepath.Join(home, ".local", "bin", "uv"),
				filepath.Join(home, ".cargo", "bin", "uv"),
			)
		}
	}

	for _, candidate := range candidates {
		if path, err := r.executor.LookPath(candidate); err == nil {
			r.resolved = path
			return path, nil
		}
	}

	if r.uvPath != "" {
		return "", fmt.Errorf("%w: UV_PATH %s is not executable", ErrUVNotFound, r.uvPath)
	}
	return "", ErrUVNotFound
}

func (r *Runner) args(extra ...string) []string {
	args := []string{"tool", "run", "--from", r.pkg, "markitdown"}
	return append(args, extra...)
}

// Probe checks that markitdown runs and records the result in the state file
func (r *Runner) Probe(ctx context.Context) (*Status, error) {
	uv, err := r.UV()
	if err != nil {
		return &Status{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, err := r.executor.Run(ctx, uv, r.args("--version")...)
	status := &Status{UVPath: uv, Available: err == nil, Version: strings.TrimSpace(string(stdout))}

	if r.state != nil {
		if saveErr := r.state.SetUV(uv, status.Available); saveErr != nil && r.logger != nil {
			r.logger.WithError(saveErr).Debug("Failed to save markitdown probe state")
		}
	}

	if err != nil {
		return status, &ExecError{Err: err, Stderr: string(stderr), Path: "--version", Hint: hintFor(ctx, string(stderr))}
	}
	return status, nil
}

// Convert runs markitdown on a local file and returns its Markdown output
func (r *Runner) Convert(ctx context.Context, path string) (string, error) {
	uv, err := r.UV()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := r.args(append(append([]string{}, r.extraArgs...), path)...)
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"uv":   uv,
			"args": args,
		}).Debug("Running markitdown")
	}

	stdout, stderr, err := r.executor.Run(ctx, uv, args...)
	if err != nil {
		return "", &ExecError{Err: err, Stderr: string(stderr), Path: path, Hint: hintFor(ctx, string(stderr))}
	}

	out := strings.TrimSpace(string(stdout))
	if out == "" {
		return "", fmt.Errorf("markitdown produced empty output for %s", path)
	}
	return out + "\n", nil
}

func hintFor(ctx context.Context, stderr string) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "conversion timed out, raise MARKITDOWN_TIMEOUT for large files"
	case strings.Contains(stderr, "No solution found") || strings.Contains(stderr, "Failed to download"):
		return "uv could not install markitdown, check network access or MARKITDOWN_PACKAGE"
	case strings.Contains(stderr, "UnsupportedFormatException"):
		return "markitdown does not support this file type"
	default:
		return ""
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
