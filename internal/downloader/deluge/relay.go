// Package deluge drives the deluge-console CLI: it builds argument vectors, runs the
// subprocess on a bounded worker pool and parses the text it prints.
package deluge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/seedshare/seedshare/internal/downloader/types"
)

const (
	defaultBinary  = "deluge-console"
	defaultWorkers = 4
	defaultTimeout = 30 * time.Second
)

// metacharacters truncate an argument at their first occurrence.
const metacharacters = "&><;|/"

// Runner executes a program with an argument vector and reports what it printed.
// A non-zero exit is reported through exitCode, not err.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner runs programs with os/exec, never through a shell.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return nil, nil, -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Config holds relay configuration.
type Config struct {
	Binary  string
	Workers int
	Timeout time.Duration
}

// Relay invokes deluge-console synchronously for one action at a time per caller.
// Invocations share a bounded pool so a hanging subprocess cannot starve the process.
type Relay struct {
	binary  string
	timeout time.Duration
	runner  Runner
	slots   *semaphore.Weighted
	logger  zerolog.Logger
}

// NewRelay creates a relay. A nil runner uses ExecRunner.
func NewRelay(cfg Config, runner Runner, logger zerolog.Logger) *Relay {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Relay{
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		runner:  runner,
		slots:   semaphore.NewWeighted(int64(cfg.Workers)),
		logger:  logger.With().Str("component", "deluge").Logger(),
	}
}

// Binary returns the configured CLI program.
func (r *Relay) Binary() string {
	return r.binary
}

// Sanitize drops everything from the first shell metacharacter onward.
func Sanitize(arg string) string {
	if idx := strings.IndexAny(arg, metacharacters); idx >= 0 {
		arg = arg[:idx]
	}
	return strings.TrimSpace(arg)
}

// Args builds the argument vector for an action. The argument is sanitized; info
// ignores it.
func Args(action types.Action, argument string) ([]string, error) {
	if action == types.ActionInfo {
		return []string{"info", "--sort-reverse", "file_progress"}, nil
	}

	id := Sanitize(argument)
	if id == "" {
		return nil, types.ErrEmptyArgument
	}

	switch action {
	case types.ActionPause:
		return []string{"pause", id}, nil
	case types.ActionResume:
		return []string{"resume", id}, nil
	case types.ActionRemove:
		return []string{"rm", id}, nil
	case types.ActionRemoveWithData:
		return []string{"rm", "--remove_data", id}, nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownAction, action)
	}
}

// Execute runs one CLI action and returns its stdout.
func (r *Relay) Execute(ctx context.Context, action types.Action, argument string) (string, error) {
	args, err := Args(action, argument)
	if err != nil {
		return "", err
	}
	return r.run(ctx, action, args)
}

// Add starts a magnet download into dir.
func (r *Relay) Add(ctx context.Context, magnet, dir string) (string, error) {
	magnet = strings.TrimSpace(magnet)
	if !strings.HasPrefix(magnet, "magnet:?") || strings.ContainsAny(magnet, "\r\n") {
		return "", fmt.Errorf("%w: not a magnet link", types.ErrEmptyArgument)
	}
	return r.run(ctx, types.ActionAdd, []string{"add", "-p", dir, magnet})
}

func (r *Relay) run(ctx context.Context, action types.Action, args []string) (string, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.slots.Release(1)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.runner.Run(ctx, r.binary, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("action", string(action)).Msg("Failed to run deluge-console")
		return "", &types.CliError{Action: action, Stderr: err.Error(), ExitCode: -1}
	}

	if exitCode != 0 || len(bytes.TrimSpace(stderr)) > 0 {
		cliErr := &types.CliError{Action: action, Stderr: string(stderr), ExitCode: exitCode}
		r.logger.Warn().
			Str("action", string(action)).
			Int("exitCode", exitCode).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Msg("deluge-console reported an error")
		return "", cliErr
	}

	r.logger.Debug().
		Str("action", string(action)).
		Strs("args", args).
		Dur("duration", time.Since(start)).
		Msg("deluge-console finished")

	return string(stdout), nil
}
