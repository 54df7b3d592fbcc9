// Package testutil provides testing utilities shared across packages.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// StringPtr returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}

// CLIResult is a canned response for FakeRunner.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error

	// Delay holds the call before it returns.
	Delay time.Duration
}

// FakeRunner records argument vectors and answers with canned results.
// It satisfies the deluge Runner interface.
type FakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]CLIResult

	// Block, when set, is waited on before every call returns.
	Block chan struct{}
}

// NewFakeRunner creates an empty FakeRunner; unmatched calls succeed with no output.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{results: make(map[string]CLIResult)}
}

// On registers the result for the subcommand (first argument), e.g. "info" or "rm".
func (f *FakeRunner) On(subcommand string, result CLIResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[subcommand] = result
}

// Run implements the Runner interface.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	var result CLIResult
	if len(args) > 0 {
		result = f.results[args[0]]
	}
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		}
	}

	if result.Delay > 0 {
		select {
		case <-time.After(result.Delay):
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		}
	}

	if result.Err != nil {
		return nil, nil, -1, result.Err
	}
	return []byte(result.Stdout), []byte(result.Stderr), result.ExitCode, nil
}

// Calls returns the argument vectors seen so far, each joined by spaces.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

// CountCalls returns how many calls started with subcommand.
func (f *FakeRunner) CountCalls(subcommand string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > 0 && c[0] == subcommand {
			n++
		}
	}
	return n
}

// WriteFile creates a file with content under dir, creating parents as needed.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	return path
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Event is one emitted event captured by RecordingEmitter.
type Event struct {
	Name    string
	Payload any
}

// RecordingEmitter captures emitted events in order.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the session emitter interface.
func (r *RecordingEmitter) Emit(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Payload: payload})
}

// Events returns a copy of the captured events.
func (r *RecordingEmitter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the captured events with the given name.
func (r *RecordingEmitter) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
