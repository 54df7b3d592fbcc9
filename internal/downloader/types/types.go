// Package types defines the job model shared by the download-manager CLI layer,
// the status poller and the upload pipeline.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common errors for the download layer.
var (
	ErrUnknownAction = errors.New("unknown cli action")
	ErrEmptyArgument = errors.New("argument is empty after sanitizing")
	ErrUnauthorized  = errors.New("invalid username, the user is not registered in the system")
	ErrNoSpace       = errors.New("can't start a new download, no available space on disk")
)

// Action is a download-manager CLI subcommand.
type Action string

const (
	ActionInfo           Action = "info"
	ActionPause          Action = "pause"
	ActionResume         Action = "resume"
	ActionRemove         Action = "remove"
	ActionRemoveWithData Action = "remove-with-data"
	ActionAdd            Action = "add"
)

// Status represents the state of a job as reported to callers.
type Status string

const (
	StatusDownloading Status = "Downloading"
	StatusSeeding     Status = "Seeding"
	StatusCompleted   Status = "Completed"
	StatusPaused      Status = "Paused"
	StatusQueued      Status = "Queued"
	StatusError       Status = "Error"
)

// ParseStatus maps the leading word of a CLI state string onto a Status.
// Unrecognised states map to StatusError.
func ParseStatus(state string) Status {
	fields := strings.Fields(state)
	if len(fields) == 0 {
		return StatusError
	}
	switch strings.ToLower(fields[0]) {
	case "downloading":
		return StatusDownloading
	case "seeding":
		return StatusSeeding
	case "completed", "finished":
		return StatusCompleted
	case "paused":
		return StatusPaused
	case "queued", "checking", "allocating", "moving":
		return StatusQueued
	default:
		return StatusError
	}
}

// IsFinished reports whether the job's files are complete on disk.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusSeeding
}

// Quantity is a value with its unit as printed by the CLI, e.g. 3.0 GiB or 1.2 MiB/s.
type Quantity struct {
	Value   float64 `json:"value"`
	Measure string  `json:"measure"`
}

func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Value, q.Measure)
}

// JobID identifies a job. Clients may send it as a JSON string or number.
type JobID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *JobID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = JobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("job id must be a string or number: %s", data)
	}
	*id = JobID(n.String())
	return nil
}

// Job is one tracked download/seed item known to the download manager.
type Job struct {
	ID       JobID     `json:"id"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Speed    *Quantity `json:"speed"`
	ETA      *string   `json:"eta"`
	Size     *Quantity `json:"size"`
	Progress float64   `json:"progress"`
}

// DeleteRequest carries the id and last known status of a job to remove.
type DeleteRequest struct {
	ID     JobID  `json:"id"`
	Status Status `json:"status"`
}

// CliError is returned when the download-manager CLI exits non-zero or writes to stderr.
type CliError struct {
	Action   Action
	Stderr   string
	ExitCode int
}

// StatusCode implements StatusCoder.
func (e *CliError) StatusCode() int { return http.StatusInternalServerError }

func (e *CliError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return fmt.Sprintf("%s failed: %s", e.Action, msg)
}

// ParseError describes a job block that could not be parsed.
type ParseError struct {
	Block  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Block, e.Reason)
}

// ErrorPayload is the structured failure sent to sessions and HTTP callers.
type ErrorPayload struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ErrorResponse wraps an ErrorPayload under the "error" key.
type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

// StatusCoder is implemented by errors that carry their own HTTP-style status.
type StatusCoder interface {
	StatusCode() int
}

// NewErrorResponse converts any error into the wire error shape.
func NewErrorResponse(err error) ErrorResponse {
	status := http.StatusInternalServerError
	var coder StatusCoder
	switch {
	case errors.As(err, &coder):
		status = coder.StatusCode()
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrNoSpace):
		status = http.StatusForbidden
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrEmptyArgument):
		status = http.StatusBadRequest
	}
	return ErrorResponse{Error: ErrorPayload{Message: err.Error(), Status: status}}
}
