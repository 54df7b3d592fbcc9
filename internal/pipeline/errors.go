package pipeline

import (
	"errors"
	"net/http"
)

// Stage names a pipeline step.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageLock    Stage = "lock"
	StageArchive Stage = "archive"
	StageExists  Stage = "exists"
	StageUpload  Stage = "upload"
	StageCleanup Stage = "cleanup"
	StagePurge   Stage = "purge"
)

// ErrBusy is returned when the same user's job is already being published.
var ErrBusy = errors.New("upload already in progress for this job")

// ErrSourceMissing is returned when neither local data nor a published copy exists.
var ErrSourceMissing = errors.New("job data not found")

// Error is a pipeline failure carrying the status to report to the client.
type Error struct {
	Stage   Stage
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP-style status of the failure.
func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

func stageError(stage Stage, status int, msg string, err error) *Error {
	return &Error{Stage: stage, Message: msg, Status: status, Err: err}
}
