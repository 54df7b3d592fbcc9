package downloader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/downloader/deluge"
	"github.com/seedshare/seedshare/internal/downloader/types"
)

// CLI is the command surface of the download manager.
type CLI interface {
	Execute(ctx context.Context, action types.Action, argument string) (string, error)
	Add(ctx context.Context, magnet, dir string) (string, error)
}

// Service exposes download-manager operations in terms of jobs.
// Job state is never cached; every call reads fresh CLI output.
type Service struct {
	cli    CLI
	logger zerolog.Logger
}

// NewService creates a new download service.
func NewService(cli CLI, logger zerolog.Logger) *Service {
	return &Service{
		cli:    cli,
		logger: logger.With().Str("component", "downloader").Logger(),
	}
}

// Info returns every job the download manager currently knows about.
// Blocks that fail to parse are logged and skipped.
func (s *Service) Info(ctx context.Context) ([]types.Job, error) {
	out, err := s.cli.Execute(ctx, types.ActionInfo, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs info: %w", err)
	}

	jobs, parseErrs := deluge.ParseInfo(out)
	for _, perr := range parseErrs {
		s.logger.Warn().Err(perr).Msg("Skipping malformed job block")
	}

	return jobs, nil
}

// Pause pauses a job and returns the CLI's raw output.
func (s *Service) Pause(ctx context.Context, id string) (string, error) {
	return s.cli.Execute(ctx, types.ActionPause, id)
}

// Resume resumes a job and returns the CLI's raw output.
func (s *Service) Resume(ctx context.Context, id string) (string, error) {
	return s.cli.Execute(ctx, types.ActionResume, id)
}

// Delete removes a job. Finished jobs keep their files; anything else has its
// partial data purged.
func (s *Service) Delete(ctx context.Context, req types.DeleteRequest) (string, error) {
	action := types.ActionRemoveWithData
	if req.Status.IsFinished() {
		action = types.ActionRemove
	}

	s.logger.Info().
		Str("id", string(req.ID)).
		Str("status", string(req.Status)).
		Str("action", string(action)).
		Msg("Deleting job")

	return s.cli.Execute(ctx, action, string(req.ID))
}

// Purge removes a completed job from the download manager's records, keeping its files.
func (s *Service) Purge(ctx context.Context, id string) error {
	_, err := s.Delete(ctx, types.DeleteRequest{ID: types.JobID(id), Status: types.StatusCompleted})
	return err
}

// Add starts a new magnet download into dir.
func (s *Service) Add(ctx context.Context, magnet, dir string) (string, error) {
	out, err := s.cli.Add(ctx, magnet, dir)
	if err != nil {
		return "", err
	}

	s.logger.Info().Str("dir", dir).Msg("Added magnet")
	return out, nil
}
