// Package pipeline publishes a completed job: archive, dedupe check, upload
// with progress, local cleanup and purge from the download manager.
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/archive"
	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/progress"
	"github.com/seedshare/seedshare/internal/storage"
)

// ObjectStore is the object storage surface used for publishing.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, localPath, contentType string, onProgress storage.ProgressFunc) error
	PublicURL(key string) string
}

// Archiver compresses a folder into a single file.
type Archiver interface {
	Archive(ctx context.Context, srcDir, dest string) error
}

// Purger removes a finished job from the download manager, keeping its data.
type Purger interface {
	Purge(ctx context.Context, id string) error
}

// Task is the transient state of one pipeline run.
type Task struct {
	ID          string
	User        string
	JobID       string
	SourcePath  string
	ArchivePath string
	RemoteKey   string
	Published   bool
}

// Pipeline runs publish tasks.
type Pipeline struct {
	store    ObjectStore
	archiver Archiver
	purger   Purger
	layout   *filesystem.Layout
	progress *progress.Manager
	locks    *keyedMutex
	logger   zerolog.Logger
}

// New creates a pipeline.
func New(store ObjectStore, archiver Archiver, purger Purger, layout *filesystem.Layout, tracker *progress.Manager, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		archiver: archiver,
		purger:   purger,
		layout:   layout,
		progress: tracker,
		locks:    newKeyedMutex(),
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run publishes job for user and returns its public URL. Progress events go to
// emitter. A failure before the object is stored leaves local files in place
// so the run can be retried.
func (p *Pipeline) Run(ctx context.Context, user string, job types.Job, emitter progress.Emitter) (string, error) {
	start := time.Now()

	cleanUser, err := filesystem.SanitizeUser(user)
	if err != nil {
		return "", stageError(StageResolve, http.StatusBadRequest, "invalid user", err)
	}
	root, err := p.layout.DownloadRoot(cleanUser)
	if err != nil {
		return "", stageError(StageResolve, http.StatusBadRequest, "invalid user", err)
	}
	src, err := p.layout.SourcePath(cleanUser, job.Name)
	if err != nil {
		return "", stageError(StageResolve, http.StatusBadRequest, "invalid job name", err)
	}
	if _, err := os.Stat(root); err != nil {
		return "", stageError(StageResolve, http.StatusNotFound, "download folder not found", err)
	}

	name := filepath.Base(src)
	release, err := p.acquire(root, cleanUser, name)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return "", stageError(StageLock, http.StatusConflict, "cannot publish job", err)
		}
		return "", stageError(StageLock, http.StatusInternalServerError, "failed to lock job", err)
	}
	defer release()

	task := &Task{
		ID:         uuid.New().String(),
		User:       cleanUser,
		JobID:      string(job.ID),
		SourcePath: src,
	}
	logger := p.logger.With().Str("task", task.ID).Str("user", cleanUser).Str("job", name).Logger()

	if err := p.prepare(ctx, task, root); err != nil {
		logger.Error().Err(err).Msg("Archive stage failed")
		return "", err
	}

	if !task.Published {
		exists, err := p.store.Exists(ctx, task.RemoteKey)
		if err != nil {
			logger.Error().Err(err).Str("key", task.RemoteKey).Msg("Existence check failed")
			return "", stageError(StageExists, http.StatusBadGateway, "failed to check storage", err)
		}
		task.Published = exists
	}

	if task.Published {
		logger.Info().Str("key", task.RemoteKey).Msg("Object already published, skipping upload")
	} else if err := p.upload(ctx, task, emitter); err != nil {
		logger.Error().Err(err).Str("key", task.RemoteKey).Msg("Upload failed")
		return "", err
	}

	p.cleanup(task, logger)
	p.purge(ctx, task, logger)

	url := p.store.PublicURL(task.RemoteKey)
	logger.Info().
		Str("key", task.RemoteKey).
		Str("url", url).
		Dur("duration", time.Since(start)).
		Msg("Job published")
	return url, nil
}

// prepare resolves the local file to publish, archiving folders. When the
// source is gone it looks for an earlier published copy.
func (p *Pipeline) prepare(ctx context.Context, task *Task, root string) error {
	zipPath := filepath.Join(root, archive.NameFor(task.SourcePath))

	info, err := os.Stat(task.SourcePath)
	switch {
	case err == nil && info.IsDir():
		task.ArchivePath = zipPath
		if _, statErr := os.Stat(zipPath); statErr == nil {
			p.logger.Debug().Str("archive", zipPath).Msg("Reusing existing archive")
		} else if err := p.archiver.Archive(ctx, task.SourcePath, zipPath); err != nil {
			return stageError(StageArchive, http.StatusInternalServerError, "failed to archive job", err)
		}
	case err == nil:
		task.ArchivePath = task.SourcePath
	case errors.Is(err, fs.ErrNotExist):
		if _, statErr := os.Stat(zipPath); statErr == nil {
			task.ArchivePath = zipPath
			break
		}
		return p.findPublished(ctx, task)
	default:
		return stageError(StageArchive, http.StatusInternalServerError, "failed to read job data", err)
	}

	task.RemoteKey = storage.Key(task.User, filepath.Base(task.ArchivePath))
	return nil
}

// findPublished checks the keys a previous run could have written.
func (p *Pipeline) findPublished(ctx context.Context, task *Task) error {
	base := filepath.Base(task.SourcePath)
	for _, fileName := range []string{archive.NameFor(task.SourcePath), base} {
		key := storage.Key(task.User, fileName)
		exists, err := p.store.Exists(ctx, key)
		if err != nil {
			return stageError(StageExists, http.StatusBadGateway, "failed to check storage", err)
		}
		if exists {
			task.RemoteKey = key
			task.Published = true
			return nil
		}
	}
	return stageError(StageArchive, http.StatusNotFound, "nothing to publish", ErrSourceMissing)
}

func (p *Pipeline) upload(ctx context.Context, task *Task, emitter progress.Emitter) error {
	fileName := filepath.Base(task.ArchivePath)
	tracker := p.progress.Start(task.ID, task.User, fileName, emitter)

	err := p.store.Upload(ctx, task.RemoteKey, task.ArchivePath, storage.ContentType(fileName), tracker.Update)
	if err != nil {
		tracker.Fail(err.Error())
		return stageError(StageUpload, http.StatusInternalServerError, "failed to upload archive", err)
	}
	tracker.Complete()
	return nil
}

func (p *Pipeline) cleanup(task *Task, logger zerolog.Logger) {
	if task.ArchivePath != "" && task.ArchivePath != task.SourcePath {
		if err := os.Remove(task.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", task.ArchivePath).Msg("Failed to remove archive")
		}
	}
	if err := os.RemoveAll(task.SourcePath); err != nil {
		logger.Warn().Err(err).Str("path", task.SourcePath).Msg("Failed to remove source")
	}
}

func (p *Pipeline) purge(ctx context.Context, task *Task, logger zerolog.Logger) {
	if task.JobID == "" || p.purger == nil {
		return
	}
	if err := p.purger.Purge(ctx, task.JobID); err != nil {
		logger.Warn().Err(err).Str("id", task.JobID).Msg("Failed to purge job from download manager")
	}
}
