package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// DefaultMinFreeMB is the free space required before a new download is accepted.
const DefaultMinFreeMB = 1024

var errUnparsableDF = errors.New("unexpected df output")

// DFRunner returns the output of `df -Pk path`.
type DFRunner func(ctx context.Context, path string) ([]byte, error)

func execDF(ctx context.Context, path string) ([]byte, error) {
	return exec.CommandContext(ctx, "df", "-Pk", path).Output()
}

// SpaceChecker reports free space on the volume holding a path.
type SpaceChecker struct {
	minFree uint64
	df      DFRunner
	logger  zerolog.Logger
}

// NewSpaceChecker creates a checker requiring minFreeMB megabytes. A nil df
// uses the system df command.
func NewSpaceChecker(minFreeMB int64, df DFRunner, logger zerolog.Logger) *SpaceChecker {
	if minFreeMB < 0 {
		minFreeMB = 0
	}
	if df == nil {
		df = execDF
	}
	return &SpaceChecker{
		minFree: uint64(minFreeMB) * 1024 * 1024,
		df:      df,
		logger:  logger.With().Str("component", "filesystem").Logger(),
	}
}

// FreeSpace returns the available bytes on the volume holding path. The
// nearest existing ancestor is used when path does not exist yet.
func (s *SpaceChecker) FreeSpace(ctx context.Context, path string) (uint64, error) {
	target := existingAncestor(path)
	out, err := s.df(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("failed to run df on %s: %w", target, err)
	}
	return parseDF(out)
}

// HasSpace reports whether the volume holding path has at least the minimum
// free space.
func (s *SpaceChecker) HasSpace(ctx context.Context, path string) (bool, error) {
	free, err := s.FreeSpace(ctx, path)
	if err != nil {
		return false, err
	}
	ok := free >= s.minFree
	if !ok {
		s.logger.Warn().
			Str("path", path).
			Str("free", humanize.IBytes(free)).
			Str("required", humanize.IBytes(s.minFree)).
			Msg("Insufficient disk space")
	}
	return ok, nil
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// parseDF reads the available column of POSIX df output in 1K blocks.
func parseDF(out []byte) (uint64, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return 0, errUnparsableDF
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 6 {
		return 0, errUnparsableDF
	}

	availKb, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errUnparsableDF, err)
	}
	return availKb * 1024, nil
}
