// Package archive compresses a completed job folder into a single zip file.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// Extension is appended to a folder's base name to name its archive.
const Extension = ".zip"

// partialSuffix marks an archive that is still being written.
const partialSuffix = ".partial"

// ErrNotDirectory is returned when the archive source is not a folder.
var ErrNotDirectory = errors.New("archive source is not a directory")

// NameFor returns the archive file name for a source path, e.g. "Show.S01.zip".
func NameFor(source string) string {
	return filepath.Base(source) + Extension
}

// Zipper writes folders into zip archives. Entries are stored under the folder's
// base name so extracting the archive recreates the folder.
type Zipper struct {
	logger zerolog.Logger
}

// NewZipper creates a new zipper.
func NewZipper(logger zerolog.Logger) *Zipper {
	return &Zipper{
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Archive compresses srcDir into dest. The archive is written next to dest and
// renamed into place only once complete, so dest never holds a truncated file.
func (z *Zipper) Archive(ctx context.Context, srcDir, dest string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("failed to stat archive source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, srcDir)
	}

	start := time.Now()
	partial := dest + partialSuffix

	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	files, err := writeZip(ctx, out, srcDir)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return err
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	z.logger.Info().
		Str("source", srcDir).
		Str("archive", dest).
		Int("files", files).
		Dur("duration", time.Since(start)).
		Msg("Created archive")

	return nil
}

func writeZip(ctx context.Context, w io.Writer, srcDir string) (int, error) {
	zw := zip.NewWriter(w)
	root := filepath.Dir(srcDir)
	files := 0

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Name = name + "/"
			_, err = zw.CreateHeader(header)
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if err := copyFile(entry, path); err != nil {
			return err
		}
		files++
		return nil
	})
	if walkErr != nil {
		zw.Close()
		return files, fmt.Errorf("failed to write archive: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return files, fmt.Errorf("failed to close archive: %w", err)
	}
	return files, nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
