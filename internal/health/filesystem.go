package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// CheckFolderAccessible verifies that a path exists and is a directory.
func CheckFolderAccessible(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", path)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied: %s", path)
		}
		return fmt.Errorf("cannot access path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	return nil
}

// CheckFolderWritable creates and removes a probe file in path.
func CheckFolderWritable(path string) error {
	probe := filepath.Join(path, fmt.Sprintf(".seedshare_health_check_%s", uuid.New().String()[:8]))

	if err := os.WriteFile(probe, []byte("health check"), 0600); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("folder is read-only: %s", path)
		}
		return fmt.Errorf("cannot write to folder: %w", err)
	}

	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("cannot remove test file: %w", err)
	}
	return nil
}

// FolderCheck returns a probe that requires path to be an accessible,
// writable directory.
func FolderCheck(path string) CheckFunc {
	return func(ctx context.Context) error {
		if err := CheckFolderAccessible(path); err != nil {
			return err
		}
		return CheckFolderWritable(path)
	}
}

// BinaryCheck returns a probe that requires name to be on PATH.
func BinaryCheck(name string) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not found: %w", name, err)
		}
		return nil
	}
}

// Pinger is anything that can verify its remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a probe backed by p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}
