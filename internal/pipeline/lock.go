package pipeline

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// keyedMutex allows one holder per key and never blocks.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]struct{})}
}

func (k *keyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	delete(k.held, key)
	k.mu.Unlock()
}

// lockPath is the cross-process lock file for a job in a download root. It is
// never removed so every process locks the same inode.
func lockPath(root, name string) string {
	return filepath.Join(root, "."+name+".lock")
}

// acquire takes the in-process and file locks for (user, name). The returned
// release func drops both.
func (p *Pipeline) acquire(root, user, name string) (func(), error) {
	key := user + "/" + name
	if !p.locks.TryLock(key) {
		return nil, ErrBusy
	}

	path := lockPath(root, name)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		p.locks.Unlock(key)
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		p.locks.Unlock(key)
		return nil, ErrBusy
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			p.logger.Warn().Err(err).Str("lock", path).Msg("Failed to release lock")
		}
		p.locks.Unlock(key)
	}, nil
}
