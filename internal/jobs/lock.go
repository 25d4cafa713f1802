package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLockHeld reports that another crawl with the same name is already in
// flight, here or in another process.
var ErrLockHeld = errors.New("crawl name is locked")

// Lock is a per-name file lock under the system temp directory. Two crawls
// with the same name write the same document store, so only one may run at
// a time.
type Lock struct {
	path string
}

func lockPath(name string) string {
	return filepath.Join(os.TempDir(), name+".lock")
}

// AcquireLock claims the lock for a crawl name and records the holder PID in
// the lock file. Returns ErrLockHeld while another holder has it.
func AcquireLock(name string) (*Lock, error) {
	path := lockPath(name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: lock file %s exists, another crawler with the same name is already in flight", ErrLockHeld, path)
		}
		return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr == nil {
			werr = cerr
		}
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, werr)
	}

	return &Lock{path: path}, nil
}

// Held reports whether the named lock is currently on disk.
func Held(name string) bool {
	_, err := os.Stat(lockPath(name))
	return err == nil
}

// Release removes the lock file. Releasing an already-released lock is not
// an error.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}
