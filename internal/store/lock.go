package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const lockFileName = ".index.lock"

// IndexLock is an advisory lock held for the duration of an indexing run.
type IndexLock struct {
	path string
}

// AcquireIndexLock creates the lock file under dataDir exclusively. If the
// file already exists another run is in progress (or crashed, in which case
// the file has to be removed by hand) and ErrIndexLocked is returned.
func AcquireIndexLock(dataDir string) (*IndexLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s (%s)", ErrIndexLocked, path, owner)
		}
		return nil, err
	}
	_, werr := fmt.Fprintf(f, "pid=%s started=%s", strconv.Itoa(os.Getpid()), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, errors.Join(werr, cerr)
	}
	return &IndexLock{path: path}, nil
}

// Release removes the lock file. It is safe to call more than once.
func (l *IndexLock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
