package fileutil

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLocked is returned when another process holds a lock file.
var ErrLocked = errors.New("lock held by another process")

// LockFile is a held exclusive lock.
type LockFile struct {
	file *os.File
}

func writePID(file *os.File) {
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	fmt.Fprintf(file, "%d\n", os.Getpid())
	_ = file.Sync()
}

// LockWait retries Lock until it succeeds or wait elapses.
func LockWait(path string, wait time.Duration) (*LockFile, error) {
	deadline := time.Now().Add(wait)
	for {
		l, err := Lock(path)
		if !errors.Is(err, ErrLocked) || time.Now().After(deadline) {
			return l, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}
