package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

// statFile re-reads size and mtime from the filesystem. A missing file is not
// an error.
func statFile(path string) (fileState, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, fmt.Errorf("error reading %s: %w", path, err)
	}
	if info.IsDir() {
		return fileState{}, fmt.Errorf("%s is a directory", path)
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// stamp sets both atime and mtime, downstream tools read mtime as the
// item's published time.
func stamp(path string, published time.Time) error {
	return os.Chtimes(path, published, published)
}

// sameSecond compares timestamps at the precision of HTTP dates.
func sameSecond(a, b time.Time) bool {
	return a.Unix() == b.Unix()
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
