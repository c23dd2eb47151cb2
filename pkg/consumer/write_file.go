package consumer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// DefaultChunkSize bounds how much of a body is held in memory at once.
const DefaultChunkSize = 100 * humanize.KiByte

// OffsetError means the destination's write cursor is not where the caller
// is about to resume from. Nothing has been written when it is returned.
type OffsetError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("cannot append to %s at byte %d: write cursor is at %d", e.Path, e.Expected, e.Actual)
}

// FileWriter streams a body into a file in fixed-size chunks. With
// startByte 0 the file is created (parents included) and truncated;
// otherwise it is opened for append and must end exactly at startByte.
// Bytes written before a failure are left on disk for the next resume.
type FileWriter struct {
	ChunkSize int
	// Progress, if set, is called after every chunk with the number of bytes
	// now on disk.
	Progress func(bytesOnDisk int64)
}

var _ Consumer = &FileWriter{}

func (f *FileWriter) Consume(reader io.Reader, destPath string, startByte int64) (int64, error) {
	out, err := f.open(destPath, startByte)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			w, err := out.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, fmt.Errorf("error writing file: %w", err)
			}
			if f.Progress != nil {
				f.Progress(startByte + written)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("error closing file: %w", err)
	}
	return written, nil
}

func (f *FileWriter) open(destPath string, startByte int64) (*os.File, error) {
	if startByte == 0 {
		if dir := filepath.Dir(destPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("error creating directory %s: %w", dir, err)
			}
		}
		out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("error writing file: %w", err)
		}
		return out, nil
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error writing file: %w", err)
	}
	cursor, err := out.Seek(0, io.SeekEnd)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("error seeking file: %w", err)
	}
	if cursor != startByte {
		out.Close()
		return nil, &OffsetError{Path: destPath, Expected: startByte, Actual: cursor}
	}
	return out, nil
}
