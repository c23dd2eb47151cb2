package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/castfetch/castfetch/pkg/consumer"
	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/remote"
)

// ErrNothingToResume is returned by Executor.RunOnce when the local file is
// already at least as long as the remote resource, or when the remote length
// is unknown so no resume offset can be trusted. It is a signal to go
// straight to validation, not a failure.
var ErrNothingToResume = errors.New("resume not possible: local file is not shorter than the remote content length")

// Executor performs one download or resume attempt.
type Executor struct {
	remote    Remote
	chunkSize int
	progress  ProgressFunc
}

func NewExecutor(remote Remote, chunkSize int, progress ProgressFunc) *Executor {
	return &Executor{remote: remote, chunkSize: chunkSize, progress: progress}
}

// RunOnce streams req.URL into req.Dest from startByte and returns the
// number of bytes written by this attempt. On failure the bytes already
// written stay on disk.
func (e *Executor) RunOnce(ctx context.Context, req Request, startByte int64) (int64, error) {
	logger := logging.FromContext(ctx)

	if startByte > 0 {
		md, err := e.remote.FetchMetadata(ctx, req.URL)
		if err != nil {
			return 0, err
		}
		if md.ContentLength < 0 || startByte >= md.ContentLength {
			logger.Info().
				Str("dest", req.Dest).
				Int64("start_byte", startByte).
				Int64("content_length", md.ContentLength).
				Msg("Resume not possible")
			return 0, ErrNothingToResume
		}
	}

	body, err := e.remote.FetchBody(ctx, req.URL, startByte)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	total := body.Metadata.TotalLength()
	event := logger.Info().Str("url", req.URL).Str("dest", req.Dest)
	if total >= 0 {
		event = event.Str("size", humanize.IBytes(uint64(total)))
	}
	if startByte > 0 {
		event.Int64("start_byte", startByte).Msg("Resuming")
	} else {
		event.Msg("Downloading")
	}

	var c consumer.Consumer = &consumer.FileWriter{
		ChunkSize: e.chunkSize,
		Progress: func(bytesOnDisk int64) {
			if e.progress != nil {
				e.progress(bytesOnDisk, total)
			}
		},
	}
	written, err := c.Consume(body, req.Dest, startByte)
	var offsetErr *consumer.OffsetError
	if errors.As(err, &offsetErr) {
		return 0, &remote.RangeMismatchError{
			URL:       req.URL,
			Requested: startByte,
			Reported:  offsetErr.Actual,
			Reason:    "local write cursor differs",
		}
	}
	if err != nil {
		return written, fmt.Errorf("attempt from byte %d stopped after %d bytes: %w", startByte, written, err)
	}
	return written, nil
}
