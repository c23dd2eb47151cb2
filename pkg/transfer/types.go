package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/castfetch/castfetch/pkg/consumer"
	"github.com/castfetch/castfetch/pkg/remote"
)

// SentinelSuffix names the operator override marker: if <dest>.err exists the
// destination is treated as already acceptable and left alone.
const SentinelSuffix = ".err"

// Remote is the subset of remote.RangeClient the engine depends on.
type Remote interface {
	FetchMetadata(ctx context.Context, url string) (remote.Metadata, error)
	FetchBody(ctx context.Context, url string, start int64) (*remote.Body, error)
}

var _ Remote = (*remote.RangeClient)(nil)

// Request describes one transfer. It is not modified by the engine.
type Request struct {
	URL  string
	Dest string
	// ExpectedLength is the size announced by the feed. Zero or negative
	// means unknown.
	ExpectedLength int64
	// ExpectedModTime is the item's published time; zero means unknown.
	ExpectedModTime time.Time
	// SentinelPath defaults to Dest + SentinelSuffix.
	SentinelPath string
}

func (r Request) sentinelPath() string {
	if r.SentinelPath != "" {
		return r.SentinelPath
	}
	return r.Dest + SentinelSuffix
}

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureConnection
	FailureTimeout
	FailureRangeMismatch
	FailureLocal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConnection:
		return "connection"
	case FailureTimeout:
		return "timeout"
	case FailureRangeMismatch:
		return "range-mismatch"
	case FailureLocal:
		return "local"
	}
	return "unknown"
}

func failureKindOf(err error) FailureKind {
	var (
		connErr     *remote.ConnectionError
		timeoutErr  *remote.TimeoutError
		mismatchErr *remote.RangeMismatchError
		offsetErr   *consumer.OffsetError
	)
	switch {
	case err == nil, errors.Is(err, ErrNothingToResume):
		return FailureNone
	case errors.As(err, &timeoutErr):
		return FailureTimeout
	case errors.As(err, &mismatchErr), errors.As(err, &offsetErr):
		return FailureRangeMismatch
	case errors.As(err, &connErr):
		return FailureConnection
	}
	return FailureLocal
}

// Progress is the mutable bookkeeping of one request. BytesOnDisk is always
// taken from os.Stat, never from counters.
type Progress struct {
	BytesOnDisk int64
	Attempts    int
	Restarts    int
	LastFailure FailureKind
}

type Outcome int

const (
	// OutcomeValidated: the file was confirmed and stamped with the published time.
	OutcomeValidated Outcome = iota + 1
	// OutcomeAssumedValid: heuristics failed but the size matched the size
	// seen before this run; stamped as well.
	OutcomeAssumedValid
	// OutcomeCancelled: the destination is not authoritative. Any partial
	// file stays for a later resume.
	OutcomeCancelled
	// OutcomeSkipped: the sentinel marker exists; nothing was touched.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValidated:
		return "validated"
	case OutcomeAssumedValid:
		return "assumed-valid"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// Result is the terminal report of one request.
type Result struct {
	ID          string
	Outcome     Outcome
	Diagnostic  string
	Stamped     bool
	NeedsReview bool
	BytesOnDisk int64
	Attempts    int
	Failure     FailureKind
	Err         error
	Elapsed     time.Duration
}

// ProgressFunc receives the number of bytes on disk and the total expected
// size (-1 when unknown) while a body is streamed.
type ProgressFunc func(bytesOnDisk, totalBytes int64)

// Config is built once by the caller and handed to NewEngine.
type Config struct {
	ChunkSize int
	Policy    RetryPolicy
	Progress  ProgressFunc
}
