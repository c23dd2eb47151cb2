package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Attempter runs a single transfer attempt. *Executor is the production
// implementation.
type Attempter interface {
	RunOnce(ctx context.Context, req Request, startByte int64) (int64, error)
}

var _ Attempter = (*Executor)(nil)

type RetryState int

const (
	StateIdle RetryState = iota
	StateAttempting
	StateSucceeded
	StateCancelled
)

func (s RetryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// RetryPolicy bounds the retry loop. The zero value keeps retrying for as
// long as every attempt makes progress, without waiting in between.
type RetryPolicy struct {
	// MaxAttempts caps the number of attempts; 0 means unbounded.
	MaxAttempts int
	// BackoffMin and BackoffMax shape an exponential wait between attempts.
	// BackoffMax 0 disables waiting.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (p RetryPolicy) allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt <= p.MaxAttempts
}

// Wait returns how long to sleep before attempt number attempt+1.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if p.BackoffMax <= 0 {
		return 0
	}
	floor := p.BackoffMin
	if floor <= 0 || floor > p.BackoffMax {
		floor = p.BackoffMax
	}
	return retryablehttp.DefaultBackoff(floor, p.BackoffMax, attempt-1, nil)
}

// RetryResult is what the controller hands back to the engine.
type RetryResult struct {
	State      RetryState
	Progress   Progress
	Err        error
	Diagnostic string
}

// RetryController drives an Attempter until it succeeds or a failure shows
// no forward progress.
type RetryController struct {
	attempter Attempter
	policy    RetryPolicy
	logger    zerolog.Logger
}

func NewRetryController(attempter Attempter, policy RetryPolicy, logger zerolog.Logger) *RetryController {
	return &RetryController{attempter: attempter, policy: policy, logger: logger}
}

// Run starts at startByte (the current on-disk size, 0 for a fresh
// download) and loops according to the progress rules:
//
//   - success, or nothing left to resume: Succeeded
//   - connection error, range mismatch, local I/O error: Cancelled
//   - timeout while resuming: retry if the file grew, else Cancelled
//   - timeout on a fresh download: resume if a non-empty partial file exists, else Cancelled
//   - the file shrank below the attempt's start: restart from zero
func (c *RetryController) Run(ctx context.Context, req Request, startByte int64) RetryResult {
	progress := Progress{BytesOnDisk: startByte}
	state := StateIdle
	var lastErr error

	cancelled := func(err error, format string, args ...any) RetryResult {
		diagnostic := fmt.Sprintf(format, args...)
		c.logger.Warn().
			Err(err).
			Int("attempt", progress.Attempts).
			Int64("bytes_on_disk", progress.BytesOnDisk).
			Str("state", StateCancelled.String()).
			Msg(diagnostic)
		return RetryResult{State: StateCancelled, Progress: progress, Err: err, Diagnostic: diagnostic}
	}

	for {
		if !c.policy.allows(progress.Attempts + 1) {
			return cancelled(lastErr, "giving up after %d attempts", progress.Attempts)
		}
		if progress.Attempts > 0 {
			if wait := c.policy.Wait(progress.Attempts); wait > 0 {
				select {
				case <-ctx.Done():
					return cancelled(ctx.Err(), "cancelled while waiting to retry")
				case <-time.After(wait):
				}
			}
		}

		state = StateAttempting
		progress.Attempts++
		attemptStart := startByte
		c.logger.Debug().
			Int("attempt", progress.Attempts).
			Int64("start_byte", attemptStart).
			Str("state", state.String()).
			Msg("Attempt")

		written, err := c.attempter.RunOnce(ctx, req, attemptStart)
		lastErr = err
		kind := failureKindOf(err)
		progress.LastFailure = kind

		onDisk, statErr := statFile(req.Dest)
		if statErr != nil {
			progress.LastFailure = FailureLocal
			return cancelled(statErr, "cannot measure destination after attempt %d", progress.Attempts)
		}

		if kind == FailureConnection {
			progress.BytesOnDisk = onDisk.size
			return cancelled(err, "connection error on attempt %d, %d bytes on disk", progress.Attempts, onDisk.size)
		}

		if attemptStart > 0 && onDisk.size < attemptStart {
			// Bytes already confirmed vanished. The file can no longer be
			// trusted as a prefix of the resource.
			c.logger.Warn().
				Int64("start_byte", attemptStart).
				Int64("bytes_on_disk", onDisk.size).
				Int("attempt", progress.Attempts).
				Msg("Destination shrank, restarting from zero")
			startByte = 0
			progress.BytesOnDisk = 0
			progress.Restarts++
			continue
		}
		progress.BytesOnDisk = onDisk.size

		switch {
		case err == nil, errors.Is(err, ErrNothingToResume):
			state = StateSucceeded
			c.logger.Debug().
				Int("attempt", progress.Attempts).
				Int64("written", written).
				Int64("bytes_on_disk", onDisk.size).
				Str("state", state.String()).
				Msg("Attempt complete")
			return RetryResult{
				State:      state,
				Progress:   progress,
				Err:        err,
				Diagnostic: fmt.Sprintf("transfer finished after %d attempts with %d bytes on disk", progress.Attempts, onDisk.size),
			}

		case kind == FailureTimeout && attemptStart > 0:
			if onDisk.size <= attemptStart {
				return cancelled(err, "timeout while resuming from byte %d with no progress", attemptStart)
			}
			c.logger.Info().
				Int64("bytes_on_disk", onDisk.size).
				Int("attempt", progress.Attempts).
				Msg("Connection timeout. File partly resumed. Retrying")
			startByte = onDisk.size

		case kind == FailureTimeout:
			if !onDisk.exists || onDisk.size == 0 {
				return cancelled(err, "timeout before any bytes reached the disk")
			}
			c.logger.Info().
				Int64("bytes_on_disk", onDisk.size).
				Int("attempt", progress.Attempts).
				Msg("Connection timeout. File partly downloaded. Retrying")
			startByte = onDisk.size

		default:
			return cancelled(err, "%s failure on attempt %d from byte %d", kind, progress.Attempts, attemptStart)
		}
	}
}
