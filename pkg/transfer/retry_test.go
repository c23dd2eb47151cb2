package transfer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castfetch/castfetch/pkg/remote"
)

// attemptStep mutates the destination the way a real attempt would and
// returns the attempt's error.
type attemptStep func(t *testing.T, dest string, start int64) error

type scriptedAttempter struct {
	t      *testing.T
	steps  []attemptStep
	starts []int64
}

func (s *scriptedAttempter) RunOnce(ctx context.Context, req Request, startByte int64) (int64, error) {
	s.starts = append(s.starts, startByte)
	if len(s.starts) > len(s.steps) {
		return 0, errUnexpectedCall
	}
	before, _ := statFile(req.Dest)
	err := s.steps[len(s.starts)-1](s.t, req.Dest, startByte)
	after, _ := statFile(req.Dest)
	return max(after.size-before.size, 0), err
}

func appendBytes(n int, err error) attemptStep {
	return func(t *testing.T, dest string, start int64) error {
		t.Helper()
		if start == 0 {
			writeFile(t, dest, generateTestContent(n))
			return err
		}
		f, openErr := os.OpenFile(dest, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, openErr)
		_, writeErr := f.Write(generateTestContent(n))
		require.NoError(t, writeErr)
		require.NoError(t, f.Close())
		return err
	}
}

func truncateTo(n int64, err error) attemptStep {
	return func(t *testing.T, dest string, start int64) error {
		t.Helper()
		require.NoError(t, os.Truncate(dest, n))
		return err
	}
}

var (
	errTimeout    = &remote.TimeoutError{URL: "http://x/ep1.mp3", Err: errors.New("idle")}
	errConnection = &remote.ConnectionError{URL: "http://x/ep1.mp3", Err: errors.New("refused")}
	errMismatch   = &remote.RangeMismatchError{URL: "http://x/ep1.mp3", Requested: 10, Reported: 0, Reason: "range ignored"}
)

func TestRetryControllerRun(t *testing.T) {
	testCases := []struct {
		name        string
		initial     int
		steps       []attemptStep
		policy      RetryPolicy
		state       RetryState
		starts      []int64
		bytesOnDisk int64
		restarts    int
		lastFailure FailureKind
	}{
		{
			name:        "fresh download succeeds",
			steps:       []attemptStep{appendBytes(100, nil)},
			state:       StateSucceeded,
			starts:      []int64{0},
			bytesOnDisk: 100,
		},
		{
			name:        "timeout with partial file resumes",
			steps:       []attemptStep{appendBytes(40, errTimeout), appendBytes(60, nil)},
			state:       StateSucceeded,
			starts:      []int64{0, 40},
			bytesOnDisk: 100,
		},
		{
			name:        "timeouts keep resuming while the file grows",
			steps:       []attemptStep{appendBytes(40, errTimeout), appendBytes(10, errTimeout), appendBytes(10, errTimeout), appendBytes(40, nil)},
			state:       StateSucceeded,
			starts:      []int64{0, 40, 50, 60},
			bytesOnDisk: 100,
		},
		{
			name:        "timeout before any bytes cancels",
			steps:       []attemptStep{appendBytes(0, errTimeout)},
			state:       StateCancelled,
			starts:      []int64{0},
			lastFailure: FailureTimeout,
		},
		{
			name:        "resume timeout without progress cancels",
			initial:     40,
			steps:       []attemptStep{appendBytes(0, errTimeout)},
			state:       StateCancelled,
			starts:      []int64{40},
			bytesOnDisk: 40,
			lastFailure: FailureTimeout,
		},
		{
			name:        "connection error cancels immediately",
			initial:     40,
			steps:       []attemptStep{appendBytes(0, errConnection)},
			state:       StateCancelled,
			starts:      []int64{40},
			bytesOnDisk: 40,
			lastFailure: FailureConnection,
		},
		{
			name:        "range mismatch cancels",
			initial:     10,
			steps:       []attemptStep{appendBytes(0, errMismatch)},
			state:       StateCancelled,
			starts:      []int64{10},
			bytesOnDisk: 10,
			lastFailure: FailureRangeMismatch,
		},
		{
			name:        "local error cancels",
			steps:       []attemptStep{appendBytes(5, errors.New("disk full"))},
			state:       StateCancelled,
			starts:      []int64{0},
			bytesOnDisk: 5,
			lastFailure: FailureLocal,
		},
		{
			name:        "nothing to resume succeeds",
			initial:     100,
			steps:       []attemptStep{appendBytes(0, ErrNothingToResume)},
			state:       StateSucceeded,
			starts:      []int64{100},
			bytesOnDisk: 100,
		},
		{
			name:        "shrunk file restarts from zero",
			initial:     50,
			steps:       []attemptStep{truncateTo(20, errTimeout), appendBytes(100, nil)},
			state:       StateSucceeded,
			starts:      []int64{50, 0},
			bytesOnDisk: 100,
			restarts:    1,
		},
		{
			name:        "attempt cap cancels",
			steps:       []attemptStep{appendBytes(10, errTimeout), appendBytes(10, errTimeout), appendBytes(10, errTimeout)},
			policy:      RetryPolicy{MaxAttempts: 2},
			state:       StateCancelled,
			starts:      []int64{0, 10},
			bytesOnDisk: 20,
			lastFailure: FailureTimeout,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := tempDest(t)
			if tc.initial > 0 {
				writeFile(t, dest, generateTestContent(tc.initial))
			}
			attempter := &scriptedAttempter{t: t, steps: tc.steps}
			controller := NewRetryController(attempter, tc.policy, zerolog.Nop())

			res := controller.Run(context.Background(), Request{URL: "http://x/ep1.mp3", Dest: dest}, int64(tc.initial))

			assert.Equal(t, tc.state, res.State, res.Diagnostic)
			assert.Equal(t, tc.starts, attempter.starts)
			assert.Equal(t, len(tc.starts), res.Progress.Attempts)
			assert.Equal(t, tc.bytesOnDisk, res.Progress.BytesOnDisk)
			assert.Equal(t, tc.restarts, res.Progress.Restarts)
			assert.Equal(t, tc.lastFailure, res.Progress.LastFailure)
			if tc.state == StateCancelled {
				assert.NotEmpty(t, res.Diagnostic)
			}
		})
	}
}

func TestRetryControllerNeverTruncates(t *testing.T) {
	dest := tempDest(t)
	writeFile(t, dest, generateTestContent(64))
	attempter := &scriptedAttempter{t: t, steps: []attemptStep{appendBytes(0, errTimeout)}}

	res := NewRetryController(attempter, RetryPolicy{}, zerolog.Nop()).
		Run(context.Background(), Request{URL: "http://x/ep1.mp3", Dest: dest}, 64)

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, int64(64), fileSize(t, dest))
}

func TestRetryControllerHonorsContextDuringBackoff(t *testing.T) {
	dest := tempDest(t)
	attempter := &scriptedAttempter{t: t, steps: []attemptStep{appendBytes(10, errTimeout), appendBytes(10, nil)}}
	policy := RetryPolicy{BackoffMin: time.Hour, BackoffMax: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := NewRetryController(attempter, policy, zerolog.Nop()).Run(ctx, Request{URL: "http://x/ep1.mp3", Dest: dest}, 0)

	assert.Equal(t, StateCancelled, res.State)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Len(t, attempter.starts, 1)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryPolicyWait(t *testing.T) {
	testCases := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"disabled", RetryPolicy{}, 3, 0},
		{"first retry", RetryPolicy{BackoffMin: 100 * time.Millisecond, BackoffMax: time.Second}, 1, 100 * time.Millisecond},
		{"doubles", RetryPolicy{BackoffMin: 100 * time.Millisecond, BackoffMax: time.Second}, 3, 400 * time.Millisecond},
		{"capped", RetryPolicy{BackoffMin: 100 * time.Millisecond, BackoffMax: time.Second}, 10, time.Second},
		{"min above max", RetryPolicy{BackoffMin: time.Minute, BackoffMax: time.Second}, 1, time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.policy.Wait(tc.attempt))
		})
	}
}

func TestRetryPolicyAllows(t *testing.T) {
	assert.True(t, RetryPolicy{}.allows(1000))
	assert.True(t, RetryPolicy{MaxAttempts: 3}.allows(3))
	assert.False(t, RetryPolicy{MaxAttempts: 3}.allows(4))
}
