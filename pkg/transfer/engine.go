package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/castfetch/castfetch/pkg/logging"
)

type engineState int

const (
	engineStart engineState = iota
	engineCheckExisting
	engineTransferring
	engineValidating
	engineDone
	engineCancelled
	engineSkipped
)

func (s engineState) String() string {
	return [...]string{"start", "check-existing", "transferring", "validating", "done", "cancelled", "skipped"}[s]
}

// Engine turns a Request into exactly one Result. It never returns an
// error: every network or filesystem failure ends as OutcomeCancelled with a
// diagnostic.
type Engine struct {
	remote Remote
	cfg    Config
	// attempter overrides the Executor in tests.
	attempter Attempter
}

func NewEngine(remote Remote, cfg Config) *Engine {
	return &Engine{
		remote:    remote,
		cfg:       cfg,
		attempter: NewExecutor(remote, cfg.ChunkSize, cfg.Progress),
	}
}

func (e *Engine) Transfer(ctx context.Context, req Request) Result {
	run := &engineRun{
		req:     req,
		started: time.Now(),
		result:  Result{ID: uuid.NewString()},
	}
	run.logger = logging.ForTransfer(run.result.ID, req.URL, req.Dest)
	run.validator = NewValidator(e.remote, run.logger)
	run.retry = NewRetryController(e.attempter, e.cfg.Policy, run.logger)

	res := run.execute(run.logger.WithContext(ctx))
	res.Elapsed = time.Since(run.started)

	event := run.logger.Info()
	if res.Outcome == OutcomeCancelled {
		event = run.logger.Warn().Err(res.Err)
	}
	event.
		Str("outcome", res.Outcome.String()).
		Str("size", humanize.IBytes(uint64(res.BytesOnDisk))).
		Int("attempts", res.Attempts).
		Bool("stamped", res.Stamped).
		Bool("needs_review", res.NeedsReview).
		Str("elapsed", fmt.Sprintf("%.3fs", res.Elapsed.Seconds())).
		Str("diagnostic", res.Diagnostic).
		Msg("Complete")
	return res
}

type engineRun struct {
	req       Request
	started   time.Time
	state     engineState
	result    Result
	logger    zerolog.Logger
	validator *Validator
	retry     *RetryController
}

func (r *engineRun) enter(state engineState) {
	r.logger.Debug().Str("from", r.state.String()).Str("to", state.String()).Msg("State")
	r.state = state
}

func (r *engineRun) execute(ctx context.Context) Result {
	r.enter(engineStart)
	if pathExists(r.req.sentinelPath()) {
		return r.skipped(fmt.Sprintf("sentinel %s present", r.req.sentinelPath()))
	}

	r.enter(engineCheckExisting)
	existing, err := statFile(r.req.Dest)
	if err != nil {
		return r.cancelled(err, FailureLocal, "cannot inspect destination: %v", err)
	}
	priorSize := int64(-1)
	if existing.exists {
		priorSize = existing.size
		r.result.BytesOnDisk = existing.size
		val, err := r.validator.Validate(ctx, r.req)
		if err != nil {
			return r.cancelled(err, failureKindOf(err), "network failure while verifying existing file: %v", err)
		}
		switch val.Verdict {
		case VerdictSkip:
			return r.skipped(val.Reason)
		case VerdictValid:
			return r.validated(OutcomeValidated, "existing file: "+val.Reason)
		}
		r.logger.Info().
			Int64("bytes_on_disk", existing.size).
			Str("reason", val.Reason).
			Msg("Existing file not verified, resuming")
	}

	r.enter(engineTransferring)
	retry := r.retry.Run(ctx, r.req, max(priorSize, 0))
	r.result.Attempts = retry.Progress.Attempts
	r.result.BytesOnDisk = retry.Progress.BytesOnDisk
	if retry.State == StateCancelled {
		return r.cancelled(retry.Err, retry.Progress.LastFailure, "%s", retry.Diagnostic)
	}

	r.enter(engineValidating)
	// The download itself is the evidence of freshness, so the published
	// time is not compared again here.
	post := r.req
	post.ExpectedModTime = time.Time{}
	val, err := r.validator.Validate(ctx, post)
	if err != nil {
		return r.cancelled(err, failureKindOf(err), "network failure while verifying download: %v", err)
	}
	r.result.BytesOnDisk = val.LocalSize

	switch val.Verdict {
	case VerdictSkip:
		return r.skipped(val.Reason)
	case VerdictValid:
		return r.validated(OutcomeValidated, val.Reason)
	}

	if priorSize > 0 && priorSize == val.LocalSize {
		return r.validated(OutcomeAssumedValid, fmt.Sprintf("%s; size %d unchanged since before this run", val.Reason, val.LocalSize))
	}

	r.result.NeedsReview = true
	return r.cancelled(nil, FailureNone, "download not verified, left unstamped for review: %s", val.Reason)
}

func (r *engineRun) validated(outcome Outcome, diagnostic string) Result {
	r.enter(engineDone)
	r.result.Outcome = outcome
	r.result.Diagnostic = diagnostic
	if local, err := statFile(r.req.Dest); err == nil {
		r.result.BytesOnDisk = local.size
	}
	if r.req.ExpectedModTime.IsZero() {
		r.result.Diagnostic += "; no published time to stamp"
		return r.result
	}
	if err := stamp(r.req.Dest, r.req.ExpectedModTime); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to set modification time")
		r.result.Diagnostic += fmt.Sprintf("; failed to set mtime: %v", err)
		return r.result
	}
	r.result.Stamped = true
	return r.result
}

func (r *engineRun) cancelled(err error, kind FailureKind, format string, args ...any) Result {
	r.enter(engineCancelled)
	r.result.Outcome = OutcomeCancelled
	r.result.Err = err
	r.result.Failure = kind
	r.result.Diagnostic = fmt.Sprintf(format, args...)
	return r.result
}

func (r *engineRun) skipped(diagnostic string) Result {
	r.enter(engineSkipped)
	r.result.Outcome = OutcomeSkipped
	r.result.Diagnostic = diagnostic
	return r.result
}
