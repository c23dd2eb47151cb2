package castfetch

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/transfer"
)

// Decision tells a caller iterating over a series of episodes whether to keep
// going.
type Decision int

const (
	Continue Decision = iota
	// SkipSeries means the origin is unreachable and the remaining episodes
	// from it should not be attempted in this run.
	SkipSeries
)

func (d Decision) String() string {
	if d == SkipSeries {
		return "skip-series"
	}
	return "continue"
}

// Transferer is satisfied by *transfer.Engine.
type Transferer interface {
	Transfer(ctx context.Context, req transfer.Request) transfer.Result
}

// Recorder persists outcomes. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, req transfer.Request, res transfer.Result) error
}

var _ Transferer = (*transfer.Engine)(nil)

type Getter struct {
	Engine Transferer
	// Journal is optional.
	Journal Recorder
}

// Fetch runs one transfer and derives the decision for the rest of the
// series from its outcome.
func (g *Getter) Fetch(ctx context.Context, req transfer.Request) (transfer.Result, Decision) {
	logger := logging.GetLogger()
	res := g.Engine.Transfer(ctx, req)

	if g.Journal != nil {
		// an interrupted transfer is still journaled
		if err := g.Journal.Record(context.WithoutCancel(ctx), req, res); err != nil {
			logger.Warn().Err(err).Str("transfer_id", res.ID).Msg("Failed to record outcome")
		}
	}

	decision := DecisionFor(res)
	event := logger.Info().
		Str("dest", req.Dest).
		Str("outcome", res.Outcome.String()).
		Str("size", humanize.IBytes(uint64(max(res.BytesOnDisk, 0)))).
		Str("decision", decision.String())
	if secs := res.Elapsed.Seconds(); secs > 0 && res.BytesOnDisk > 0 {
		event = event.Str("throughput", fmt.Sprintf("%s/s", humanize.IBytes(uint64(float64(res.BytesOnDisk)/secs))))
	}
	event.Str("total_elapsed", fmt.Sprintf("%.3fs", res.Elapsed.Seconds())).Msg("Fetched")
	return res, decision
}

// DecisionFor maps a result to a Decision: only a cancelled transfer caused by
// a connection failure skips the series. Timeouts and unverified downloads
// leave the next episode worth trying.
func DecisionFor(res transfer.Result) Decision {
	if res.Outcome == transfer.OutcomeCancelled && res.Failure == transfer.FailureConnection {
		return SkipSeries
	}
	return Continue
}
