package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	castfetch "github.com/castfetch/castfetch/pkg"
	"github.com/castfetch/castfetch/pkg/cli"
	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/optname"
	"github.com/castfetch/castfetch/pkg/transfer"
)

const longDesc = `
'batch' takes a manifest file as input (can use '-' for stdin) and fetches every episode listed in it, one at a time.

The text format is one episode per line: a URL, a destination path, and optionally the length announced by the feed
and the published time.
e.g.
https://example.com/pod/ep1.mp3 /podcasts/ep1.mp3 48211968 2023-03-14T09:26:53Z

A manifest ending in .yaml or .yml is read as a list of entries with url, dest, length, published, title and
content_type keys.

Episodes are grouped into series by scheme and host. When a host cannot be reached, the remaining episodes of that
series are skipped for this run.
`

const batchExamples = `
  castfetch batch manifest.txt

  castfetch batch episodes.yaml

  cat manifest.txt | castfetch batch -
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "batch [flags] <manifest-file>",
		Short:   "fetch the episodes listed in a manifest file",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runBatchCMD,
		Example: batchExamples,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runBatchCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	manifestPath := args[0]
	file, err := manifestFile(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()

	parse := parseManifest
	if isYAML(manifestPath) {
		parse = parseYAMLManifest
	}
	m, err := parse(file)
	if err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}

	var bar *cli.ProgressBar
	var progress transfer.ProgressFunc
	if viper.GetBool(optname.Progress) {
		bar = cli.NewProgressBar(os.Stderr)
		progress = bar.Update
	}
	rt, err := cli.NewRuntime(progress)
	if err != nil {
		return err
	}
	defer rt.Close()

	s, err := batchExecute(cmd.Context(), rt.Getter, m, bar)
	s.log()
	if err != nil {
		return err
	}
	if s.cancelled > 0 {
		return fmt.Errorf("%d of %d episodes were not verified", s.cancelled, m.count())
	}
	return nil
}

type summary struct {
	outcomes  map[transfer.Outcome]int
	cancelled int
	skipped   int
	locked    int
	bytes     int64
	elapsed   time.Duration
}

func (s summary) log() {
	logger := logging.GetLogger()
	throughput := float64(s.bytes) / max(s.elapsed.Seconds(), 0.001)
	logger.Info().
		Int("validated", s.outcomes[transfer.OutcomeValidated]).
		Int("assumed_valid", s.outcomes[transfer.OutcomeAssumedValid]).
		Int("sentinel_skipped", s.outcomes[transfer.OutcomeSkipped]).
		Int("cancelled", s.cancelled).
		Int("series_skipped", s.skipped).
		Int("locked", s.locked).
		Str("total_bytes_on_disk", humanize.IBytes(uint64(s.bytes))).
		Str("throughput", fmt.Sprintf("%s/s", humanize.IBytes(uint64(throughput)))).
		Str("elapsed_time", fmt.Sprintf("%.3fs", s.elapsed.Seconds())).
		Msg("Metrics")
}

// batchExecute fetches every series in order and every episode within a
// series in order. It returns an error only when ctx is cancelled.
func batchExecute(ctx context.Context, getter *castfetch.Getter, m manifest, bar *cli.ProgressBar) (summary, error) {
	logger := logging.GetLogger()
	s := summary{outcomes: make(map[transfer.Outcome]int)}
	start := time.Now()

	for _, series := range m {
		for i, req := range series.requests {
			if err := ctx.Err(); err != nil {
				s.elapsed = time.Since(start)
				return s, fmt.Errorf("batch interrupted: %w", err)
			}
			res, decision, locked := fetchOne(ctx, getter, req, bar)
			if locked {
				s.locked++
				continue
			}
			s.outcomes[res.Outcome]++
			s.bytes += max(res.BytesOnDisk, 0)
			if res.Outcome == transfer.OutcomeCancelled {
				s.cancelled++
			}
			if decision == castfetch.SkipSeries {
				remaining := len(series.requests) - i - 1
				s.skipped += remaining
				logger.Warn().
					Str("series", series.key).
					Int("remaining", remaining).
					Str("diagnostic", res.Diagnostic).
					Msg("Skipping series")
				break
			}
		}
	}
	s.elapsed = time.Since(start)
	return s, nil
}

// fetchOne locks the destination for the duration of one transfer. An entry
// whose destination is locked by another process is left for a later run.
func fetchOne(ctx context.Context, getter *castfetch.Getter, req transfer.Request, bar *cli.ProgressBar) (transfer.Result, castfetch.Decision, bool) {
	logger := logging.GetLogger()
	if dir := filepath.Dir(req.Dest); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn().Err(err).Str("dest", req.Dest).Msg("Cannot create directory")
		}
	}
	lock, err := cli.NewDestinationLock(req.Dest)
	if err != nil {
		logger.Warn().Err(err).Str("dest", req.Dest).Msg("Cannot create lock, continuing without it")
	} else {
		acquired, err := lock.TryAcquire()
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("dest", req.Dest).Msg("Cannot lock destination, continuing without it")
		case !acquired:
			_ = lock.Close()
			logger.Warn().Str("dest", req.Dest).Msg("Destination locked by another process, leaving it for later")
			return transfer.Result{}, castfetch.Continue, true
		default:
			defer func() {
				if err := lock.Release(); err != nil {
					logger.Warn().Err(err).Msg("Failed to release lock")
				}
			}()
		}
	}

	if bar != nil {
		bar.Start(filepath.Base(req.Dest))
		defer bar.Finish()
	}
	res, decision := getter.Fetch(ctx, req)
	return res, decision, false
}
