package root

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/castfetch/castfetch/pkg/cli"
	"github.com/castfetch/castfetch/pkg/config"
	"github.com/castfetch/castfetch/pkg/episode"
	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/optname"
	"github.com/castfetch/castfetch/pkg/transfer"
)

const rootLongDesc = `
castfetch

castfetch downloads a single podcast episode over HTTP and makes sure the file on disk is complete before it is
trusted. Interrupted or stalled transfers are resumed with range requests from the last byte on disk, for as long as
every attempt makes progress.

No checksum is available for podcast enclosures, so completeness is judged from evidence: the length announced by the
feed, the server's Content-Length, and the file's modification time compared with the published time. A verified file
gets its modification time set to the episode's published time; a file that cannot be verified is left in place,
unstamped, and (with --journal) queued for review.

Creating <dest>.err next to a destination marks it as known-good and castfetch will leave it alone.
`

// ErrNotVerified is returned when the transfer ends without a trusted file,
// so the process exits non-zero.
var ErrNotVerified = errors.New("destination was not verified")

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "castfetch [flags] <url> <dest>",
		Short: "castfetch",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Args: cobra.ExactArgs(2),
		Example: `  castfetch https://example.com/ep1.mp3 ep1.mp3
  castfetch --expected-length 48211968 --published "Tue, 14 Mar 2023 09:26:53 +0000" https://example.com/ep1.mp3 ep1.mp3
  castfetch --title "Episode 1: Troy" --published 2023-03-14 https://example.com/ep1.mp3 ~/podcasts/ancient-greece/`,
	}
	cmd.Flags().Int64(optname.ExpectedLength, 0, "Length in bytes announced by the feed (0 if unknown)")
	cmd.Flags().String(optname.Published, "", "Episode published time: RFC 3339, RFC 2822, YYYY-MM-DD or unix seconds")
	cmd.Flags().String(optname.Title, "", "Episode title; when <dest> is a directory the file is named <title>_<YYYY.MM.DD><ext>")
	cmd.Flags().String(optname.ContentType, "", "Enclosure MIME type, used for the extension when the URL has none")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	if err := config.AddRootPersistentFlags(cmd); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	req, err := buildRequest(args[0], args[1])
	if err != nil {
		return err
	}

	logger := logging.GetLogger()
	logger.Info().
		Str("url", req.URL).
		Str("dest", req.Dest).
		Int64("expected_length", req.ExpectedLength).
		Msg("Initiating")

	return rootExecute(cmd.Context(), req)
}

// buildRequest turns the arguments and root-only flags into a request,
// naming the file after the episode when dest is a directory and a title is
// given.
func buildRequest(urlString, dest string) (transfer.Request, error) {
	published, err := cli.ParsePublished(viper.GetString(optname.Published))
	if err != nil {
		return transfer.Request{}, err
	}

	if title := viper.GetString(optname.Title); title != "" {
		info, err := os.Stat(dest)
		switch {
		case err == nil && info.IsDir():
			dest = episode.Path(dest, title, published, urlString, viper.GetString(optname.ContentType))
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return transfer.Request{}, fmt.Errorf("error reading %s: %w", dest, err)
		}
	}

	return transfer.Request{
		URL:             urlString,
		Dest:            dest,
		ExpectedLength:  viper.GetInt64(optname.ExpectedLength),
		ExpectedModTime: published,
	}, nil
}

// rootExecute is the main function of the program and encapsulates the general logic
// returns any/all errors to the caller.
func rootExecute(ctx context.Context, req transfer.Request) error {
	if dir := filepath.Dir(req.Dest); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	lock, err := cli.NewDestinationLock(req.Dest)
	if err != nil {
		return err
	}
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("error locking %s: %w", req.Dest, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger := logging.GetLogger()
			logger.Warn().Err(err).Msg("Failed to release lock")
		}
	}()

	var bar *cli.ProgressBar
	var progress transfer.ProgressFunc
	if viper.GetBool(optname.Progress) {
		bar = cli.NewProgressBar(os.Stderr)
		bar.Start(filepath.Base(req.Dest))
		progress = bar.Update
	}

	rt, err := cli.NewRuntime(progress)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, _ := rt.Getter.Fetch(ctx, req)
	if bar != nil {
		bar.Finish()
	}
	if res.Outcome == transfer.OutcomeCancelled {
		return fmt.Errorf("%w: %s", ErrNotVerified, res.Diagnostic)
	}
	return nil
}
