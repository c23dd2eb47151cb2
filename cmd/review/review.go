package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/castfetch/castfetch/pkg/cli"
	"github.com/castfetch/castfetch/pkg/journal"
	"github.com/castfetch/castfetch/pkg/optname"
)

const longDesc = `
'review' lists downloads that finished but could not be verified. Their files were left in place without a
modification time stamp. Inspect (or re-fetch) each file, then acknowledge it with --ack <id>. Alternatively create
<dest>.err to mark the destination as known-good for future runs.

Requires --journal (or CASTFETCH_JOURNAL).
`

// ErrNoJournal is returned when no journal path is configured.
var ErrNoJournal = errors.New("no journal configured, set --journal")

// queue is the part of *journal.Journal the command uses.
type queue interface {
	PendingReview(ctx context.Context) ([]journal.Entry, error)
	MarkReviewed(ctx context.Context, id string) error
}

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review [flags]",
		Short: "list or acknowledge downloads that need manual review",
		Long:  longDesc,
		Args:  cobra.NoArgs,
		RunE:  runReviewCMD,
		Example: `  castfetch review --journal ~/.local/state/castfetch.db
  castfetch review --journal ~/.local/state/castfetch.db --ack 3f0c2f64-8a4e-4d7b-9b55-1f0f6b0d8f11`,
	}
	cmd.Flags().StringSlice(optname.Ack, nil, "Acknowledge the entries with these transfer IDs")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runReviewCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	j, err := cli.OpenJournal()
	if err != nil {
		return err
	}
	if j == nil {
		return ErrNoJournal
	}
	defer j.Close()

	ids, err := cmd.Flags().GetStringSlice(optname.Ack)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return acknowledge(cmd.Context(), j, ids, cmd.OutOrStdout())
	}
	return list(cmd.Context(), j, cmd.OutOrStdout())
}

func acknowledge(ctx context.Context, q queue, ids []string, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		if err := q.MarkReviewed(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "acknowledged %s\n", id)
	}
	return errors.Join(errs...)
}

func list(ctx context.Context, q queue, w io.Writer) error {
	entries, err := q.PendingReview(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "nothing to review")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tSIZE\tDEST\tDIAGNOSTIC")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			humanize.Time(e.RecordedAt),
			humanize.IBytes(uint64(max(e.BytesOnDisk, 0))),
			e.Dest,
			e.Diagnostic,
		)
	}
	return tw.Flush()
}
