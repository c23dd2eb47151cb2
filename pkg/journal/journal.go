package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/castfetch/castfetch/pkg/transfer"
)

var ErrNotFound = errors.New("journal entry not found")

// Entry is one recorded transfer outcome.
type Entry struct {
	ID          string
	URL         string
	Dest        string
	Outcome     string
	Failure     string
	Diagnostic  string
	BytesOnDisk int64
	Attempts    int
	Stamped     bool
	NeedsReview bool
	Published   time.Time
	RecordedAt  time.Time
	ReviewedAt  time.Time
}

// Journal is a SQLite log of transfer outcomes. Rows flagged NeedsReview form
// the operator's review queue until they are acknowledged.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open creates the database file (and its directory) if needed and migrates
// the schema. path may be ":memory:".
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One writer at a time, and an in-memory database only exists on the
	// connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	j := &Journal{db: db, logger: logger, now: time.Now}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug().Str("path", path).Msg("Journal opened")
	return j, nil
}

func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// Record stores the outcome of one transfer.
func (j *Journal) Record(ctx context.Context, req transfer.Request, res transfer.Result) error {
	const query = `
		INSERT INTO transfers (
			id, url, dest, outcome, failure, diagnostic, bytes_on_disk,
			attempts, stamped, needs_review, published, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var published sql.NullTime
	if !req.ExpectedModTime.IsZero() {
		published = sql.NullTime{Time: req.ExpectedModTime.UTC(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, query,
		res.ID, req.URL, req.Dest, res.Outcome.String(), res.Failure.String(), res.Diagnostic,
		res.BytesOnDisk, res.Attempts, res.Stamped, res.NeedsReview, published, j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer %s: %w", res.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, url, dest, outcome, failure, diagnostic, bytes_on_disk, attempts,
	       stamped, needs_review, published, recorded_at, reviewed_at
	FROM transfers
`

// PendingReview lists unacknowledged NeedsReview entries, oldest first.
func (j *Journal) PendingReview(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectColumns+`
		WHERE needs_review = 1 AND reviewed_at IS NULL
		ORDER BY recorded_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review queue: %w", err)
	}
	return entries, nil
}

// Get returns a single entry by transfer ID.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	entry, err := scanEntry(j.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, err
}

// MarkReviewed removes an entry from the review queue.
func (j *Journal) MarkReviewed(ctx context.Context, id string) error {
	result, err := j.db.ExecContext(ctx,
		"UPDATE transfers SET reviewed_at = ? WHERE id = ? AND needs_review = 1 AND reviewed_at IS NULL",
		j.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update transfer %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.logger.Info().Str("transfer_id", id).Msg("Marked reviewed")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry      Entry
		published  sql.NullTime
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&entry.ID, &entry.URL, &entry.Dest, &entry.Outcome, &entry.Failure, &entry.Diagnostic,
		&entry.BytesOnDisk, &entry.Attempts, &entry.Stamped, &entry.NeedsReview,
		&published, &entry.RecordedAt, &reviewedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan transfer: %w", err)
	}
	entry.Published = published.Time
	entry.ReviewedAt = reviewedAt.Time
	return entry, nil
}
