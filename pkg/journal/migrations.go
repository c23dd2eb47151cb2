package journal

import (
	"fmt"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
			CREATE TABLE transfers (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				dest TEXT NOT NULL,
				outcome TEXT NOT NULL,
				failure TEXT NOT NULL DEFAULT 'none',
				diagnostic TEXT NOT NULL DEFAULT '',
				bytes_on_disk INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0,
				stamped BOOLEAN NOT NULL DEFAULT 0,
				needs_review BOOLEAN NOT NULL DEFAULT 0,
				published DATETIME,
				recorded_at DATETIME NOT NULL,
				reviewed_at DATETIME
			);

			CREATE INDEX idx_transfers_review ON transfers(needs_review, reviewed_at);
			CREATE INDEX idx_transfers_dest ON transfers(dest);
		`,
	},
}

func (j *Journal) migrate() error {
	const createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := j.db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, mig := range migrations {
		if mig.version <= currentVersion {
			continue
		}
		j.logger.Debug().Int("version", mig.version).Msg("Running migration")
		if err := j.runMigration(mig.version, mig.sql); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
		}
	}
	return nil
}

func (j *Journal) runMigration(version int, query string) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}
