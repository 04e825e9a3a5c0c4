package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the journal DDL.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		max_active  INTEGER NOT NULL,
		max_waiting INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind    TEXT NOT NULL,
		task    TEXT NOT NULL DEFAULT '',
		state   TEXT NOT NULL DEFAULT '',
		slot    INTEGER NOT NULL DEFAULT -1,
		detail  TEXT NOT NULL DEFAULT '',
		at      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
}

// alterStatements are column additions for journals created by older
// releases. SQLite has no IF NOT EXISTS for ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string
}{
	{
		table:    "events",
		column:   "slot",
		alterSQL: "ALTER TABLE events ADD COLUMN slot INTEGER NOT NULL DEFAULT -1",
	},
	{
		table:    "events",
		column:   "kind",
		alterSQL: "ALTER TABLE events ADD COLUMN kind TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind)",
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
