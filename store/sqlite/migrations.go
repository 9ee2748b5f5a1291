package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the notevault store (SQLite).
var Migrations = migrate.NewGroup("notevault")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_notevault_states",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS notevault_states (
    ledger_id     TEXT PRIMARY KEY,
    denomination  TEXT NOT NULL,
    next_note_id  INTEGER NOT NULL DEFAULT 0,
    total_locked  TEXT NOT NULL DEFAULT '0',
    version       INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS notevault_states`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_notevault_notes",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS notevault_notes (
    ledger_id     TEXT NOT NULL REFERENCES notevault_states (ledger_id),
    id            INTEGER NOT NULL,
    commitment    TEXT NOT NULL DEFAULT '',
    amount        TEXT NOT NULL,
    denomination  TEXT NOT NULL,
    spent         INTEGER NOT NULL DEFAULT 0,
    recipient     TEXT NOT NULL DEFAULT '',
    spent_at      TEXT,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (ledger_id, id),
    CHECK (spent = 0 OR amount = '0')
);

CREATE INDEX IF NOT EXISTS idx_notevault_notes_unspent ON notevault_notes (ledger_id, spent);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS notevault_notes`)
				return err
			},
		},
	)
}
