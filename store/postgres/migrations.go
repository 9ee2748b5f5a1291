package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the notevault store.
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
    next_note_id  BIGINT NOT NULL DEFAULT 0,
    total_locked  NUMERIC NOT NULL DEFAULT 0 CHECK (total_locked >= 0),
    version       BIGINT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    id            BIGINT NOT NULL,
    commitment    TEXT NOT NULL DEFAULT '',
    amount        NUMERIC NOT NULL,
    denomination  TEXT NOT NULL,
    spent         BOOLEAN NOT NULL DEFAULT FALSE,
    recipient     TEXT NOT NULL DEFAULT '',
    spent_at      TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (ledger_id, id),
    CHECK ((spent AND amount = 0) OR (NOT spent AND amount > 0))
);

CREATE INDEX IF NOT EXISTS idx_notevault_notes_unspent ON notevault_notes (ledger_id) WHERE NOT spent;
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
