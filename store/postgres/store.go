package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	vaultstore "github.com/xraph/notevault/store"
)

// compile-time interface check
var _ vaultstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Commits claim the state row with a version compare-and-set before
// touching the note, so concurrent writers sharing the database serialize
// on that row. A failed note write releases the claim.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("notevault/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("notevault/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== State Store ====================

func (s *Store) CreateState(ctx context.Context, st *state.State) error {
	m := toStateModel(st)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("notevault/postgres: create state: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, ledgerID id.LedgerID) (*state.State, error) {
	m := new(stateModel)
	err := s.pg.NewSelect(m).
		Where("ledger_id = $1", ledgerID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notevault.ErrStateNotFound
		}
		return nil, err
	}
	return fromStateModel(m)
}

// ==================== Note Store ====================

func (s *Store) GetNote(ctx context.Context, ledgerID id.LedgerID, noteID uint64) (*note.Note, error) {
	m := new(noteModel)
	err := s.pg.NewSelect(m).
		Where("ledger_id = $1", ledgerID.String()).
		Where("id = $2", int64(noteID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notevault.ErrNoteNotFound
		}
		return nil, err
	}
	return fromNoteModel(m)
}

func (s *Store) ListNotes(ctx context.Context, ledgerID id.LedgerID, opts note.ListOpts) ([]*note.Note, error) {
	var models []noteModel
	q := s.pg.NewSelect(&models).Where("ledger_id = $1", ledgerID.String())

	switch opts.Status {
	case note.StatusUnspent:
		q = q.Where("spent = $2", false)
	case note.StatusSpent:
		q = q.Where("spent = $2", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*note.Note, len(models))
	for i := range models {
		n, err := fromNoteModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = n
	}
	return result, nil
}

func (s *Store) CountUnspent(ctx context.Context, ledgerID id.LedgerID) (uint64, error) {
	var count int64
	err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM notevault_notes
		WHERE ledger_id = $1 AND NOT spent
	`, ledgerID.String()).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// ==================== Commits ====================

func (s *Store) CommitDeposit(ctx context.Context, n *note.Note, next *state.State) error {
	if err := s.claim(ctx, next); err != nil {
		return err
	}

	if _, err := s.pg.NewInsert(toNoteModel(n)).Exec(ctx); err != nil {
		prev := next.Clone()
		prev.NextNoteID--
		prev.TotalLocked = next.TotalLocked.Sub(n.Amount)
		return s.release(ctx, next, prev, fmt.Errorf("notevault/postgres: insert note %d: %w", n.ID, err))
	}
	return nil
}

func (s *Store) CommitWithdrawal(ctx context.Context, n *note.Note, next *state.State) error {
	current, err := s.GetNote(ctx, n.LedgerID, n.ID)
	if err != nil {
		return err
	}
	if current.Spent {
		return fmt.Errorf("notevault/postgres: note %d already spent: %w", n.ID, notevault.ErrConflict)
	}

	if err := s.claim(ctx, next); err != nil {
		return err
	}

	res, err := s.pg.NewUpdate((*noteModel)(nil)).
		Set("spent = $1", true).
		Set("amount = $2", n.Amount.String()).
		Set("recipient = $3", n.Recipient.String()).
		Set("spent_at = $4", n.SpentAt).
		Set("updated_at = $5", n.UpdatedAt).
		Where("ledger_id = $6", n.LedgerID.String()).
		Where("id = $7", int64(n.ID)).
		Where("NOT spent").
		Exec(ctx)
	if err == nil {
		var rows int64
		rows, err = res.RowsAffected()
		if err == nil && rows == 0 {
			err = notevault.ErrConflict
		}
	}
	if err != nil {
		prev := next.Clone()
		prev.TotalLocked = next.TotalLocked.Add(current.Amount)
		return s.release(ctx, next, prev, fmt.Errorf("notevault/postgres: spend note %d: %w", n.ID, err))
	}
	return nil
}

// claim advances the state row to next if it still holds next.PrevVersion().
func (s *Store) claim(ctx context.Context, next *state.State) error {
	res, err := s.pg.NewUpdate((*stateModel)(nil)).
		Set("next_note_id = $1", int64(next.NextNoteID)).
		Set("total_locked = $2", next.TotalLocked.String()).
		Set("version = $3", int64(next.Version)).
		Set("updated_at = $4", next.UpdatedAt).
		Where("ledger_id = $5", next.LedgerID.String()).
		Where("version = $6", int64(next.PrevVersion())).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("notevault/postgres: claim state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("notevault/postgres: state moved past version %d: %w",
			next.PrevVersion(), notevault.ErrConflict)
	}
	return nil
}

// release puts prev back after a failed note write and returns cause.
func (s *Store) release(ctx context.Context, next, prev *state.State, cause error) error {
	prev.Version = next.PrevVersion()
	prev.UpdatedAt = now()
	_, err := s.pg.NewUpdate((*stateModel)(nil)).
		Set("next_note_id = $1", int64(prev.NextNoteID)).
		Set("total_locked = $2", prev.TotalLocked.String()).
		Set("version = $3", int64(prev.Version)).
		Set("updated_at = $4", prev.UpdatedAt).
		Where("ledger_id = $5", next.LedgerID.String()).
		Where("version = $6", int64(next.Version)).
		Exec(ctx)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("notevault/postgres: release state: %w", err))
	}
	return cause
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
