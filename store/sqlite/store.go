package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	vaultstore "github.com/xraph/notevault/store"
)

// compile-time interface check
var _ vaultstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// A commit first claims the state row by advancing its version with a
// compare-and-set. Only the claimant can then write the note; should that
// write fail, the claim is released by restoring the previous state row.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("notevault/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("notevault/sqlite: migration failed: %w", err)
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
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("notevault/sqlite: create state: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, ledgerID id.LedgerID) (*state.State, error) {
	m := new(stateModel)
	err := s.sdb.NewSelect(m).
		Where("ledger_id = ?", ledgerID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("ledger_id = ?", ledgerID.String()).
		Where("id = ?", int64(noteID)).
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
	q := s.sdb.NewSelect(&models).Where("ledger_id = ?", ledgerID.String())

	switch opts.Status {
	case note.StatusUnspent:
		q = q.Where("spent = ?", false)
	case note.StatusSpent:
		q = q.Where("spent = ?", true)
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
	err := s.sdb.NewRaw(`
		SELECT COUNT(*) FROM notevault_notes
		WHERE ledger_id = ? AND spent = 0
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

	if _, err := s.sdb.NewInsert(toNoteModel(n)).Exec(ctx); err != nil {
		prev := next.Clone()
		prev.NextNoteID--
		prev.TotalLocked = next.TotalLocked.Sub(n.Amount)
		return s.release(ctx, next, prev, fmt.Errorf("notevault/sqlite: insert note %d: %w", n.ID, err))
	}
	return nil
}

func (s *Store) CommitWithdrawal(ctx context.Context, n *note.Note, next *state.State) error {
	current, err := s.GetNote(ctx, n.LedgerID, n.ID)
	if err != nil {
		return err
	}
	if current.Spent {
		return fmt.Errorf("notevault/sqlite: note %d already spent: %w", n.ID, notevault.ErrConflict)
	}

	if err := s.claim(ctx, next); err != nil {
		return err
	}

	res, err := s.sdb.NewUpdate((*noteModel)(nil)).
		Set("spent = ?", true).
		Set("amount = ?", n.Amount.String()).
		Set("recipient = ?", n.Recipient.String()).
		Set("spent_at = ?", n.SpentAt).
		Set("updated_at = ?", n.UpdatedAt).
		Where("ledger_id = ?", n.LedgerID.String()).
		Where("id = ?", int64(n.ID)).
		Where("spent = ?", false).
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
		return s.release(ctx, next, prev, fmt.Errorf("notevault/sqlite: spend note %d: %w", n.ID, err))
	}
	return nil
}

// claim advances the state row to next if it still holds next.PrevVersion().
func (s *Store) claim(ctx context.Context, next *state.State) error {
	res, err := s.sdb.NewUpdate((*stateModel)(nil)).
		Set("next_note_id = ?", int64(next.NextNoteID)).
		Set("total_locked = ?", next.TotalLocked.String()).
		Set("version = ?", int64(next.Version)).
		Set("updated_at = ?", next.UpdatedAt).
		Where("ledger_id = ?", next.LedgerID.String()).
		Where("version = ?", int64(next.PrevVersion())).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("notevault/sqlite: claim state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("notevault/sqlite: state moved past version %d: %w",
			next.PrevVersion(), notevault.ErrConflict)
	}
	return nil
}

// release puts prev back after a failed note write and returns cause.
func (s *Store) release(ctx context.Context, next, prev *state.State, cause error) error {
	prev.Version = next.PrevVersion()
	prev.UpdatedAt = now()
	_, err := s.sdb.NewUpdate((*stateModel)(nil)).
		Set("next_note_id = ?", int64(prev.NextNoteID)).
		Set("total_locked = ?", prev.TotalLocked.String()).
		Set("version = ?", int64(prev.Version)).
		Set("updated_at = ?", prev.UpdatedAt).
		Where("ledger_id = ?", next.LedgerID.String()).
		Where("version = ?", int64(next.Version)).
		Exec(ctx)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("notevault/sqlite: release state: %w", err))
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
