package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	vaultstore "github.com/xraph/notevault/store"
)

// Collection name constants.
const (
	colStates = "notevault_states"
	colNotes  = "notevault_notes"
)

// compile-time interface check
var _ vaultstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Commits follow the same claim-then-write protocol as the SQL stores:
// the state document is advanced with a version-filtered update, then the
// note document is written.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all notevault collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("notevault/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toStateModel(st)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("notevault/mongo: create state: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, ledgerID id.LedgerID) (*state.State, error) {
	var m stateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": ledgerID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notevault.ErrStateNotFound
		}
		return nil, fmt.Errorf("notevault/mongo: get state: %w", err)
	}
	return fromStateModel(&m)
}

// ==================== Note Store ====================

func (s *Store) GetNote(ctx context.Context, ledgerID id.LedgerID, noteID uint64) (*note.Note, error) {
	var m noteModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": noteKey(ledgerID, noteID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notevault.ErrNoteNotFound
		}
		return nil, fmt.Errorf("notevault/mongo: get note: %w", err)
	}
	return fromNoteModel(&m)
}

func (s *Store) ListNotes(ctx context.Context, ledgerID id.LedgerID, opts note.ListOpts) ([]*note.Note, error) {
	var models []noteModel

	filter := bson.M{"ledger_id": ledgerID.String()}
	switch opts.Status {
	case note.StatusUnspent:
		filter["spent"] = false
	case note.StatusSpent:
		filter["spent"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "note_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("notevault/mongo: list notes: %w", err)
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
	count, err := s.mdb.Collection(colNotes).CountDocuments(ctx, bson.M{
		"ledger_id": ledgerID.String(),
		"spent":     false,
	})
	if err != nil {
		return 0, fmt.Errorf("notevault/mongo: count unspent: %w", err)
	}
	return uint64(count), nil
}

// ==================== Commits ====================

func (s *Store) CommitDeposit(ctx context.Context, n *note.Note, next *state.State) error {
	if err := s.claim(ctx, next); err != nil {
		return err
	}

	if _, err := s.mdb.NewInsert(toNoteModel(n)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = errors.Join(err, notevault.ErrConflict)
		}
		prev := next.Clone()
		prev.NextNoteID--
		prev.TotalLocked = next.TotalLocked.Sub(n.Amount)
		return s.release(ctx, next, prev, fmt.Errorf("notevault/mongo: insert note %d: %w", n.ID, err))
	}
	return nil
}

func (s *Store) CommitWithdrawal(ctx context.Context, n *note.Note, next *state.State) error {
	current, err := s.GetNote(ctx, n.LedgerID, n.ID)
	if err != nil {
		return err
	}
	if current.Spent {
		return fmt.Errorf("notevault/mongo: note %d already spent: %w", n.ID, notevault.ErrConflict)
	}

	if err := s.claim(ctx, next); err != nil {
		return err
	}

	res, err := s.mdb.NewUpdate((*noteModel)(nil)).
		Filter(bson.M{"_id": noteKey(n.LedgerID, n.ID), "spent": false}).
		Set("spent", true).
		Set("amount", n.Amount.String()).
		Set("recipient", n.Recipient.String()).
		Set("spent_at", n.SpentAt).
		Set("updated_at", n.UpdatedAt).
		Exec(ctx)
	if err == nil && res.MatchedCount() == 0 {
		err = notevault.ErrConflict
	}
	if err != nil {
		prev := next.Clone()
		prev.TotalLocked = next.TotalLocked.Add(current.Amount)
		return s.release(ctx, next, prev, fmt.Errorf("notevault/mongo: spend note %d: %w", n.ID, err))
	}
	return nil
}

// claim advances the state document to next if it still holds next.PrevVersion().
func (s *Store) claim(ctx context.Context, next *state.State) error {
	res, err := s.mdb.NewUpdate((*stateModel)(nil)).
		Filter(bson.M{"_id": next.LedgerID.String(), "version": int64(next.PrevVersion())}).
		Set("next_note_id", int64(next.NextNoteID)).
		Set("total_locked", next.TotalLocked.String()).
		Set("version", int64(next.Version)).
		Set("updated_at", next.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("notevault/mongo: claim state: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("notevault/mongo: state moved past version %d: %w",
			next.PrevVersion(), notevault.ErrConflict)
	}
	return nil
}

// release puts prev back after a failed note write and returns cause.
func (s *Store) release(ctx context.Context, next, prev *state.State, cause error) error {
	_, err := s.mdb.NewUpdate((*stateModel)(nil)).
		Filter(bson.M{"_id": next.LedgerID.String(), "version": int64(next.Version)}).
		Set("next_note_id", int64(prev.NextNoteID)).
		Set("total_locked", prev.TotalLocked.String()).
		Set("version", int64(next.PrevVersion())).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("notevault/mongo: release state: %w", err))
	}
	return cause
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all notevault collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStates: {
			{Keys: bson.D{{Key: "_id", Value: 1}, {Key: "version", Value: 1}}},
		},
		colNotes: {
			{
				Keys:    bson.D{{Key: "ledger_id", Value: 1}, {Key: "note_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "ledger_id", Value: 1}, {Key: "spent", Value: 1}}},
		},
	}
}
