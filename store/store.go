package store

import (
	"context"

	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
)

// Store is the unified storage interface for vault state and notes.
//
// Notes and the state row only change together, through CommitDeposit and
// CommitWithdrawal. Each commit is all-or-nothing: either both records are
// written or neither is. The staged state carries the new Version; a store
// applies it only if the persisted version is next.PrevVersion() and returns
// notevault.ErrConflict otherwise.
type Store interface {
	// State methods
	CreateState(ctx context.Context, s *state.State) error
	GetState(ctx context.Context, ledgerID id.LedgerID) (*state.State, error)

	// Note methods
	GetNote(ctx context.Context, ledgerID id.LedgerID, noteID uint64) (*note.Note, error)
	ListNotes(ctx context.Context, ledgerID id.LedgerID, opts note.ListOpts) ([]*note.Note, error)
	CountUnspent(ctx context.Context, ledgerID id.LedgerID) (uint64, error)

	// Commit methods
	CommitDeposit(ctx context.Context, n *note.Note, next *state.State) error
	CommitWithdrawal(ctx context.Context, n *note.Note, next *state.State) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store covers the per-entity interfaces.
var (
	_ note.Store  = (Store)(nil)
	_ state.Store = (Store)(nil)
)
