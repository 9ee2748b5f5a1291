package note

import (
	"context"

	"github.com/xraph/notevault/id"
)

// Store is the read side of note persistence. Writes happen only through
// the aggregate store's commit methods so that a note and the ledger state
// always move together.
type Store interface {
	GetNote(ctx context.Context, ledgerID id.LedgerID, noteID uint64) (*Note, error)
	ListNotes(ctx context.Context, ledgerID id.LedgerID, opts ListOpts) ([]*Note, error)
	CountUnspent(ctx context.Context, ledgerID id.LedgerID) (uint64, error)
}

// ListOpts filters and pages a note listing. Results are ordered by ID.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
