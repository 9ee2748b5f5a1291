package state

import (
	"context"

	"github.com/xraph/notevault/id"
)

// Store persists vault state rows. Updates are only performed through the
// aggregate store's commit methods.
type Store interface {
	CreateState(ctx context.Context, s *State) error
	GetState(ctx context.Context, ledgerID id.LedgerID) (*State, error)
}
