// Package script is a thin convenience layer over a notevault.Ledger. Every
// method forwards to the ledger unchanged, at most filling in a default for
// an omitted argument. It holds no state of its own and validates nothing;
// all rules are enforced by the ledger.
package script

import (
	"context"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/custody"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/store/memory"
	"github.com/xraph/notevault/types"
)

// Scripts wraps an existing ledger.
type Scripts struct {
	ledger *notevault.Ledger
}

// New wraps an already constructed ledger.
func New(l *notevault.Ledger) *Scripts {
	return &Scripts{ledger: l}
}

// InstantiateWithNewLedger creates a ledger backed by a memory store,
// starts it, and wraps it.
func InstantiateWithNewLedger(ctx context.Context, opts ...notevault.Option) (*notevault.Ledger, *Scripts, error) {
	l := notevault.New(memory.New(), opts...)
	if err := l.Start(ctx); err != nil {
		return nil, nil, err
	}
	return l, New(l), nil
}

// Deposit forwards to Ledger.Deposit.
func (s *Scripts) Deposit(ctx context.Context, payment *custody.Bucket, commitment string) (uint64, error) {
	return s.ledger.Deposit(ctx, payment, commitment)
}

// DepositWithEmptyCommitment deposits with an empty commitment string.
func (s *Scripts) DepositWithEmptyCommitment(ctx context.Context, payment *custody.Bucket) (uint64, error) {
	return s.ledger.Deposit(ctx, payment, "")
}

// Withdraw forwards to Ledger.Withdraw.
func (s *Scripts) Withdraw(ctx context.Context, noteID uint64, recipient id.AccountID) (*custody.Bucket, error) {
	return s.ledger.Withdraw(ctx, noteID, recipient)
}

// WithdrawToCaller withdraws to the account carried by ctx (see
// notevault.WithCaller). Without one the ledger rejects the call with
// notevault.ErrInvalidRecipient.
func (s *Scripts) WithdrawToCaller(ctx context.Context, noteID uint64) (*custody.Bucket, error) {
	caller, _ := notevault.CallerFrom(ctx)
	return s.ledger.Withdraw(ctx, noteID, caller)
}

// TotalLocked forwards to Ledger.TotalLocked.
func (s *Scripts) TotalLocked(ctx context.Context) types.Amount {
	return s.ledger.TotalLocked(ctx)
}

// NoteCount forwards to Ledger.NoteCount.
func (s *Scripts) NoteCount(ctx context.Context) uint64 {
	return s.ledger.NoteCount(ctx)
}

// Stats forwards to Ledger.Stats.
func (s *Scripts) Stats(ctx context.Context) (types.Amount, uint64) {
	return s.ledger.Stats(ctx)
}

// NoteMetadata forwards to Ledger.NoteMetadata.
func (s *Scripts) NoteMetadata(ctx context.Context, noteID uint64) (*note.Note, bool, error) {
	return s.ledger.NoteMetadata(ctx, noteID)
}

// UnspentCount forwards to Ledger.UnspentCount.
func (s *Scripts) UnspentCount(ctx context.Context) (uint64, error) {
	return s.ledger.UnspentCount(ctx)
}

// Underlying returns the wrapped ledger.
func (s *Scripts) Underlying() *notevault.Ledger {
	return s.ledger
}

// UnderlyingID returns the wrapped ledger's address.
func (s *Scripts) UnderlyingID() id.LedgerID {
	return s.ledger.ID()
}
