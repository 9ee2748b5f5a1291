// Package note defines the unit of locked value held by a vault.
package note

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/types"
)

// Status is the lifecycle position of a note.
type Status string

const (
	StatusUnspent Status = "unspent"
	StatusSpent   Status = "spent"
)

// Note records one deposit. It is created unspent and transitions to spent
// exactly once; after that it never changes again.
type Note struct {
	types.Entity
	ID           uint64          `json:"id"`
	LedgerID     id.LedgerID     `json:"ledger_id"`
	Commitment   string          `json:"commitment"`
	Amount       decimal.Decimal `json:"amount"`
	Denomination string          `json:"denomination"`
	Spent        bool            `json:"spent"`
	Recipient    id.AccountID    `json:"recipient,omitempty"`
	SpentAt      *time.Time      `json:"spent_at,omitempty"`
}

// New builds an unspent note for a freshly absorbed deposit.
func New(ledgerID id.LedgerID, noteID uint64, commitment string, value types.Amount) *Note {
	return &Note{
		Entity:       types.NewEntity(),
		ID:           noteID,
		LedgerID:     ledgerID,
		Commitment:   commitment,
		Amount:       value.Value,
		Denomination: value.Denomination,
	}
}

// Status reports whether the note can still be withdrawn.
func (n *Note) Status() Status {
	if n.Spent {
		return StatusSpent
	}
	return StatusUnspent
}

// Value returns the currently withdrawable amount.
func (n *Note) Value() types.Amount {
	return types.NewAmount(n.Amount, n.Denomination)
}

// Clone returns a deep copy so callers never alias stored records.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	if n.SpentAt != nil {
		at := *n.SpentAt
		c.SpentAt = &at
	}
	return &c
}

// Spend stages the spend transition. The receiver is left untouched; the
// returned copy is marked spent with its amount zeroed.
func (n *Note) Spend(recipient id.AccountID, at time.Time) *Note {
	next := n.Clone()
	next.Spent = true
	next.Amount = decimal.Zero
	next.Recipient = recipient
	next.SpentAt = &at
	next.UpdatedAt = at
	return next
}

// Consistent reports whether the spent latch and amount agree: spent notes
// hold nothing, unspent notes hold a positive amount.
func (n *Note) Consistent() bool {
	if n.Spent {
		return n.Amount.IsZero()
	}
	return n.Amount.IsPositive()
}
