// Package state holds the persisted aggregate of a single vault: its
// identity, denomination, note counter and cached locked total.
package state

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/types"
)

// State is the aggregate row of a vault. Version increases by one on every
// committed deposit or withdrawal and is used by stores for optimistic
// concurrency.
type State struct {
	types.Entity
	LedgerID     id.LedgerID     `json:"ledger_id"`
	Denomination string          `json:"denomination"`
	NextNoteID   uint64          `json:"next_note_id"`
	TotalLocked  decimal.Decimal `json:"total_locked"`
	Version      uint64          `json:"version"`
}

// New returns the zero state of a freshly created vault.
func New(ledgerID id.LedgerID, denomination string) *State {
	return &State{
		Entity:       types.NewEntity(),
		LedgerID:     ledgerID,
		Denomination: types.Zero(denomination).Denomination,
		TotalLocked:  decimal.Zero,
	}
}

// Locked returns the cached total as an Amount.
func (s *State) Locked() types.Amount {
	return types.NewAmount(s.TotalLocked, s.Denomination)
}

// NoteCount is the number of notes ever issued, spent or not.
func (s *State) NoteCount() uint64 {
	return s.NextNoteID
}

// Clone returns a copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// AfterDeposit stages the state that results from absorbing amount into a
// new note. The receiver is not modified.
func (s *State) AfterDeposit(amount decimal.Decimal, at time.Time) *State {
	next := s.Clone()
	next.NextNoteID++
	next.TotalLocked = s.TotalLocked.Add(amount)
	next.Version++
	next.UpdatedAt = at
	return next
}

// AfterWithdrawal stages the state that results from releasing amount. The
// receiver is not modified.
func (s *State) AfterWithdrawal(amount decimal.Decimal, at time.Time) *State {
	next := s.Clone()
	next.TotalLocked = s.TotalLocked.Sub(amount)
	next.Version++
	next.UpdatedAt = at
	return next
}

// PrevVersion is the version a store must find in place before applying
// this state.
func (s *State) PrevVersion() uint64 {
	if s.Version == 0 {
		return 0
	}
	return s.Version - 1
}
