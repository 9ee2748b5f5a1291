package sqlite

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	"github.com/xraph/notevault/types"
)

// ==================== State models ====================

type stateModel struct {
	grove.BaseModel `grove:"table:notevault_states"`

	LedgerID     string    `grove:"ledger_id,pk"`
	Denomination string    `grove:"denomination"`
	NextNoteID   int64     `grove:"next_note_id"`
	TotalLocked  string    `grove:"total_locked"`
	Version      int64     `grove:"version"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toStateModel(s *state.State) *stateModel {
	return &stateModel{
		LedgerID:     s.LedgerID.String(),
		Denomination: s.Denomination,
		NextNoteID:   int64(s.NextNoteID),
		TotalLocked:  s.TotalLocked.String(),
		Version:      int64(s.Version),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func fromStateModel(m *stateModel) (*state.State, error) {
	ledgerID, err := id.ParseLedgerID(m.LedgerID)
	if err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(m.TotalLocked)
	if err != nil {
		return nil, fmt.Errorf("total_locked %q: %w", m.TotalLocked, err)
	}

	return &state.State{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		LedgerID:     ledgerID,
		Denomination: m.Denomination,
		NextNoteID:   uint64(m.NextNoteID),
		TotalLocked:  total,
		Version:      uint64(m.Version),
	}, nil
}

// ==================== Note models ====================

type noteModel struct {
	grove.BaseModel `grove:"table:notevault_notes"`

	LedgerID     string     `grove:"ledger_id,pk"`
	ID           int64      `grove:"id,pk"`
	Commitment   string     `grove:"commitment"`
	Amount       string     `grove:"amount"`
	Denomination string     `grove:"denomination"`
	Spent        bool       `grove:"spent"`
	Recipient    string     `grove:"recipient"`
	SpentAt      *time.Time `grove:"spent_at"`
	CreatedAt    time.Time  `grove:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"`
}

func toNoteModel(n *note.Note) *noteModel {
	return &noteModel{
		LedgerID:     n.LedgerID.String(),
		ID:           int64(n.ID),
		Commitment:   n.Commitment,
		Amount:       n.Amount.String(),
		Denomination: n.Denomination,
		Spent:        n.Spent,
		Recipient:    n.Recipient.String(),
		SpentAt:      n.SpentAt,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func fromNoteModel(m *noteModel) (*note.Note, error) {
	ledgerID, err := id.ParseLedgerID(m.LedgerID)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("note %d amount %q: %w", m.ID, m.Amount, err)
	}

	var recipient id.AccountID
	if m.Recipient != "" {
		recipient, err = id.ParseAccountID(m.Recipient)
		if err != nil {
			return nil, err
		}
	}

	return &note.Note{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           uint64(m.ID),
		LedgerID:     ledgerID,
		Commitment:   m.Commitment,
		Amount:       amount,
		Denomination: m.Denomination,
		Spent:        m.Spent,
		Recipient:    recipient,
		SpentAt:      m.SpentAt,
	}, nil
}
