package mongo

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

	LedgerID     string    `grove:"ledger_id,pk"  bson:"_id"`
	Denomination string    `grove:"denomination"  bson:"denomination"`
	NextNoteID   int64     `grove:"next_note_id"  bson:"next_note_id"`
	TotalLocked  string    `grove:"total_locked"  bson:"total_locked"`
	Version      int64     `grove:"version"       bson:"version"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
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
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		LedgerID:     ledgerID,
		Denomination: m.Denomination,
		NextNoteID:   uint64(m.NextNoteID),
		TotalLocked:  total,
		Version:      uint64(m.Version),
	}, nil
}

// ==================== Note models ====================

// noteModel is keyed by "<ledger>/<id>" so a note's document ID is unique
// across every ledger sharing the collection.
type noteModel struct {
	grove.BaseModel `grove:"table:notevault_notes"`

	Key          string     `grove:"key,pk"        bson:"_id"`
	LedgerID     string     `grove:"ledger_id"     bson:"ledger_id"`
	NoteID       int64      `grove:"note_id"       bson:"note_id"`
	Commitment   string     `grove:"commitment"    bson:"commitment"`
	Amount       string     `grove:"amount"        bson:"amount"`
	Denomination string     `grove:"denomination"  bson:"denomination"`
	Spent        bool       `grove:"spent"         bson:"spent"`
	Recipient    string     `grove:"recipient"     bson:"recipient,omitempty"`
	SpentAt      *time.Time `grove:"spent_at"      bson:"spent_at,omitempty"`
	CreatedAt    time.Time  `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"    bson:"updated_at"`
}

func noteKey(ledgerID id.LedgerID, noteID uint64) string {
	return fmt.Sprintf("%s/%d", ledgerID.String(), noteID)
}

func toNoteModel(n *note.Note) *noteModel {
	m := &noteModel{
		Key:          noteKey(n.LedgerID, n.ID),
		LedgerID:     n.LedgerID.String(),
		NoteID:       int64(n.ID),
		Commitment:   n.Commitment,
		Amount:       n.Amount.String(),
		Denomination: n.Denomination,
		Spent:        n.Spent,
		SpentAt:      n.SpentAt,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
	if !n.Recipient.IsNil() {
		m.Recipient = n.Recipient.String()
	}
	return m
}

func fromNoteModel(m *noteModel) (*note.Note, error) {
	ledgerID, err := id.ParseLedgerID(m.LedgerID)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("note %d amount %q: %w", m.NoteID, m.Amount, err)
	}

	var recipient id.AccountID
	if m.Recipient != "" {
		recipient, err = id.ParseAccountID(m.Recipient)
		if err != nil {
			return nil, err
		}
	}

	return &note.Note{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           uint64(m.NoteID),
		LedgerID:     ledgerID,
		Commitment:   m.Commitment,
		Amount:       amount,
		Denomination: m.Denomination,
		Spent:        m.Spent,
		Recipient:    recipient,
		SpentAt:      m.SpentAt,
	}, nil
}
