// Package event defines the notifications a vault emits. Delivery is
// fire-and-forget: sinks receive these through the plugin registry and a
// failing sink never affects the call that produced the event.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/types"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindDepositRecorded    Kind = "deposit.recorded"
	KindWithdrawalRecorded Kind = "withdrawal.recorded"
	KindCallRejected       Kind = "call.rejected"
	KindInvariantViolated  Kind = "invariant.violated"
)

// Event is implemented by every notification type.
type Event interface {
	EventKind() Kind
	EventID() id.EventID
	Ledger() id.LedgerID
}

// DepositRecorded is emitted after a deposit commits. It carries the
// configured commitment marker, never the commitment itself.
type DepositRecorded struct {
	ID               id.EventID   `json:"id"`
	LedgerID         id.LedgerID  `json:"ledger_id"`
	NoteID           uint64       `json:"note_id"`
	Amount           types.Amount `json:"amount"`
	CommitmentMarker string       `json:"commitment_marker"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

func (e *DepositRecorded) EventKind() Kind     { return KindDepositRecorded }
func (e *DepositRecorded) EventID() id.EventID { return e.ID }
func (e *DepositRecorded) Ledger() id.LedgerID { return e.LedgerID }

// WithdrawalRecorded is emitted after a withdrawal commits.
type WithdrawalRecorded struct {
	ID         id.EventID   `json:"id"`
	LedgerID   id.LedgerID  `json:"ledger_id"`
	NoteID     uint64       `json:"note_id"`
	Amount     types.Amount `json:"amount"`
	Recipient  id.AccountID `json:"recipient"`
	OccurredAt time.Time    `json:"occurred_at"`
}

func (e *WithdrawalRecorded) EventKind() Kind     { return KindWithdrawalRecorded }
func (e *WithdrawalRecorded) EventID() id.EventID { return e.ID }
func (e *WithdrawalRecorded) Ledger() id.LedgerID { return e.LedgerID }

// CallRejected is emitted when a deposit or withdrawal is refused. The
// rejected call had no effect on the vault.
type CallRejected struct {
	ID         id.EventID  `json:"id"`
	LedgerID   id.LedgerID `json:"ledger_id"`
	Operation  string      `json:"operation"`
	NoteID     *uint64     `json:"note_id,omitempty"`
	ErrorKind  string      `json:"error_kind"`
	Reason     string      `json:"reason"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e *CallRejected) EventKind() Kind     { return KindCallRejected }
func (e *CallRejected) EventID() id.EventID { return e.ID }
func (e *CallRejected) Ledger() id.LedgerID { return e.LedgerID }

// InvariantViolated is emitted when the accounting cross-check fails. It
// signals corrupted internal state, not a caller mistake.
type InvariantViolated struct {
	ID          id.EventID   `json:"id"`
	LedgerID    id.LedgerID  `json:"ledger_id"`
	Operation   string       `json:"operation"`
	TotalLocked types.Amount `json:"total_locked"`
	Observed    types.Amount `json:"observed"`
	Detail      string       `json:"detail"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

func (e *InvariantViolated) EventKind() Kind     { return KindInvariantViolated }
func (e *InvariantViolated) EventID() id.EventID { return e.ID }
func (e *InvariantViolated) Ledger() id.LedgerID { return e.LedgerID }

// Envelope is the wire form used by publishers.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps e in an Envelope and marshals it.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.EventKind(), err)
	}
	return json.Marshal(Envelope{Kind: e.EventKind(), Payload: payload})
}

// Decode reverses Encode.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}

	var e Event
	switch env.Kind {
	case KindDepositRecorded:
		e = &DepositRecorded{}
	case KindWithdrawalRecorded:
		e = &WithdrawalRecorded{}
	case KindCallRejected:
		e = &CallRejected{}
	case KindInvariantViolated:
		e = &InvariantViolated{}
	default:
		return nil, fmt.Errorf("event: unknown kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", env.Kind, err)
	}
	return e, nil
}
