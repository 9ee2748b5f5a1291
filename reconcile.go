package notevault

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/types"
)

// reconcilePageSize is the number of notes read per store round trip.
const reconcilePageSize = 500

// Report is the outcome of a Reconcile run.
type Report struct {
	LedgerID     id.LedgerID  `json:"ledger_id"`
	NoteCount    uint64       `json:"note_count"`
	UnspentNotes uint64       `json:"unspent_notes"`
	TotalLocked  types.Amount `json:"total_locked"`
	UnspentSum   types.Amount `json:"unspent_sum"`
	PoolBalance  types.Amount `json:"pool_balance"`
	Inconsistent []uint64     `json:"inconsistent,omitempty"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Balanced reports whether every accounting cross-check passed.
func (r *Report) Balanced() bool {
	return len(r.Inconsistent) == 0 &&
		r.UnspentSum.Equal(r.TotalLocked) &&
		r.PoolBalance.Equal(r.TotalLocked) &&
		r.NoteCount >= r.UnspentNotes
}

// Reconcile recomputes the unspent total from every stored note and checks
// it against the cached total and the pool balance. It also checks that
// each note's spent flag agrees with its amount. Any mismatch is an
// invariant violation: it is logged, reported to plugins and returned
// together with the report.
func (l *Ledger) Reconcile(ctx context.Context) (*Report, error) {
	l.mu.RLock()
	report, violation, err := l.reconcile(ctx)
	l.mu.RUnlock()

	if violation != nil {
		l.plugins.EmitInvariantViolated(ctx, violation)
	}
	return report, err
}

// reconcile does the work of Reconcile. Callers hold l.mu.
func (l *Ledger) reconcile(ctx context.Context) (*Report, *event.InvariantViolated, error) {
	if l.snapshot == nil {
		return nil, nil, ErrNotStarted
	}

	var (
		sum     = decimal.Zero
		unspent uint64
		scanned uint64
		bad     []uint64
	)
	for offset := 0; ; offset += reconcilePageSize {
		page, err := l.store.ListNotes(ctx, l.snapshot.LedgerID, note.ListOpts{
			Limit:  reconcilePageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("notevault: reconcile: %w", err)
		}
		for _, n := range page {
			scanned++
			if !n.Consistent() {
				bad = append(bad, n.ID)
			}
			if !n.Spent {
				unspent++
				sum = sum.Add(n.Amount)
			}
		}
		if len(page) < reconcilePageSize {
			break
		}
	}

	report := &Report{
		LedgerID:     l.snapshot.LedgerID,
		NoteCount:    l.snapshot.NoteCount(),
		UnspentNotes: unspent,
		TotalLocked:  l.snapshot.Locked(),
		UnspentSum:   types.NewAmount(sum, l.snapshot.Denomination),
		PoolBalance:  l.pool.Balance(ctx),
		Inconsistent: bad,
		CheckedAt:    time.Now().UTC(),
	}

	switch {
	case len(bad) > 0:
		violation, err := l.violation("reconcile", report.UnspentSum,
			fmt.Sprintf("%d notes disagree with their spent flag", len(bad)))
		return report, violation, err
	case scanned != report.NoteCount:
		violation, err := l.violation("reconcile", report.UnspentSum,
			fmt.Sprintf("store holds %d notes, counter says %d", scanned, report.NoteCount))
		return report, violation, err
	case !report.UnspentSum.Equal(report.TotalLocked):
		violation, err := l.violation("reconcile", report.UnspentSum,
			"unspent note sum differs from total locked")
		return report, violation, err
	case !report.PoolBalance.Equal(report.TotalLocked):
		violation, err := l.violation("reconcile", report.PoolBalance,
			"pool balance differs from total locked")
		return report, violation, err
	}

	l.logger.Debug("notevault reconciled",
		"ledger_id", report.LedgerID.String(),
		"unspent_notes", unspent,
		"total_locked", report.TotalLocked.String(),
	)
	return report, nil, nil
}
