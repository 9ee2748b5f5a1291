package notevault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/notevault/custody"
	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/plugin"
	"github.com/xraph/notevault/state"
	"github.com/xraph/notevault/store"
	"github.com/xraph/notevault/types"
)

// DefaultCommitmentMarker is carried by deposit notifications in place of
// the commitment itself. Indexers correlate notes with off-system state by
// note ID, never by the commitment string.
const DefaultCommitmentMarker = "opaque:stored-off-chain"

// Ledger is a custodial note vault. It owns a pool of locked value and the
// notes that account for it. The sum of unspent note amounts, the cached
// total and the pool balance are always equal.
type Ledger struct {
	mu sync.RWMutex

	store   store.Store
	pool    custody.Pool
	plugins *plugin.Registry
	logger  *slog.Logger

	// Configuration
	ledgerID         id.LedgerID
	denomination     string
	denominationSet  bool
	commitmentMarker string
	reconcileOnStart bool
	skipMigrate      bool

	// snapshot is the last committed state; nil until Start.
	snapshot *state.State
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		denomination:     types.DefaultDenomination,
		commitmentMarker: DefaultCommitmentMarker,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds how long each plugin hook may run.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithPool supplies the custody pool. Without it Start creates an in-memory
// pool holding the recovered locked total.
func WithPool(p custody.Pool) Option {
	return func(l *Ledger) {
		l.pool = p
	}
}

// WithDenomination sets the single resource the vault accepts.
func WithDenomination(denomination string) Option {
	return func(l *Ledger) {
		l.denomination = types.Zero(denomination).Denomination
		l.denominationSet = true
	}
}

// WithLedgerID resumes the vault with the given ID. Without it Start
// creates a vault with a fresh ID.
func WithLedgerID(ledgerID id.LedgerID) Option {
	return func(l *Ledger) {
		l.ledgerID = ledgerID
	}
}

// WithCommitmentMarker replaces DefaultCommitmentMarker in deposit notifications.
func WithCommitmentMarker(marker string) Option {
	return func(l *Ledger) {
		l.commitmentMarker = marker
	}
}

// WithReconcileOnStart makes Start run Reconcile and fail on a mismatch.
func WithReconcileOnStart(enabled bool) Option {
	return func(l *Ledger) {
		l.reconcileOnStart = enabled
	}
}

// WithSkipMigrate makes Start assume the store schema already exists.
func WithSkipMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// Start migrates the store and loads the vault state, creating a zero state
// when none exists.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.snapshot != nil {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}

	st, err := l.load(ctx)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.snapshot = st

	var violation *event.InvariantViolated
	if l.reconcileOnStart {
		_, violation, err = l.reconcile(ctx)
		if err != nil {
			l.snapshot = nil
		}
	}
	l.mu.Unlock()

	if violation != nil {
		l.plugins.EmitInvariantViolated(ctx, violation)
	}
	if err != nil {
		return err
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	l.logger.Info("notevault started",
		"ledger_id", st.LedgerID.String(),
		"denomination", st.Denomination,
		"note_count", st.NextNoteID,
		"total_locked", st.TotalLocked.String(),
	)

	return nil
}

// load resolves the persisted state and the pool. Callers hold l.mu.
func (l *Ledger) load(ctx context.Context) (*state.State, error) {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("notevault: migrate: %w", err)
		}
	}

	if l.ledgerID.IsNil() {
		l.ledgerID = id.NewLedgerID()
	}

	st, err := l.store.GetState(ctx, l.ledgerID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		st = state.New(l.ledgerID, l.denomination)
		if err := l.store.CreateState(ctx, st); err != nil {
			return nil, fmt.Errorf("notevault: create state: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("notevault: load state: %w", err)
	case l.denominationSet && st.Denomination != l.denomination:
		return nil, fmt.Errorf("%w: vault %s holds %s, configured %s",
			ErrWrongDenomination, l.ledgerID, st.Denomination, l.denomination)
	}
	l.denomination = st.Denomination

	if l.pool == nil {
		l.pool = custody.NewPoolWithBalance(st.Locked())
	} else if l.pool.Denomination() != st.Denomination {
		return nil, fmt.Errorf("%w: pool holds %s, vault holds %s",
			ErrWrongDenomination, l.pool.Denomination(), st.Denomination)
	}

	return st, nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = nil

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Deposit
// ──────────────────────────────────────────────────

// Deposit absorbs payment into the pool and records a new unspent note
// carrying commitment. It returns the new note's ID, which is greater than
// every ID issued before. The payment bucket is consumed on success and
// untouched on rejection.
func (l *Ledger) Deposit(ctx context.Context, payment *custody.Bucket, commitment string) (uint64, error) {
	l.mu.Lock()
	recorded, violation, err := l.deposit(ctx, payment, commitment)
	l.mu.Unlock()

	if violation != nil {
		l.plugins.EmitInvariantViolated(ctx, violation)
	}
	if err != nil {
		l.rejected(ctx, "deposit", nil, err)
		return 0, err
	}

	l.plugins.EmitDepositRecorded(ctx, recorded)
	return recorded.NoteID, nil
}

// deposit validates, stages and commits a deposit. Callers hold l.mu.
func (l *Ledger) deposit(ctx context.Context, payment *custody.Bucket, commitment string) (*event.DepositRecorded, *event.InvariantViolated, error) {
	if l.snapshot == nil {
		return nil, nil, ErrNotStarted
	}
	if payment == nil {
		return nil, nil, ValidationError{Field: "payment", Message: "bucket is nil", Err: ErrInvalidInput}
	}
	if payment.Consumed() {
		return nil, nil, ErrBucketConsumed
	}

	amount := payment.Amount()
	if amount.Denomination != l.snapshot.Denomination {
		return nil, nil, fmt.Errorf("%w: got %s, want %s",
			ErrWrongDenomination, amount.Denomination, l.snapshot.Denomination)
	}
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: got %s", ErrNonPositiveAmount, amount)
	}

	// Stage
	now := time.Now().UTC()
	noteID := l.snapshot.NextNoteID
	n := note.New(l.snapshot.LedgerID, noteID, commitment, amount)
	n.CreatedAt, n.UpdatedAt = now, now
	next := l.snapshot.AfterDeposit(amount.Value, now)

	// Lock the value, then commit. A failed commit hands the value back.
	if err := l.pool.Put(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("notevault: pool refused payment: %w", err)
	}

	if err := l.store.CommitDeposit(ctx, n, next); err != nil {
		err = fmt.Errorf("notevault: commit deposit %d: %w", noteID, err)
		if violation, verr := l.refund(ctx, payment, amount, err); violation != nil {
			return nil, violation, verr
		}
		l.resync(ctx, err)
		return nil, nil, err
	}
	l.snapshot = next

	l.logger.Debug("deposit recorded",
		"ledger_id", next.LedgerID.String(),
		"note_id", noteID,
		"amount", amount.String(),
	)

	return &event.DepositRecorded{
		ID:               id.NewEventID(),
		LedgerID:         next.LedgerID,
		NoteID:           noteID,
		Amount:           amount,
		CommitmentMarker: l.commitmentMarker,
		OccurredAt:       now,
	}, nil, nil
}

// ──────────────────────────────────────────────────
// Withdraw
// ──────────────────────────────────────────────────

// Withdraw spends note noteID and returns its full value in a new bucket.
// A note can be withdrawn at most once. recipient is recorded on the note
// and in the withdrawal notification.
func (l *Ledger) Withdraw(ctx context.Context, noteID uint64, recipient id.AccountID) (*custody.Bucket, error) {
	l.mu.Lock()
	out, recorded, violation, err := l.withdraw(ctx, noteID, recipient)
	l.mu.Unlock()

	if violation != nil {
		l.plugins.EmitInvariantViolated(ctx, violation)
	}
	if err != nil {
		l.rejected(ctx, "withdraw", &noteID, err)
		return nil, err
	}

	l.plugins.EmitWithdrawalRecorded(ctx, recorded)
	return out, nil
}

// withdraw validates, stages and commits the spend transition. Callers hold l.mu.
func (l *Ledger) withdraw(ctx context.Context, noteID uint64, recipient id.AccountID) (*custody.Bucket, *event.WithdrawalRecorded, *event.InvariantViolated, error) {
	if l.snapshot == nil {
		return nil, nil, nil, ErrNotStarted
	}

	n, err := l.store.GetNote(ctx, l.snapshot.LedgerID, noteID)
	if errors.Is(err, ErrNoteNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrNoteNotFound, noteID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("notevault: load note %d: %w", noteID, err)
	}

	if n.Spent {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrNoteSpent, noteID)
	}
	if !n.Amount.IsPositive() {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrNoteEmpty, noteID)
	}

	amount := n.Value()
	if l.snapshot.TotalLocked.LessThan(amount.Value) {
		violation, verr := l.violation("withdraw", amount,
			fmt.Sprintf("total locked cannot cover note %d", noteID))
		return nil, nil, violation, verr
	}
	if balance := l.pool.Balance(ctx); balance.Value.LessThan(amount.Value) {
		violation, verr := l.violation("withdraw", balance,
			fmt.Sprintf("pool balance cannot cover note %d", noteID))
		return nil, nil, violation, verr
	}

	if recipient.IsNil() || !recipient.HasPrefix(id.PrefixAccount) {
		return nil, nil, nil, ValidationError{Field: "recipient", Message: "must be an account id", Err: ErrInvalidRecipient}
	}

	// Stage
	now := time.Now().UTC()
	spent := n.Spend(recipient, now)
	next := l.snapshot.AfterWithdrawal(amount.Value, now)

	// Release the value, then commit. A failed commit returns it to the pool.
	out, err := l.pool.Take(ctx, amount)
	if err != nil {
		violation, verr := l.violation("withdraw", l.pool.Balance(ctx),
			fmt.Sprintf("pool refused take for note %d: %v", noteID, err))
		return nil, nil, violation, verr
	}

	if err := l.store.CommitWithdrawal(ctx, spent, next); err != nil {
		err = fmt.Errorf("notevault: commit withdrawal %d: %w", noteID, err)
		if perr := l.pool.Put(ctx, out); perr != nil {
			violation, verr := l.violation("withdraw", l.pool.Balance(ctx),
				fmt.Sprintf("note %d value lost after failed commit (%v): %v", noteID, err, perr))
			return nil, nil, violation, verr
		}
		l.resync(ctx, err)
		return nil, nil, nil, err
	}
	l.snapshot = next

	l.logger.Debug("withdrawal recorded",
		"ledger_id", next.LedgerID.String(),
		"note_id", noteID,
		"amount", amount.String(),
		"recipient", recipient.String(),
	)

	return out, &event.WithdrawalRecorded{
		ID:         id.NewEventID(),
		LedgerID:   next.LedgerID,
		NoteID:     noteID,
		Amount:     amount,
		Recipient:  recipient,
		OccurredAt: now,
	}, nil, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// ID returns the vault's identifier, or the Nil ID before Start.
func (l *Ledger) ID() id.LedgerID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ledgerID
}

// Denomination returns the resource the vault accepts.
func (l *Ledger) Denomination() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.denomination
}

// TotalLocked returns the value currently locked across all unspent notes.
func (l *Ledger) TotalLocked(_ context.Context) types.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return types.Zero(l.denomination)
	}
	return l.snapshot.Locked()
}

// NoteCount returns the number of notes ever created, spent or not.
func (l *Ledger) NoteCount(_ context.Context) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return 0
	}
	return l.snapshot.NoteCount()
}

// Stats returns the total locked and the note count from the same
// committed state.
func (l *Ledger) Stats(_ context.Context) (types.Amount, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return types.Zero(l.denomination), 0
	}
	return l.snapshot.Locked(), l.snapshot.NoteCount()
}

// NoteMetadata looks up a note. The boolean is false when no note has
// that ID.
func (l *Ledger) NoteMetadata(ctx context.Context, noteID uint64) (*note.Note, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return nil, false, ErrNotStarted
	}

	n, err := l.store.GetNote(ctx, l.snapshot.LedgerID, noteID)
	if errors.Is(err, ErrNoteNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// UnspentCount counts unspent notes by scanning all of them. It is
// O(number of notes) and meant for diagnostics, not hot paths.
func (l *Ledger) UnspentCount(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return 0, ErrNotStarted
	}
	return l.store.CountUnspent(ctx, l.snapshot.LedgerID)
}

// ListNotes pages through the vault's notes in ID order.
func (l *Ledger) ListNotes(ctx context.Context, opts note.ListOpts) ([]*note.Note, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return nil, ErrNotStarted
	}
	return l.store.ListNotes(ctx, l.snapshot.LedgerID, opts)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// violation logs an accounting failure and builds the matching event.
// Callers hold l.mu.
func (l *Ledger) violation(op string, observed types.Amount, detail string) (*event.InvariantViolated, error) {
	var ledgerID id.LedgerID
	total := types.Zero(l.denomination)
	if l.snapshot != nil {
		ledgerID = l.snapshot.LedgerID
		total = l.snapshot.Locked()
	}

	l.logger.Error("notevault invariant violated",
		"ledger_id", ledgerID.String(),
		"operation", op,
		"total_locked", total.String(),
		"observed", observed.String(),
		"detail", detail,
	)

	return &event.InvariantViolated{
		ID:          id.NewEventID(),
		LedgerID:    ledgerID,
		Operation:   op,
		TotalLocked: total,
		Observed:    observed,
		Detail:      detail,
		OccurredAt:  time.Now().UTC(),
	}, fmt.Errorf("%w: %s", ErrInvariantViolation, detail)
}

// refund takes amount back out of the pool into payment after a failed
// deposit commit. It returns a violation when the pool keeps the value.
// Callers hold l.mu.
func (l *Ledger) refund(ctx context.Context, payment *custody.Bucket, amount types.Amount, cause error) (*event.InvariantViolated, error) {
	back, err := l.pool.Take(ctx, amount)
	if err == nil {
		err = payment.Refill(back)
	}
	if err != nil {
		return l.violation("deposit", l.pool.Balance(ctx),
			fmt.Sprintf("payment not returned after failed commit (%v): %v", cause, err))
	}
	return nil, nil
}

// resync reloads the snapshot when cause says another writer moved the
// stored state, so the next call stages from the current version.
// Callers hold l.mu.
func (l *Ledger) resync(ctx context.Context, cause error) {
	if !errors.Is(cause, ErrConflict) {
		return
	}
	st, err := l.store.GetState(ctx, l.snapshot.LedgerID)
	if err != nil {
		l.logger.Warn("notevault resync failed",
			"ledger_id", l.snapshot.LedgerID.String(),
			"error", err,
		)
		return
	}
	l.logger.Debug("notevault resynced",
		"ledger_id", st.LedgerID.String(),
		"version", st.Version,
	)
	l.snapshot = st
}

// rejected reports a refused call to plugins.
func (l *Ledger) rejected(ctx context.Context, op string, noteID *uint64, err error) {
	l.logger.Debug("notevault call rejected",
		"operation", op,
		"error", err,
	)

	l.plugins.EmitCallRejected(ctx, &event.CallRejected{
		ID:         id.NewEventID(),
		LedgerID:   l.ID(),
		Operation:  op,
		NoteID:     noteID,
		ErrorKind:  KindOf(err).String(),
		Reason:     err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}
