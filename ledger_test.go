package notevault_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/custody"
	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	"github.com/xraph/notevault/store/memory"
	"github.com/xraph/notevault/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func xrd(units int64) types.Amount { return types.FromInt(units, "xrd") }

func bucket(units int64) *custody.Bucket { return custody.NewBucket(xrd(units)) }

// recorder captures every event the ledger emits.
type recorder struct {
	mu          sync.Mutex
	deposits    []*event.DepositRecorded
	withdrawals []*event.WithdrawalRecorded
	rejections  []*event.CallRejected
	violations  []*event.InvariantViolated
	inits       int
	shutdowns   int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnInit(_ context.Context, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	return nil
}

func (r *recorder) OnShutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
	return nil
}

func (r *recorder) OnDepositRecorded(_ context.Context, e *event.DepositRecorded) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deposits = append(r.deposits, e)
	return nil
}

func (r *recorder) OnWithdrawalRecorded(_ context.Context, e *event.WithdrawalRecorded) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawals = append(r.withdrawals, e)
	return nil
}

func (r *recorder) OnCallRejected(_ context.Context, e *event.CallRejected) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, e)
	return nil
}

func (r *recorder) OnInvariantViolated(_ context.Context, e *event.InvariantViolated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, e)
	return nil
}

func newLedger(t *testing.T, opts ...notevault.Option) (*notevault.Ledger, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]notevault.Option{
		notevault.WithLogger(quietLogger()),
		notevault.WithPlugin(rec),
	}, opts...)

	l := notevault.New(memory.New(), opts...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return l, rec
}

// snapshot captures the externally observable vault state.
type snapshot struct {
	count   uint64
	total   string
	unspent uint64
}

func observe(t *testing.T, l *notevault.Ledger) snapshot {
	t.Helper()
	ctx := context.Background()
	unspent, err := l.UnspentCount(ctx)
	if err != nil {
		t.Fatalf("UnspentCount: %v", err)
	}
	return snapshot{
		count:   l.NoteCount(ctx),
		total:   l.TotalLocked(ctx).String(),
		unspent: unspent,
	}
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	l, rec := newLedger(t)
	recipient := id.NewAccountID()

	// deposit(100, "c1")
	n0, err := l.Deposit(ctx, bucket(100), "c1")
	if err != nil {
		t.Fatalf("Deposit c1: %v", err)
	}
	if n0 != 0 {
		t.Errorf("first note id: got %d, want 0", n0)
	}
	if got := l.TotalLocked(ctx); !got.Equal(xrd(100)) {
		t.Errorf("TotalLocked: got %s, want 100 xrd", got)
	}

	// deposit(50, "c2")
	n1, err := l.Deposit(ctx, bucket(50), "c2")
	if err != nil {
		t.Fatalf("Deposit c2: %v", err)
	}
	if n1 != 1 {
		t.Errorf("second note id: got %d, want 1", n1)
	}
	if got := l.TotalLocked(ctx); !got.Equal(xrd(150)) {
		t.Errorf("TotalLocked: got %s, want 150 xrd", got)
	}

	// withdraw(0, R)
	out, err := l.Withdraw(ctx, 0, recipient)
	if err != nil {
		t.Fatalf("Withdraw 0: %v", err)
	}
	if !out.Amount().Equal(xrd(100)) {
		t.Errorf("withdrawn: got %s, want 100 xrd", out.Amount())
	}
	if got := l.TotalLocked(ctx); !got.Equal(xrd(50)) {
		t.Errorf("TotalLocked: got %s, want 50 xrd", got)
	}
	n, ok, err := l.NoteMetadata(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("NoteMetadata 0: ok=%v err=%v", ok, err)
	}
	if !n.Spent || !n.Amount.IsZero() {
		t.Errorf("note 0: spent=%v amount=%s, want spent with 0", n.Spent, n.Amount)
	}

	// withdraw(0, R) again
	if _, err := l.Withdraw(ctx, 0, recipient); !notevault.IsInvalidState(err) {
		t.Errorf("second withdraw: got %v, want InvalidState", err)
	}
	if got := l.TotalLocked(ctx); !got.Equal(xrd(50)) {
		t.Errorf("TotalLocked after rejected withdraw: got %s, want 50 xrd", got)
	}

	// note_metadata(1)
	n, ok, err = l.NoteMetadata(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("NoteMetadata 1: ok=%v err=%v", ok, err)
	}
	if n.Commitment != "c2" || !n.Amount.Equal(decimal.NewFromInt(50)) || n.Spent {
		t.Errorf("note 1: got {%s %s %v}, want {c2 50 false}", n.Commitment, n.Amount, n.Spent)
	}

	// unspent_count()
	unspent, err := l.UnspentCount(ctx)
	if err != nil {
		t.Fatalf("UnspentCount: %v", err)
	}
	if unspent != 1 {
		t.Errorf("UnspentCount: got %d, want 1", unspent)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deposits) != 2 || len(rec.withdrawals) != 1 || len(rec.rejections) != 1 {
		t.Errorf("events: deposits=%d withdrawals=%d rejections=%d, want 2/1/1",
			len(rec.deposits), len(rec.withdrawals), len(rec.rejections))
	}
	if rec.deposits[0].CommitmentMarker != notevault.DefaultCommitmentMarker {
		t.Errorf("commitment marker: got %q", rec.deposits[0].CommitmentMarker)
	}
	if rec.withdrawals[0].Recipient.String() != recipient.String() || !rec.withdrawals[0].Amount.Equal(xrd(100)) {
		t.Errorf("withdrawal event: got %+v", rec.withdrawals[0])
	}
	if rec.rejections[0].ErrorKind != notevault.KindInvalidState.String() {
		t.Errorf("rejection kind: got %s", rec.rejections[0].ErrorKind)
	}
}

func TestTotalLockedIsExactSum(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	amounts := []string{"0.1", "0.2", "1000000000000.000000000001", "7", "0.3"}
	want := decimal.Zero
	for _, a := range amounts {
		if _, err := l.Deposit(ctx, custody.NewBucket(types.MustParse(a, "xrd")), ""); err != nil {
			t.Fatalf("Deposit %s: %v", a, err)
		}
		want = want.Add(decimal.RequireFromString(a))
	}

	if got := l.TotalLocked(ctx); !got.Value.Equal(want) {
		t.Errorf("TotalLocked: got %s, want %s", got.Value, want)
	}
}

func TestNoteIDsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	var last uint64
	for i := 0; i < 20; i++ {
		noteID, err := l.Deposit(ctx, bucket(int64(i+1)), "")
		if err != nil {
			t.Fatalf("Deposit %d: %v", i, err)
		}
		if i > 0 && noteID <= last {
			t.Fatalf("note id %d not greater than previous %d", noteID, last)
		}
		last = noteID

		if i%3 == 0 {
			if _, err := l.Withdraw(ctx, noteID, id.NewAccountID()); err != nil {
				t.Fatalf("Withdraw %d: %v", noteID, err)
			}
		}
	}
	if got := l.NoteCount(ctx); got != 20 {
		t.Errorf("NoteCount: got %d, want 20", got)
	}
}

func TestWithdrawReturnsDepositedAmount(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	deposits := map[uint64]types.Amount{}
	for _, a := range []string{"12.5", "0.001", "300"} {
		amt := types.MustParse(a, "xrd")
		noteID, err := l.Deposit(ctx, custody.NewBucket(amt), "")
		if err != nil {
			t.Fatalf("Deposit: %v", err)
		}
		deposits[noteID] = amt
	}

	for noteID, amt := range deposits {
		before := l.TotalLocked(ctx)
		out, err := l.Withdraw(ctx, noteID, id.NewAccountID())
		if err != nil {
			t.Fatalf("Withdraw %d: %v", noteID, err)
		}
		if !out.Amount().Equal(amt) {
			t.Errorf("note %d: withdrew %s, want %s", noteID, out.Amount(), amt)
		}
		if got := l.TotalLocked(ctx); !got.Equal(before.Subtract(amt)) {
			t.Errorf("note %d: TotalLocked %s, want %s", noteID, got, before.Subtract(amt))
		}
	}

	if !l.TotalLocked(ctx).IsZero() {
		t.Errorf("TotalLocked after draining: got %s", l.TotalLocked(ctx))
	}
	if got := l.NoteCount(ctx); got != 3 {
		t.Errorf("NoteCount must not drop on withdrawal: got %d", got)
	}
}

func TestDepositRejectionsLeaveNoTrace(t *testing.T) {
	ctx := context.Background()

	consumed := bucket(5)
	if _, err := consumed.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	tests := []struct {
		name    string
		payment *custody.Bucket
		check   func(error) bool
		want    error
	}{
		{"zero amount", bucket(0), notevault.IsInvalidInput, notevault.ErrNonPositiveAmount},
		{"negative amount", bucket(-10), notevault.IsInvalidInput, notevault.ErrNonPositiveAmount},
		{"wrong denomination", custody.NewBucket(types.FromInt(10, "usd")), notevault.IsInvalidInput, notevault.ErrWrongDenomination},
		{"consumed bucket", consumed, notevault.IsInvalidInput, notevault.ErrBucketConsumed},
		{"nil bucket", nil, notevault.IsInvalidInput, notevault.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, rec := newLedger(t)
			if _, err := l.Deposit(ctx, bucket(100), "seed"); err != nil {
				t.Fatalf("seed Deposit: %v", err)
			}
			before := observe(t, l)

			_, err := l.Deposit(ctx, tt.payment, "bad")
			if !errors.Is(err, tt.want) || !tt.check(err) {
				t.Fatalf("Deposit: got %v, want %v", err, tt.want)
			}

			if after := observe(t, l); after != before {
				t.Errorf("state changed: before %+v, after %+v", before, after)
			}
			if tt.payment != nil && tt.payment != consumed && tt.payment.Consumed() {
				t.Error("rejected payment was consumed")
			}
			report, err := l.Reconcile(ctx)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if !report.PoolBalance.Equal(xrd(100)) {
				t.Errorf("pool balance: got %s, want 100 xrd", report.PoolBalance)
			}

			rec.mu.Lock()
			defer rec.mu.Unlock()
			if len(rec.rejections) != 1 || rec.rejections[0].Operation != "deposit" {
				t.Errorf("rejections: got %d", len(rec.rejections))
			}
		})
	}
}

func TestWithdrawRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		noteID    uint64
		recipient id.AccountID
		kind      notevault.Kind
		want      error
	}{
		{"unknown note", 99, id.NewAccountID(), notevault.KindUnknownReference, notevault.ErrNoteNotFound},
		{"already spent", 0, id.NewAccountID(), notevault.KindInvalidState, notevault.ErrNoteSpent},
		{"nil recipient", 1, id.Nil, notevault.KindInvalidInput, notevault.ErrInvalidRecipient},
		{"non-account recipient", 1, id.NewEventID(), notevault.KindInvalidInput, notevault.ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLedger(t)
			for _, units := range []int64{100, 50} {
				if _, err := l.Deposit(ctx, bucket(units), ""); err != nil {
					t.Fatalf("Deposit: %v", err)
				}
			}
			if _, err := l.Withdraw(ctx, 0, id.NewAccountID()); err != nil {
				t.Fatalf("Withdraw 0: %v", err)
			}
			before := observe(t, l)

			out, err := l.Withdraw(ctx, tt.noteID, tt.recipient)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Withdraw: got %v, want %v", err, tt.want)
			}
			if notevault.KindOf(err) != tt.kind {
				t.Errorf("KindOf: got %s, want %s", notevault.KindOf(err), tt.kind)
			}
			if out != nil {
				t.Error("rejected withdraw returned a bucket")
			}
			if after := observe(t, l); after != before {
				t.Errorf("state changed: before %+v, after %+v", before, after)
			}
		})
	}
}

func TestNoteMetadataAbsent(t *testing.T) {
	l, _ := newLedger(t)

	n, ok, err := l.NoteMetadata(context.Background(), 42)
	if err != nil {
		t.Fatalf("NoteMetadata: %v", err)
	}
	if ok || n != nil {
		t.Errorf("NoteMetadata: got %v %v, want absent", n, ok)
	}
}

func TestNoteMetadataIsACopy(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	if _, err := l.Deposit(ctx, bucket(10), "c"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	n, _, _ := l.NoteMetadata(ctx, 0)
	n.Spent = true
	n.Amount = decimal.Zero

	again, _, _ := l.NoteMetadata(ctx, 0)
	if again.Spent || !again.Amount.Equal(decimal.NewFromInt(10)) {
		t.Error("mutating a returned note changed the stored note")
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("not started", func(t *testing.T) {
		l := notevault.New(memory.New(), notevault.WithLogger(quietLogger()))
		if _, err := l.Deposit(ctx, bucket(1), ""); !errors.Is(err, notevault.ErrNotStarted) {
			t.Errorf("Deposit: got %v, want ErrNotStarted", err)
		}
		if _, err := l.Withdraw(ctx, 0, id.NewAccountID()); !errors.Is(err, notevault.ErrNotStarted) {
			t.Errorf("Withdraw: got %v, want ErrNotStarted", err)
		}
		if _, _, err := l.NoteMetadata(ctx, 0); !errors.Is(err, notevault.ErrNotStarted) {
			t.Errorf("NoteMetadata: got %v, want ErrNotStarted", err)
		}
		if got := l.TotalLocked(ctx); !got.IsZero() {
			t.Errorf("TotalLocked: got %s, want 0", got)
		}
	})

	t.Run("start twice", func(t *testing.T) {
		l, _ := newLedger(t)
		if err := l.Start(ctx); !errors.Is(err, notevault.ErrAlreadyStarted) {
			t.Errorf("second Start: got %v, want ErrAlreadyStarted", err)
		}
	})

	t.Run("hooks", func(t *testing.T) {
		l, rec := newLedger(t)
		if err := l.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.inits != 1 || rec.shutdowns != 1 {
			t.Errorf("inits=%d shutdowns=%d, want 1/1", rec.inits, rec.shutdowns)
		}
	})
}

func TestResumeFromStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ledgerID := id.NewLedgerID()

	first := notevault.New(s, notevault.WithLogger(quietLogger()), notevault.WithLedgerID(ledgerID))
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, units := range []int64{100, 50} {
		if _, err := first.Deposit(ctx, bucket(units), ""); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	if _, err := first.Withdraw(ctx, 0, id.NewAccountID()); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// A second engine over the same store picks up where the first left off.
	second := notevault.New(s,
		notevault.WithLogger(quietLogger()),
		notevault.WithLedgerID(ledgerID),
		notevault.WithReconcileOnStart(true),
	)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	if second.ID().String() != ledgerID.String() {
		t.Errorf("ID: got %s, want %s", second.ID(), ledgerID)
	}
	if got := second.NoteCount(ctx); got != 2 {
		t.Errorf("NoteCount: got %d, want 2", got)
	}
	if got := second.TotalLocked(ctx); !got.Equal(xrd(50)) {
		t.Errorf("TotalLocked: got %s, want 50 xrd", got)
	}

	noteID, err := second.Deposit(ctx, bucket(1), "")
	if err != nil {
		t.Fatalf("Deposit after resume: %v", err)
	}
	if noteID != 2 {
		t.Errorf("note id after resume: got %d, want 2", noteID)
	}
	out, err := second.Withdraw(ctx, 1, id.NewAccountID())
	if err != nil {
		t.Fatalf("Withdraw after resume: %v", err)
	}
	if !out.Amount().Equal(xrd(50)) {
		t.Errorf("withdrawn: got %s, want 50 xrd", out.Amount())
	}
}

func TestResumeRejectsOtherDenomination(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ledgerID := id.NewLedgerID()

	if err := notevault.New(s, notevault.WithLogger(quietLogger()), notevault.WithLedgerID(ledgerID)).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l := notevault.New(s,
		notevault.WithLogger(quietLogger()),
		notevault.WithLedgerID(ledgerID),
		notevault.WithDenomination("usd"),
	)
	if err := l.Start(ctx); !errors.Is(err, notevault.ErrWrongDenomination) {
		t.Errorf("Start: got %v, want ErrWrongDenomination", err)
	}
}

func TestCustomDenomination(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, notevault.WithDenomination("USD"))

	if l.Denomination() != "usd" {
		t.Errorf("Denomination: got %s, want usd", l.Denomination())
	}
	if _, err := l.Deposit(ctx, custody.NewBucket(types.FromInt(5, "usd")), ""); err != nil {
		t.Fatalf("Deposit usd: %v", err)
	}
	if _, err := l.Deposit(ctx, bucket(5), ""); !errors.Is(err, notevault.ErrWrongDenomination) {
		t.Errorf("Deposit xrd: got %v, want ErrWrongDenomination", err)
	}
}

func TestCommitmentMarkerOption(t *testing.T) {
	l, rec := newLedger(t, notevault.WithCommitmentMarker("opaque:test"))
	if _, err := l.Deposit(context.Background(), bucket(1), "secret"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.deposits[0].CommitmentMarker; got != "opaque:test" {
		t.Errorf("marker: got %q, want opaque:test", got)
	}
}

// drifted seeds a store whose note 0 holds 100 xrd while the cached total
// says nothing is locked.
func drifted(t *testing.T) (*memory.Store, id.LedgerID) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	ledgerID := id.NewLedgerID()

	st := state.New(ledgerID, "xrd")
	if err := s.CreateState(ctx, st); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	n := note.New(ledgerID, 0, "c", xrd(100))
	if err := s.CommitDeposit(ctx, n, st.AfterDeposit(decimal.Zero, time.Now())); err != nil {
		t.Fatalf("CommitDeposit: %v", err)
	}
	return s, ledgerID
}

func TestWithdrawInvariantGuard(t *testing.T) {
	ctx := context.Background()
	s, ledgerID := drifted(t)
	rec := &recorder{}

	l := notevault.New(s,
		notevault.WithLogger(quietLogger()),
		notevault.WithPlugin(rec),
		notevault.WithLedgerID(ledgerID),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := l.Withdraw(ctx, 0, id.NewAccountID())
	if !notevault.IsInvariantViolation(err) {
		t.Fatalf("Withdraw: got %v, want invariant violation", err)
	}
	if notevault.IsInvalidInput(err) || notevault.IsInvalidState(err) {
		t.Error("invariant violation must not be classified as a caller error")
	}

	n, _, _ := l.NoteMetadata(ctx, 0)
	if n.Spent {
		t.Error("note was spent despite the guard")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.violations) != 1 || rec.violations[0].Operation != "withdraw" {
		t.Errorf("violations: got %d", len(rec.violations))
	}
}

// shortPool reports less than it holds.
type shortPool struct {
	*custody.MemoryPool
}

func (p shortPool) Balance(_ context.Context) types.Amount { return types.Zero(p.Denomination()) }

func TestWithdrawPoolGuard(t *testing.T) {
	ctx := context.Background()
	l, rec := newLedger(t, notevault.WithPool(shortPool{custody.NewPool("xrd")}))

	if _, err := l.Deposit(ctx, bucket(10), ""); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	before := observe(t, l)

	if _, err := l.Withdraw(ctx, 0, id.NewAccountID()); !errors.Is(err, notevault.ErrInvariantViolation) {
		t.Fatalf("Withdraw: got %v, want ErrInvariantViolation", err)
	}
	if after := observe(t, l); after != before {
		t.Errorf("state changed: before %+v, after %+v", before, after)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.violations) != 1 {
		t.Errorf("violations: got %d, want 1", len(rec.violations))
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("balanced", func(t *testing.T) {
		l, _ := newLedger(t)
		for _, units := range []int64{3, 4, 5} {
			if _, err := l.Deposit(ctx, bucket(units), ""); err != nil {
				t.Fatalf("Deposit: %v", err)
			}
		}
		if _, err := l.Withdraw(ctx, 1, id.NewAccountID()); err != nil {
			t.Fatalf("Withdraw: %v", err)
		}

		report, err := l.Reconcile(ctx)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if !report.Balanced() {
			t.Errorf("report not balanced: %+v", report)
		}
		if report.UnspentNotes != 2 || report.NoteCount != 3 {
			t.Errorf("counts: unspent=%d notes=%d, want 2/3", report.UnspentNotes, report.NoteCount)
		}
		if !report.UnspentSum.Equal(xrd(8)) {
			t.Errorf("UnspentSum: got %s, want 8 xrd", report.UnspentSum)
		}
	})

	t.Run("drifted", func(t *testing.T) {
		s, ledgerID := drifted(t)
		l := notevault.New(s, notevault.WithLogger(quietLogger()), notevault.WithLedgerID(ledgerID))
		if err := l.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}

		report, err := l.Reconcile(ctx)
		if !errors.Is(err, notevault.ErrInvariantViolation) {
			t.Fatalf("Reconcile: got %v, want ErrInvariantViolation", err)
		}
		if report == nil || report.Balanced() {
			t.Errorf("report should show imbalance: %+v", report)
		}
	})

	t.Run("drifted on start", func(t *testing.T) {
		s, ledgerID := drifted(t)
		l := notevault.New(s,
			notevault.WithLogger(quietLogger()),
			notevault.WithLedgerID(ledgerID),
			notevault.WithReconcileOnStart(true),
		)
		if err := l.Start(ctx); !errors.Is(err, notevault.ErrInvariantViolation) {
			t.Fatalf("Start: got %v, want ErrInvariantViolation", err)
		}
		if _, err := l.Deposit(ctx, bucket(1), ""); !errors.Is(err, notevault.ErrNotStarted) {
			t.Errorf("Deposit after failed start: got %v, want ErrNotStarted", err)
		}
	})
}

func TestListNotes(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	for i := int64(1); i <= 5; i++ {
		if _, err := l.Deposit(ctx, bucket(i), ""); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	for _, noteID := range []uint64{1, 3} {
		if _, err := l.Withdraw(ctx, noteID, id.NewAccountID()); err != nil {
			t.Fatalf("Withdraw: %v", err)
		}
	}

	tests := []struct {
		name string
		opts note.ListOpts
		ids  []uint64
	}{
		{"all", note.ListOpts{}, []uint64{0, 1, 2, 3, 4}},
		{"unspent", note.ListOpts{Status: note.StatusUnspent}, []uint64{0, 2, 4}},
		{"spent", note.ListOpts{Status: note.StatusSpent}, []uint64{1, 3}},
		{"paged", note.ListOpts{Limit: 2, Offset: 1}, []uint64{1, 2}},
		{"negative offset", note.ListOpts{Offset: -1}, []uint64{0, 1, 2, 3, 4}},
		{"negative limit", note.ListOpts{Limit: -1, Offset: 3}, []uint64{3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes, err := l.ListNotes(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListNotes: %v", err)
			}
			if len(notes) != len(tt.ids) {
				t.Fatalf("len: got %d, want %d", len(notes), len(tt.ids))
			}
			for i, n := range notes {
				if n.ID != tt.ids[i] {
					t.Errorf("notes[%d]: got %d, want %d", i, n.ID, tt.ids[i])
				}
			}
		})
	}
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	const workers = 16
	var wg sync.WaitGroup
	ids := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			noteID, err := l.Deposit(ctx, bucket(1), "")
			if err != nil {
				t.Errorf("Deposit: %v", err)
				return
			}
			ids <- noteID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for noteID := range ids {
		if seen[noteID] {
			t.Errorf("note id %d issued twice", noteID)
		}
		seen[noteID] = true
	}

	// Every goroutine races to spend note 0; exactly one wins.
	var wins sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wins.Add(1)
		go func() {
			defer wins.Done()
			if _, err := l.Withdraw(ctx, 0, id.NewAccountID()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wins.Wait()

	if succeeded != 1 {
		t.Errorf("successful withdrawals of note 0: got %d, want 1", succeeded)
	}
	if got := l.TotalLocked(ctx); !got.Equal(xrd(workers - 1)) {
		t.Errorf("TotalLocked: got %s, want %d xrd", got, workers-1)
	}
}

func TestCallerContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := notevault.CallerFrom(ctx); ok {
		t.Error("empty context should carry no caller")
	}

	acct := id.NewAccountID()
	got, ok := notevault.CallerFrom(notevault.WithCaller(ctx, acct))
	if !ok || got.String() != acct.String() {
		t.Errorf("CallerFrom: got %s %v, want %s", got, ok, acct)
	}
}

func TestSharedStoreResyncsAfterConflict(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pool := custody.NewPool("xrd")
	ledgerID := id.NewLedgerID()

	open := func() *notevault.Ledger {
		l := notevault.New(s,
			notevault.WithLogger(quietLogger()),
			notevault.WithLedgerID(ledgerID),
			notevault.WithPool(pool),
		)
		if err := l.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		return l
	}
	l1, l2 := open(), open()

	if _, err := l1.Deposit(ctx, bucket(10), ""); err != nil {
		t.Fatalf("l1 Deposit: %v", err)
	}

	payment := bucket(5)
	_, err := l2.Deposit(ctx, payment, "")
	if !notevault.IsRetryable(err) {
		t.Fatalf("stale Deposit: got %v, want retryable conflict", err)
	}
	if payment.Consumed() {
		t.Error("payment consumed by a conflicting deposit")
	}
	if got := pool.Balance(ctx); !got.Equal(xrd(10)) {
		t.Errorf("pool after conflict: got %s, want 10 xrd", got)
	}
	total, count := l2.Stats(ctx)
	if !total.Equal(xrd(10)) || count != 1 {
		t.Errorf("l2 after conflict: got (%s, %d), want (10 xrd, 1)", total, count)
	}

	noteID, err := l2.Deposit(ctx, payment, "")
	if err != nil {
		t.Fatalf("retried Deposit: %v", err)
	}
	if noteID != 1 {
		t.Errorf("retried note id: got %d, want 1", noteID)
	}

	// l1 is now the stale one.
	_, err = l1.Withdraw(ctx, noteID, id.NewAccountID())
	if !notevault.IsRetryable(err) {
		t.Fatalf("stale Withdraw: got %v, want retryable conflict", err)
	}
	if got := pool.Balance(ctx); !got.Equal(xrd(15)) {
		t.Errorf("pool after conflict: got %s, want 15 xrd", got)
	}
	out, err := l1.Withdraw(ctx, noteID, id.NewAccountID())
	if err != nil {
		t.Fatalf("retried Withdraw: %v", err)
	}
	if !out.Amount().Equal(xrd(5)) {
		t.Errorf("withdrawn: got %s, want 5 xrd", out.Amount())
	}

	total, count = l1.Stats(ctx)
	if !total.Equal(xrd(10)) || count != 2 {
		t.Errorf("l1: got (%s, %d), want (10 xrd, 2)", total, count)
	}
	if got := pool.Balance(ctx); !got.Equal(xrd(10)) {
		t.Errorf("pool: got %s, want 10 xrd", got)
	}
}

// refusingPool rejects every payment.
type refusingPool struct {
	*custody.MemoryPool
}

func (refusingPool) Put(context.Context, *custody.Bucket) error {
	return errors.New("custody offline")
}

// stuckPool accepts value but never hands it back.
type stuckPool struct {
	*custody.MemoryPool
}

func (stuckPool) Take(context.Context, types.Amount) (*custody.Bucket, error) {
	return nil, errors.New("custody offline")
}

// failingStore fails every commit after Start.
type failingStore struct {
	*memory.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) CommitDeposit(context.Context, *note.Note, *state.State) error {
	return errDiskFull
}

func (failingStore) CommitWithdrawal(context.Context, *note.Note, *state.State) error {
	return errDiskFull
}

func TestDepositPoolRefusalLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l, rec := newLedger(t, notevault.WithPool(refusingPool{custody.NewPool("xrd")}))
	before := observe(t, l)

	payment := bucket(100)
	if _, err := l.Deposit(ctx, payment, ""); err == nil {
		t.Fatal("Deposit: expected error from refusing pool")
	}
	if after := observe(t, l); after != before {
		t.Errorf("state changed: before %+v, after %+v", before, after)
	}
	if payment.Consumed() {
		t.Error("payment consumed by a refused deposit")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deposits) != 0 || len(rec.rejections) != 1 {
		t.Errorf("events: deposits=%d rejections=%d, want 0 and 1", len(rec.deposits), len(rec.rejections))
	}
}

func TestFailedCommitReturnsValue(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ledgerID := id.NewLedgerID()
	pool := custody.NewPool("xrd")

	// Seed one note through a healthy ledger.
	seed := notevault.New(s, notevault.WithLogger(quietLogger()), notevault.WithLedgerID(ledgerID), notevault.WithPool(pool))
	if err := seed.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := seed.Deposit(ctx, bucket(30), ""); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	l := notevault.New(failingStore{s},
		notevault.WithLogger(quietLogger()),
		notevault.WithLedgerID(ledgerID),
		notevault.WithPool(pool),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := observe(t, l)

	t.Run("deposit", func(t *testing.T) {
		payment := bucket(20)
		if _, err := l.Deposit(ctx, payment, ""); !errors.Is(err, errDiskFull) {
			t.Fatalf("Deposit: got %v, want errDiskFull", err)
		}
		if payment.Consumed() || !payment.Amount().Equal(xrd(20)) {
			t.Errorf("payment: consumed=%v amount=%s, want 20 xrd back", payment.Consumed(), payment.Amount())
		}
		if got := pool.Balance(ctx); !got.Equal(xrd(30)) {
			t.Errorf("pool: got %s, want 30 xrd", got)
		}
		if after := observe(t, l); after != before {
			t.Errorf("state changed: before %+v, after %+v", before, after)
		}
	})

	t.Run("withdraw", func(t *testing.T) {
		if _, err := l.Withdraw(ctx, 0, id.NewAccountID()); !errors.Is(err, errDiskFull) {
			t.Fatalf("Withdraw: got %v, want errDiskFull", err)
		}
		if got := pool.Balance(ctx); !got.Equal(xrd(30)) {
			t.Errorf("pool: got %s, want 30 xrd", got)
		}
		n, _, _ := l.NoteMetadata(ctx, 0)
		if n.Spent {
			t.Error("note spent despite failed commit")
		}
		if after := observe(t, l); after != before {
			t.Errorf("state changed: before %+v, after %+v", before, after)
		}
	})
}

func TestFailedRefundIsViolation(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	l := notevault.New(failingStore{memory.New()},
		notevault.WithLogger(quietLogger()),
		notevault.WithPlugin(rec),
		notevault.WithPool(stuckPool{custody.NewPool("xrd")}),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := l.Deposit(ctx, bucket(10), ""); !errors.Is(err, notevault.ErrInvariantViolation) {
		t.Fatalf("Deposit: got %v, want ErrInvariantViolation", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.violations) != 1 || rec.violations[0].Operation != "deposit" {
		t.Errorf("violations: got %d, want 1 deposit violation", len(rec.violations))
	}
}
