package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault/types"
)

// Pool is exclusively owned custody for one denomination. A vault trusts
// Put, Take and Balance to behave exactly as documented.
type Pool interface {
	// Denomination is the only resource the pool accepts.
	Denomination() string
	// Put drains b into the pool.
	Put(ctx context.Context, b *Bucket) error
	// Take removes amount from the pool and returns it in a new bucket.
	Take(ctx context.Context, amount types.Amount) (*Bucket, error)
	// Balance is the total currently held.
	Balance(ctx context.Context) types.Amount
}

// Compile-time interface check.
var _ Pool = (*MemoryPool)(nil)

// MemoryPool is an in-process Pool.
type MemoryPool struct {
	mu           sync.Mutex
	denomination string
	balance      decimal.Decimal
}

// NewPool returns an empty pool for denomination.
func NewPool(denomination string) *MemoryPool {
	return &MemoryPool{
		denomination: types.Zero(denomination).Denomination,
		balance:      decimal.Zero,
	}
}

// NewPoolWithBalance returns a pool that already holds opening. It is used
// when a vault is recovered from a persistent store and its locked value
// must be re-established in process.
func NewPoolWithBalance(opening types.Amount) *MemoryPool {
	p := NewPool(opening.Denomination)
	p.balance = opening.Value
	return p
}

// Denomination implements Pool.
func (p *MemoryPool) Denomination() string { return p.denomination }

// Put implements Pool.
func (p *MemoryPool) Put(_ context.Context, b *Bucket) error {
	if b.Denomination() != p.denomination {
		return fmt.Errorf("%w: pool holds %s, bucket holds %s",
			ErrDenominationMismatch, p.denomination, b.Denomination())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBucketConsumed
	}
	if !b.value().IsPositive() {
		return ErrNonPositiveAmount
	}

	p.mu.Lock()
	p.balance = p.balance.Add(b.value())
	p.mu.Unlock()

	b.consumed = true
	return nil
}

// Take implements Pool.
func (p *MemoryPool) Take(_ context.Context, amount types.Amount) (*Bucket, error) {
	if amount.Denomination != p.denomination {
		return nil, fmt.Errorf("%w: pool holds %s, requested %s",
			ErrDenominationMismatch, p.denomination, amount.Denomination)
	}
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balance.LessThan(amount.Value) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, p.balance, amount.Value)
	}
	p.balance = p.balance.Sub(amount.Value)
	return NewBucket(amount), nil
}

// Balance implements Pool.
func (p *MemoryPool) Balance(_ context.Context) types.Amount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.NewAmount(p.balance, p.denomination)
}
