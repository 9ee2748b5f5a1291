// Package custody provides the value-custody primitive a vault locks
// deposits into. A Bucket is a transferable handle to a quantity of one
// denomination; a Pool holds value and hands it back out as new buckets.
package custody

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xraph/notevault/types"
)

var (
	ErrBucketConsumed       = errors.New("custody: bucket already consumed")
	ErrDenominationMismatch = errors.New("custody: denomination mismatch")
	ErrInsufficientBalance  = errors.New("custody: insufficient balance")
	ErrNonPositiveAmount    = errors.New("custody: amount must be positive")
	ErrBucketNotConsumed    = errors.New("custody: bucket still holds value")
)

// Bucket is a handle to a quantity of value. Once its value has been
// drained into a pool the handle is consumed and reads as zero.
type Bucket struct {
	mu       sync.Mutex
	amount   types.Amount
	consumed bool
}

// NewBucket wraps amount in a fresh bucket.
func NewBucket(amount types.Amount) *Bucket {
	return &Bucket{amount: amount}
}

// Amount returns the quantity held. A consumed bucket holds zero.
func (b *Bucket) Amount() types.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return types.Zero(b.amount.Denomination)
	}
	return b.amount
}

// Denomination returns the resource the bucket holds.
func (b *Bucket) Denomination() string {
	return b.amount.Denomination
}

// Consumed reports whether the bucket was already drained.
func (b *Bucket) Consumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

// Drain takes the whole value out of the bucket and marks it consumed.
func (b *Bucket) Drain() (types.Amount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return types.Amount{}, ErrBucketConsumed
	}
	b.consumed = true
	return b.amount, nil
}

// Refill drains src into the consumed bucket b, so b holds src's value
// again. b is left untouched when it still holds value or denominations
// differ.
func (b *Bucket) Refill(src *Bucket) error {
	if src == b {
		return ErrBucketNotConsumed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.consumed {
		return ErrBucketNotConsumed
	}
	if src.Denomination() != b.amount.Denomination {
		return ErrDenominationMismatch
	}

	amount, err := src.Drain()
	if err != nil {
		return err
	}
	b.amount = amount
	b.consumed = false
	return nil
}

// value returns the raw quantity without locking; callers hold b.mu.
func (b *Bucket) value() decimal.Decimal {
	return b.amount.Value
}
