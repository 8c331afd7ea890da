package domain

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNegativeBalance is returned when applying an entry would drive a bucket below zero.
	ErrNegativeBalance = errors.New("balance would become negative")
	// ErrBalanceOverflow is returned when a credit would not fit in int64 minor units.
	ErrBalanceOverflow = errors.New("balance would overflow")
)

// Wallet holds a user's spendable and escrowed funds in minor units.
// Balances only change through Apply, so stored state always matches ledger replay.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	AvailableBalance int64     `json:"available_balance"`
	EscrowBalance    int64     `json:"escrow_balance"`
	Currency         string    `json:"currency"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewWallet returns a zero-balance wallet for the user.
func NewWallet(userID uuid.UUID, currency string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total returns available plus escrow.
func (w *Wallet) Total() int64 {
	return w.AvailableBalance + w.EscrowBalance
}

// Balances returns the wallet's buckets.
func (w *Wallet) Balances() Balances {
	return Balances{Available: w.AvailableBalance, Escrow: w.EscrowBalance}
}

// Apply returns a copy of the wallet with the entry's effect applied and the
// version bumped. The receiver is left untouched.
func (w *Wallet) Apply(e *LedgerEntry) (*Wallet, error) {
	next := *w
	b, err := w.Balances().Apply(e)
	if err != nil {
		return nil, err
	}
	next.AvailableBalance = b.Available
	next.EscrowBalance = b.Escrow
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	return &next, nil
}

// Balances is a pair of bucket amounts.
type Balances struct {
	Available int64 `json:"available"`
	Escrow    int64 `json:"escrow"`
}

// Apply adds the entry's effect, refusing to go below zero in either bucket
// or past math.MaxInt64 in either bucket or their total.
func (b Balances) Apply(e *LedgerEntry) (Balances, error) {
	dAvail, dEscrow := e.Effect()
	if addOverflows(b.Available, dAvail) || addOverflows(b.Escrow, dEscrow) {
		return b, ErrBalanceOverflow
	}
	next := Balances{Available: b.Available + dAvail, Escrow: b.Escrow + dEscrow}
	if next.Available < 0 || next.Escrow < 0 {
		return b, ErrNegativeBalance
	}
	if addOverflows(next.Available, next.Escrow) {
		return b, ErrBalanceOverflow
	}
	return next, nil
}

// addOverflows reports whether a+d leaves int64 for a non-negative a.
func addOverflows(a, d int64) bool {
	return d > 0 && a > math.MaxInt64-d
}

// Sub returns b minus o per bucket.
func (b Balances) Sub(o Balances) Balances {
	return Balances{Available: b.Available - o.Available, Escrow: b.Escrow - o.Escrow}
}

// IsZero reports whether both buckets are zero.
func (b Balances) IsZero() bool {
	return b.Available == 0 && b.Escrow == 0
}

// Bucket returns the amount held in the named bucket.
func (b Balances) Bucket(bucket Bucket) int64 {
	if bucket == BucketEscrow {
		return b.Escrow
	}
	return b.Available
}
