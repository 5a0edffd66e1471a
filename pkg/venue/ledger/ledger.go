// Package ledger tracks per-(owner, asset) available quantities. An asset
// is either the venue's quote currency or an instrument ticker. Balances
// are created lazily on first credit and are never negative after a
// committed operation.
package ledger

import (
	"fmt"
	"strings"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

// Key returns the storage key for one balance. It doubles as the lock key
// a unit of work acquires before mutating the balance.
func Key(userID, asset string) string {
	return "b/" + userID + "/" + asset
}

type Ledger struct {
	db *storage.DB
}

func New(db *storage.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) read(u *storage.UnitOfWork, userID, asset string) (int64, error) {
	val, ok, err := u.Get([]byte(Key(userID, asset)))
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %v", venue.ErrStorage, err)
	}
	if !ok {
		return 0, nil
	}
	return int64(storage.DecodeUint64(val)), nil
}

// Check reports whether the owner holds at least amount of asset. It is a
// read-only pre-flight gate, not a reservation.
func (l *Ledger) Check(u *storage.UnitOfWork, userID, asset string, amount int64) (bool, error) {
	have, err := l.read(u, userID, asset)
	if err != nil {
		return false, err
	}
	return have >= amount, nil
}

// ApplyDelta adds delta (positive or negative) to the owner's balance,
// creating the record at zero if absent. If the result would be negative
// it fails with ErrInsufficientFunds and writes nothing.
func (l *Ledger) ApplyDelta(u *storage.UnitOfWork, userID, asset string, delta int64) error {
	have, err := l.read(u, userID, asset)
	if err != nil {
		return err
	}
	next := have + delta
	if next < 0 {
		return fmt.Errorf("%w: %s balance of %s would go negative", venue.ErrInsufficientFunds, asset, userID)
	}
	if err := u.Set([]byte(Key(userID, asset)), storage.Uint64Key(uint64(next))); err != nil {
		return fmt.Errorf("%w: write balance: %v", venue.ErrStorage, err)
	}
	return nil
}

// Balances returns every asset the owner holds, from committed state.
func (l *Ledger) Balances(userID string) (map[string]int64, error) {
	out := make(map[string]int64)
	p := []byte("b/" + userID + "/")
	err := l.db.Scan(p, func(key, val []byte) (bool, error) {
		asset := strings.TrimPrefix(string(key), string(p))
		out[asset] = int64(storage.DecodeUint64(val))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan balances: %v", venue.ErrStorage, err)
	}
	return out, nil
}

// Deposit credits the owner's balance in its own unit of work.
func (l *Ledger) Deposit(userID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", venue.ErrInvalidOrder)
	}
	return l.adjust(userID, asset, amount)
}

// Withdraw debits the owner's balance in its own unit of work, failing
// with ErrInsufficientFunds when the balance is short.
func (l *Ledger) Withdraw(userID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", venue.ErrInvalidOrder)
	}
	return l.adjust(userID, asset, -amount)
}

func (l *Ledger) adjust(userID, asset string, delta int64) error {
	u := l.db.Begin()
	defer u.Rollback()

	u.LockBalances([]string{Key(userID, asset)})
	if err := l.ApplyDelta(u, userID, asset, delta); err != nil {
		return err
	}
	if err := u.Commit(); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return nil
}
