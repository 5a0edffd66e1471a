// Package orderstore persists order records and maintains the resting
// index the matching engine walks. Index keys are laid out so that one
// forward scan per side yields price-time priority order: best price
// first, earliest sequence first within a price.
package orderstore

import (
	"fmt"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

type Store struct {
	db *storage.DB
}

func New(db *storage.DB) *Store {
	return &Store{db: db}
}

func recordKey(id string) []byte {
	return []byte("o/" + id)
}

// indexKey builds the resting-index key for a limit order. Bid prices are
// encoded inverted so a forward scan sees the highest bid first; ask
// prices are encoded plain so it sees the lowest ask first. The sequence
// segment breaks price ties in submission order, and the id suffix keeps
// keys unique across restarts.
func indexKey(o *venue.Order) []byte {
	var priceKey []byte
	side := []byte("S")
	if o.Side == venue.Buy {
		side = []byte("B")
		priceKey = storage.Uint64KeyDesc(uint64(o.Price))
	} else {
		priceKey = storage.Uint64Key(uint64(o.Price))
	}
	return storage.Key(
		[]byte("r"),
		[]byte(o.Ticker),
		side,
		priceKey,
		storage.Uint64Key(o.Seq),
		[]byte(o.ID),
	)
}

func sidePrefix(ticker string, side venue.Side) []byte {
	s := "S"
	if side == venue.Buy {
		s = "B"
	}
	return []byte("r/" + ticker + "/" + s + "/")
}

func (s *Store) put(u *storage.UnitOfWork, o *venue.Order) error {
	val, err := storage.EncodeGob(o)
	if err != nil {
		return fmt.Errorf("%w: encode order: %v", venue.ErrStorage, err)
	}
	if err := u.Set(recordKey(o.ID), val); err != nil {
		return fmt.Errorf("%w: write order: %v", venue.ErrStorage, err)
	}
	return nil
}

// Insert writes a new order record. Resting limit orders also get an
// index entry so future submissions can find them.
func (s *Store) Insert(u *storage.UnitOfWork, o *venue.Order) error {
	if err := s.put(u, o); err != nil {
		return err
	}
	if o.Kind() == venue.Limit && o.Resting() {
		if err := u.Set(indexKey(o), []byte(o.ID)); err != nil {
			return fmt.Errorf("%w: write resting index: %v", venue.ErrStorage, err)
		}
	}
	return nil
}

func decode(val []byte) (*venue.Order, error) {
	var o venue.Order
	if err := storage.DecodeGob(val, &o); err != nil {
		return nil, fmt.Errorf("%w: decode order: %v", venue.ErrStorage, err)
	}
	return &o, nil
}

// Get returns an order snapshot from committed state.
func (s *Store) Get(id string) (*venue.Order, error) {
	val, ok, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read order: %v", venue.ErrStorage, err)
	}
	if !ok {
		return nil, venue.ErrOrderNotFound
	}
	return decode(val)
}

// getIn reads an order inside a unit of work, seeing its uncommitted
// writes.
func (s *Store) getIn(u *storage.UnitOfWork, id string) (*venue.Order, error) {
	val, ok, err := u.Get(recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read order: %v", venue.ErrStorage, err)
	}
	if !ok {
		return nil, venue.ErrOrderNotFound
	}
	return decode(val)
}

// List returns all order snapshots. userID narrows to one owner when
// non-empty.
func (s *Store) List(userID string) ([]*venue.Order, error) {
	var out []*venue.Order
	err := s.db.Scan([]byte("o/"), func(key, val []byte) (bool, error) {
		o, err := decode(val)
		if err != nil {
			return false, err
		}
		if userID == "" || o.UserID == userID {
			out = append(out, o)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan orders: %v", venue.ErrStorage, err)
	}
	return out, nil
}

// RestingCandidates walks the resting index for one side of an instrument
// in price-time priority order. priceFilter, when non-nil, is the
// incoming limit order's crossing condition; the scan stops at the first
// price that fails it, since every later price fails too. The caller must
// hold the instrument lock, which is what makes the returned orders
// exclusively this unit's until it ends.
func (s *Store) RestingCandidates(u *storage.UnitOfWork, ticker string, side venue.Side, priceFilter func(price int64) bool) ([]*venue.Order, error) {
	var out []*venue.Order
	err := u.Scan(sidePrefix(ticker, side), func(key, val []byte) (bool, error) {
		o, err := s.getIn(u, string(val))
		if err != nil {
			return false, err
		}
		if priceFilter != nil && !priceFilter(o.Price) {
			return false, nil
		}
		if !o.Resting() {
			return true, nil
		}
		out = append(out, o)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFill applies a match of qty against a resting order: bumps the
// filled quantity, derives the status, and drops the index entry once the
// order is fully executed.
func (s *Store) MarkFill(u *storage.UnitOfWork, o *venue.Order, qty int64) error {
	o.Filled += qty
	if o.Filled == o.Qty {
		o.Status = venue.StatusExecuted
		if err := u.Delete(indexKey(o)); err != nil {
			return fmt.Errorf("%w: drop resting index: %v", venue.ErrStorage, err)
		}
	} else {
		o.Status = venue.StatusPartiallyExecuted
	}
	return s.put(u, o)
}

// Cancel transitions an open order to CANCELLED in its own unit of work.
// Fails with ErrOrderNotFound, ErrForbidden when the requester does not
// own the order, and ErrClosedOrder when the order is already executed or
// cancelled. The instrument lock makes cancellation mutually exclusive
// with any in-flight match touching the same order.
func (s *Store) Cancel(id, requesterID string) error {
	// Committed read just to learn the ticker; re-read under the lock.
	o, err := s.Get(id)
	if err != nil {
		return err
	}

	u := s.db.Begin()
	defer u.Rollback()
	u.LockInstrument(o.Ticker)

	o, err = s.getIn(u, id)
	if err != nil {
		return err
	}
	if o.UserID != requesterID {
		return fmt.Errorf("%w: order %s belongs to another user", venue.ErrForbidden, id)
	}
	if !o.Resting() {
		return fmt.Errorf("%w: order %s is %s", venue.ErrClosedOrder, id, o.Status)
	}

	if o.Kind() == venue.Limit {
		if err := u.Delete(indexKey(o)); err != nil {
			return fmt.Errorf("%w: drop resting index: %v", venue.ErrStorage, err)
		}
	}
	o.Status = venue.StatusCancelled
	if err := s.put(u, o); err != nil {
		return err
	}
	if err := u.Commit(); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return nil
}
