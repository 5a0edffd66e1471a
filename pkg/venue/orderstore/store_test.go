package orderstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

const (
	alice = "9e41c5a0-0000-4000-8000-000000000001"
	bob   = "9e41c5a0-0000-4000-8000-000000000002"
)

func newTestStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return New(db), db
}

var seqCounter uint64

func limitOrder(user string, side venue.Side, price, qty int64) *venue.Order {
	seqCounter++
	return &venue.Order{
		ID:        fmt.Sprintf("order-%d", seqCounter),
		UserID:    user,
		Ticker:    "MEMCOIN",
		Side:      side,
		Price:     price,
		Qty:       qty,
		Status:    venue.StatusNew,
		Timestamp: time.Now().UTC(),
		Seq:       seqCounter,
	}
}

func insert(t *testing.T, s *Store, db *storage.DB, orders ...*venue.Order) {
	t.Helper()
	u := db.Begin()
	for _, o := range orders {
		if err := s.Insert(u, o); err != nil {
			t.Fatalf("insert %s: %v", o.ID, err)
		}
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func candidates(t *testing.T, s *Store, db *storage.DB, side venue.Side, filter func(int64) bool) []*venue.Order {
	t.Helper()
	u := db.Begin()
	defer u.Rollback()
	u.LockInstrument("MEMCOIN")
	out, err := s.RestingCandidates(u, "MEMCOIN", side, filter)
	if err != nil {
		t.Fatalf("resting candidates: %v", err)
	}
	return out
}

func TestInsertAndGet(t *testing.T) {
	s, db := newTestStore(t)
	o := limitOrder(alice, venue.Buy, 10, 5)
	insert(t, s, db, o)

	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != o.ID || got.UserID != alice || got.Price != 10 || got.Qty != 5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != venue.StatusNew || got.Filled != 0 {
		t.Fatalf("fresh order state: %+v", got)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, venue.ErrOrderNotFound) {
		t.Fatalf("unknown order: got %v, want ErrOrderNotFound", err)
	}
}

func TestAskCandidatesPriceTimeOrder(t *testing.T) {
	s, db := newTestStore(t)
	first10 := limitOrder(alice, venue.Sell, 10, 1)
	second10 := limitOrder(bob, venue.Sell, 10, 1)
	at9 := limitOrder(bob, venue.Sell, 9, 1)
	insert(t, s, db, first10, second10, at9)

	got := candidates(t, s, db, venue.Sell, nil)
	if len(got) != 3 {
		t.Fatalf("candidate count: got %d, want 3", len(got))
	}
	// Best (lowest) price first; earliest sequence breaks the tie at 10.
	if got[0].ID != at9.ID || got[1].ID != first10.ID || got[2].ID != second10.ID {
		t.Fatalf("ask ordering: got %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestBidCandidatesPriceTimeOrder(t *testing.T) {
	s, db := newTestStore(t)
	at8 := limitOrder(alice, venue.Buy, 8, 1)
	first9 := limitOrder(alice, venue.Buy, 9, 1)
	second9 := limitOrder(bob, venue.Buy, 9, 1)
	insert(t, s, db, at8, first9, second9)

	got := candidates(t, s, db, venue.Buy, nil)
	if len(got) != 3 {
		t.Fatalf("candidate count: got %d, want 3", len(got))
	}
	// Best (highest) price first; earliest sequence breaks the tie at 9.
	if got[0].ID != first9.ID || got[1].ID != second9.ID || got[2].ID != at8.ID {
		t.Fatalf("bid ordering: got %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestCandidatePriceFilterStopsScan(t *testing.T) {
	s, db := newTestStore(t)
	insert(t, s, db,
		limitOrder(alice, venue.Sell, 9, 1),
		limitOrder(alice, venue.Sell, 10, 1),
		limitOrder(alice, venue.Sell, 11, 1),
	)

	// An incoming BUY limit at 10 crosses asks priced at or below 10.
	got := candidates(t, s, db, venue.Sell, func(p int64) bool { return p <= 10 })
	if len(got) != 2 {
		t.Fatalf("filtered candidates: got %d, want 2", len(got))
	}
	for _, o := range got {
		if o.Price > 10 {
			t.Fatalf("candidate above the limit price: %d", o.Price)
		}
	}
}

func TestMarkFillTransitions(t *testing.T) {
	s, db := newTestStore(t)
	o := limitOrder(alice, venue.Sell, 10, 5)
	insert(t, s, db, o)

	u := db.Begin()
	u.LockInstrument("MEMCOIN")
	if err := s.MarkFill(u, o, 2); err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != venue.StatusPartiallyExecuted || got.Filled != 2 {
		t.Fatalf("after partial fill: %+v", got)
	}
	// Still a candidate with its full remaining quantity.
	if rest := candidates(t, s, db, venue.Sell, nil); len(rest) != 1 || rest[0].Remaining() != 3 {
		t.Fatalf("partially filled order not resting correctly: %+v", rest)
	}

	u = db.Begin()
	u.LockInstrument("MEMCOIN")
	if err := s.MarkFill(u, got, 3); err != nil {
		t.Fatalf("final fill: %v", err)
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err = s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != venue.StatusExecuted || got.Filled != 5 {
		t.Fatalf("after full fill: %+v", got)
	}
	if rest := candidates(t, s, db, venue.Sell, nil); len(rest) != 0 {
		t.Fatalf("executed order still resting: %+v", rest)
	}
}

func TestCancelSemantics(t *testing.T) {
	s, db := newTestStore(t)
	o := limitOrder(alice, venue.Buy, 10, 5)
	insert(t, s, db, o)

	if err := s.Cancel("missing", alice); !errors.Is(err, venue.ErrOrderNotFound) {
		t.Fatalf("cancel missing: got %v, want ErrOrderNotFound", err)
	}
	if err := s.Cancel(o.ID, bob); !errors.Is(err, venue.ErrForbidden) {
		t.Fatalf("cancel by non-owner: got %v, want ErrForbidden", err)
	}

	if err := s.Cancel(o.ID, alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != venue.StatusCancelled {
		t.Fatalf("status after cancel: %s", got.Status)
	}
	if rest := candidates(t, s, db, venue.Buy, nil); len(rest) != 0 {
		t.Fatalf("cancelled order still resting: %+v", rest)
	}

	// Cancellation is terminal and not repeatable.
	if err := s.Cancel(o.ID, alice); !errors.Is(err, venue.ErrClosedOrder) {
		t.Fatalf("double cancel: got %v, want ErrClosedOrder", err)
	}
}

func TestCancelExecutedOrderFails(t *testing.T) {
	s, db := newTestStore(t)
	o := limitOrder(alice, venue.Sell, 10, 1)
	insert(t, s, db, o)

	u := db.Begin()
	u.LockInstrument("MEMCOIN")
	if err := s.MarkFill(u, o, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.Cancel(o.ID, alice); !errors.Is(err, venue.ErrClosedOrder) {
		t.Fatalf("cancel executed order: got %v, want ErrClosedOrder", err)
	}
	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != venue.StatusExecuted {
		t.Fatalf("status mutated by failed cancel: %s", got.Status)
	}
}

func TestListByUser(t *testing.T) {
	s, db := newTestStore(t)
	insert(t, s, db,
		limitOrder(alice, venue.Buy, 10, 1),
		limitOrder(bob, venue.Buy, 10, 1),
		limitOrder(alice, venue.Sell, 11, 1),
	)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list all: got %d, want 3", len(all))
	}

	mine, err := s.List(alice)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("list by user: got %d, want 2", len(mine))
	}
	for _, o := range mine {
		if o.UserID != alice {
			t.Fatalf("foreign order in user listing: %+v", o)
		}
	}
}
