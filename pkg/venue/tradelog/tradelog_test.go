package tradelog

import (
	"fmt"
	"testing"
	"time"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

func newTestLog(t *testing.T) (*Log, *storage.DB) {
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

func appendTrades(t *testing.T, l *Log, db *storage.DB, ticker string, prices ...int64) {
	t.Helper()
	u := db.Begin()
	for i, price := range prices {
		seq, err := u.NextSeq()
		if err != nil {
			t.Fatalf("next seq: %v", err)
		}
		trade := &venue.Trade{
			ID:        fmt.Sprintf("trade-%s-%d", ticker, i),
			Ticker:    ticker,
			Qty:       1,
			Price:     price,
			Timestamp: time.Now().UTC(),
			BuyerID:   "buyer",
			SellerID:  "seller",
			Seq:       seq,
		}
		if err := l.Append(u, trade); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	l, db := newTestLog(t)
	appendTrades(t, l, db, "MEMCOIN", 9, 10, 11)

	trades, err := l.Recent("MEMCOIN", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("trade count: got %d, want 3", len(trades))
	}
	for i, want := range []int64{11, 10, 9} {
		if trades[i].Price != want {
			t.Fatalf("trade %d price: got %d, want %d", i, trades[i].Price, want)
		}
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	l, db := newTestLog(t)
	appendTrades(t, l, db, "MEMCOIN", 1, 2, 3, 4, 5)

	trades, err := l.Recent("MEMCOIN", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("limited trade count: got %d, want 2", len(trades))
	}
	if trades[0].Price != 5 || trades[1].Price != 4 {
		t.Fatalf("limited trades: got %d, %d", trades[0].Price, trades[1].Price)
	}
}

func TestRecentScopedToTicker(t *testing.T) {
	l, db := newTestLog(t)
	appendTrades(t, l, db, "MEMCOIN", 10)
	appendTrades(t, l, db, "DOGE", 20)

	trades, err := l.Recent("MEMCOIN", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(trades) != 1 || trades[0].Ticker != "MEMCOIN" {
		t.Fatalf("cross-ticker leak: %+v", trades)
	}
}
