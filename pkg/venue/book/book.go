// Package book is a read-only projection of resting limit orders into
// aggregated price levels for public display.
package book

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

type View struct {
	db *storage.DB
}

func New(db *storage.DB) *View {
	return &View{db: db}
}

// Levels aggregates the resting limit orders of one instrument into
// price levels: bids sorted descending by price, asks ascending. Each
// level sums the orders' requested quantity, matching the venue's
// published depth convention; a partially filled order still shows its
// full requested size. Market orders never appear, as they never rest.
func (v *View) Levels(ticker string) (bids, asks []venue.Level, err error) {
	// Sorted greatest first.
	bidTree := btree.NewBTreeG(func(a, b venue.Level) bool {
		return a.Price > b.Price
	})
	// Sorted least first.
	askTree := btree.NewBTreeG(func(a, b venue.Level) bool {
		return a.Price < b.Price
	})

	err = v.db.Scan([]byte("r/"+ticker+"/"), func(key, val []byte) (bool, error) {
		rec, ok, err := v.db.Get([]byte("o/" + string(val)))
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		var o venue.Order
		if err := storage.DecodeGob(rec, &o); err != nil {
			return false, err
		}
		if !o.Resting() {
			return true, nil
		}

		tree := askTree
		if o.Side == venue.Buy {
			tree = bidTree
		}
		level, ok := tree.Get(venue.Level{Price: o.Price})
		if !ok {
			level = venue.Level{Price: o.Price}
		}
		level.Qty += o.Qty
		tree.Set(level)
		return true, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: aggregate book: %v", venue.ErrStorage, err)
	}

	bids = make([]venue.Level, 0, bidTree.Len())
	bidTree.Scan(func(l venue.Level) bool {
		bids = append(bids, l)
		return true
	})
	asks = make([]venue.Level, 0, askTree.Len())
	askTree.Scan(func(l venue.Level) bool {
		asks = append(asks, l)
		return true
	})
	return bids, asks, nil
}
