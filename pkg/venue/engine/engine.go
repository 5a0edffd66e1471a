// Package engine matches incoming orders against resting ones and
// settles each match by moving cash and instrument balances between the
// two counterparties. One submission is one unit of work: every read,
// lock and mutation it performs commits or rolls back as a whole, so a
// failed submission leaves no resting order, no trade and no balance
// change behind.
package engine

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/util"
	"github.com/avralex/bourse/pkg/venue"
	"github.com/avralex/bourse/pkg/venue/instrument"
	"github.com/avralex/bourse/pkg/venue/ledger"
	"github.com/avralex/bourse/pkg/venue/orderstore"
	"github.com/avralex/bourse/pkg/venue/tradelog"
)

type Engine struct {
	db          *storage.DB
	instruments *instrument.Registry
	orders      *orderstore.Store
	trades      *tradelog.Log
	ledger      *ledger.Ledger
	quoteAsset  string
	clock       util.Clock
	log         *zap.SugaredLogger
}

func New(db *storage.DB, instruments *instrument.Registry, orders *orderstore.Store, trades *tradelog.Log, bal *ledger.Ledger, quoteAsset string, clock util.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{
		db:          db,
		instruments: instruments,
		orders:      orders,
		trades:      trades,
		ledger:      bal,
		quoteAsset:  quoteAsset,
		clock:       clock,
		log:         log,
	}
}

// SubmitRequest describes an incoming order. Price 0 means a market
// order; a positive price makes it a limit order.
type SubmitRequest struct {
	UserID string
	Ticker string
	Side   venue.Side
	Qty    int64
	Price  int64
}

type Result struct {
	OrderID string
	Filled  int64
	Status  venue.Status
}

// Submit runs one order submission to completion: validation, pre-flight
// balance gates, candidate selection in price-time priority, the chunk
// loop with per-chunk settlement, and persistence of the incoming order's
// final state. Any failure rolls back everything, including chunks
// already applied earlier in the same loop.
func (e *Engine) Submit(req SubmitRequest) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	isLimit := req.Price > 0

	u := e.db.Begin()
	defer u.Rollback()

	u.LockInstrument(req.Ticker)

	if _, err := e.instruments.Lookup(req.Ticker); err != nil {
		return nil, err
	}

	// Pre-flight gates. A market BUY has no aggregate cash gate on
	// purpose: its execution price is unknown up front, so cash
	// sufficiency is enforced per matched chunk below.
	if req.Side == venue.Buy && isLimit {
		ok, err := e.ledger.Check(u, req.UserID, e.quoteAsset, req.Qty*req.Price)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: need %d %s", venue.ErrInsufficientFunds, req.Qty*req.Price, e.quoteAsset)
		}
	}
	if req.Side == venue.Sell {
		ok, err := e.ledger.Check(u, req.UserID, req.Ticker, req.Qty)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: need %d %s", venue.ErrInsufficientFunds, req.Qty, req.Ticker)
		}
	}

	var priceFilter func(int64) bool
	if isLimit {
		if req.Side == venue.Buy {
			priceFilter = func(p int64) bool { return p <= req.Price }
		} else {
			priceFilter = func(p int64) bool { return p >= req.Price }
		}
	}

	candidates, err := e.orders.RestingCandidates(u, req.Ticker, req.Side.Opposite(), priceFilter)
	if err != nil {
		return nil, err
	}

	// Market orders are all-or-nothing against visible liquidity and
	// never rest.
	if !isLimit {
		var available int64
		for _, c := range candidates {
			available += c.Remaining()
		}
		if available < req.Qty {
			return nil, fmt.Errorf("%w: %d available, %d requested", venue.ErrInsufficientLiquidity, available, req.Qty)
		}
	}

	seq, err := u.NextSeq()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	incoming := &venue.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Ticker:    req.Ticker,
		Side:      req.Side,
		Price:     req.Price,
		Qty:       req.Qty,
		Status:    venue.StatusNew,
		Timestamp: e.clock.Now().UTC(),
		Seq:       seq,
	}

	// All balances this submission may touch are known once the
	// candidate set is; lock them in one sorted batch.
	balanceKeys := []string{
		ledger.Key(req.UserID, e.quoteAsset),
		ledger.Key(req.UserID, req.Ticker),
	}
	for _, c := range candidates {
		balanceKeys = append(balanceKeys,
			ledger.Key(c.UserID, e.quoteAsset),
			ledger.Key(c.UserID, req.Ticker))
	}
	u.LockBalances(balanceKeys)

	var totalFilled int64
	for _, maker := range candidates {
		if totalFilled >= req.Qty {
			break
		}
		matchQty := min(req.Qty-totalFilled, maker.Remaining())
		if matchQty <= 0 {
			continue
		}
		// Trades always execute at the resting order's price.
		price := maker.Price

		buyerID, sellerID := req.UserID, maker.UserID
		if req.Side == venue.Sell {
			buyerID, sellerID = maker.UserID, req.UserID
		}

		if err := e.checkChunk(u, req.Ticker, buyerID, sellerID, matchQty, price); err != nil {
			return nil, err
		}

		tradeSeq, err := u.NextSeq()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", venue.ErrStorage, err)
		}
		trade := &venue.Trade{
			ID:        uuid.NewString(),
			Ticker:    req.Ticker,
			Qty:       matchQty,
			Price:     price,
			Timestamp: e.clock.Now().UTC(),
			BuyerID:   buyerID,
			SellerID:  sellerID,
			Seq:       tradeSeq,
		}
		if err := e.trades.Append(u, trade); err != nil {
			return nil, err
		}
		if err := e.orders.MarkFill(u, maker, matchQty); err != nil {
			return nil, err
		}

		cash := matchQty * price
		if err := e.ledger.ApplyDelta(u, buyerID, e.quoteAsset, -cash); err != nil {
			return nil, err
		}
		if err := e.ledger.ApplyDelta(u, sellerID, e.quoteAsset, cash); err != nil {
			return nil, err
		}
		if err := e.ledger.ApplyDelta(u, buyerID, req.Ticker, matchQty); err != nil {
			return nil, err
		}
		if err := e.ledger.ApplyDelta(u, sellerID, req.Ticker, -matchQty); err != nil {
			return nil, err
		}

		totalFilled += matchQty
	}

	incoming.Filled = totalFilled
	switch {
	case totalFilled == req.Qty:
		incoming.Status = venue.StatusExecuted
	case totalFilled > 0:
		incoming.Status = venue.StatusPartiallyExecuted
	}

	// A limit order always persists and, when unfilled, rests as a future
	// candidate. A market order only exists in its EXECUTED terminal
	// state; the liquidity gate above guarantees there is no other.
	if isLimit || incoming.Status == venue.StatusExecuted {
		if err := e.orders.Insert(u, incoming); err != nil {
			return nil, err
		}
	}

	if err := u.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}

	e.log.Infow("order_submitted",
		"order_id", incoming.ID,
		"user_id", req.UserID,
		"ticker", req.Ticker,
		"side", req.Side,
		"kind", incoming.Kind(),
		"qty", req.Qty,
		"filled", totalFilled,
		"status", incoming.Status,
	)
	return &Result{OrderID: incoming.ID, Filled: totalFilled, Status: incoming.Status}, nil
}

// checkChunk is the two-sided gate for one match: the buyer must hold the
// cash and the seller the instrument quantity for exactly this chunk.
// Reads see the deltas of earlier chunks in the same unit, so the check
// is against the running balance, not the committed one.
func (e *Engine) checkChunk(u *storage.UnitOfWork, ticker, buyerID, sellerID string, qty, price int64) error {
	ok, err := e.ledger.Check(u, buyerID, e.quoteAsset, qty*price)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: buyer short %d %s", venue.ErrInsufficientFunds, qty*price, e.quoteAsset)
	}
	ok, err = e.ledger.Check(u, sellerID, ticker, qty)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: seller short %d %s", venue.ErrInsufficientFunds, qty, ticker)
	}
	return nil
}

// Caps on order size. Their product fits comfortably in int64, so no
// qty*price computation downstream can overflow.
const (
	maxQty   = 1_000_000_000
	maxPrice = 1_000_000_000
)

func validate(req SubmitRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: missing user", venue.ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side must be BUY or SELL", venue.ErrInvalidOrder)
	}
	if req.Qty < 1 || req.Qty > maxQty {
		return fmt.Errorf("%w: qty must be between 1 and %d", venue.ErrInvalidOrder, maxQty)
	}
	if req.Price < 0 || req.Price > maxPrice {
		return fmt.Errorf("%w: price must be positive and at most %d", venue.ErrInvalidOrder, maxPrice)
	}
	return nil
}
