package api

import (
	"time"

	"github.com/avralex/bourse/pkg/venue"
)

// Request/response types for the REST endpoints.

type OrderBody struct {
	Direction venue.Side `json:"direction"`
	Ticker    string     `json:"ticker"`
	Qty       int64      `json:"qty"`
	// Price present makes this a limit order; absent, a market order.
	Price *int64 `json:"price,omitempty"`
}

// OrderSnapshot renders an order as its tagged variant: limit orders
// carry a priced body and a fill counter, market orders neither.
type OrderSnapshot struct {
	ID        string       `json:"id"`
	Status    venue.Status `json:"status"`
	UserID    string       `json:"user_id"`
	Timestamp time.Time    `json:"timestamp"`
	Body      OrderBody    `json:"body"`
	Filled    *int64       `json:"filled,omitempty"`
}

func snapshotOf(o *venue.Order) OrderSnapshot {
	snap := OrderSnapshot{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		Timestamp: o.Timestamp,
		Body: OrderBody{
			Direction: o.Side,
			Ticker:    o.Ticker,
			Qty:       o.Qty,
		},
	}
	if o.Kind() == venue.Limit {
		price := o.Price
		filled := o.Filled
		snap.Body.Price = &price
		snap.Filled = &filled
	}
	return snap
}

type CreateOrderResponse struct {
	Success   bool         `json:"success"`
	OrderID   string       `json:"order_id"`
	FilledQty int64        `json:"filled_qty"`
	Status    venue.Status `json:"status"`
}

type OkResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type LevelInfo struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

type OrderBookResponse struct {
	BidLevels []LevelInfo `json:"bid_levels"`
	AskLevels []LevelInfo `json:"ask_levels"`
}

type TransactionInfo struct {
	Ticker    string    `json:"ticker"`
	Amount    int64     `json:"amount"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type InstrumentBody struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type BalanceChangeBody struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

type RegisterBody struct {
	Name string `json:"name"`
}

type UserInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Role   venue.Role `json:"role"`
	APIKey string     `json:"api_key"`
}
