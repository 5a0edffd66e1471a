package venue

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the resting side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Kind string

const (
	Limit  Kind = "LIMIT"
	Market Kind = "MARKET"
)

type Status string

const (
	// StatusNew is an order with no fills that has not been cancelled.
	StatusNew               Status = "NEW"
	StatusPartiallyExecuted Status = "PARTIALLY_EXECUTED"
	StatusExecuted          Status = "EXECUTED"
	// StatusCancelled is terminal; a cancelled order takes no further fills
	// and never reappears in the book.
	StatusCancelled Status = "CANCELLED"
)

// Order is a buy/sell instruction. Price is present (positive) iff the
// order is a limit order; a market order carries no price of its own and
// always executes at resting prices. Seq is assigned monotonically at
// creation and is the time-priority tie-break; it is never altered.
type Order struct {
	ID        string
	UserID    string
	Ticker    string
	Side      Side
	Price     int64 // 0 for market orders
	Qty       int64
	Filled    int64
	Status    Status
	Timestamp time.Time
	Seq       uint64
}

func (o *Order) Kind() Kind {
	if o.Price > 0 {
		return Limit
	}
	return Market
}

func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// Resting reports whether the order is still eligible for matching.
func (o *Order) Resting() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyExecuted
}

// Trade is an immutable record of one match. Price is always the resting
// order's limit price. Buyer and seller are owner ids, not order ids.
type Trade struct {
	ID        string
	Ticker    string
	Qty       int64
	Price     int64
	Timestamp time.Time
	BuyerID   string
	SellerID  string
	Seq       uint64
}

type Instrument struct {
	Name   string
	Ticker string
}

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID     string
	Name   string
	Role   Role
	APIKey string
}

// Level is one aggregated price level of the order book.
type Level struct {
	Price int64
	Qty   int64
}
