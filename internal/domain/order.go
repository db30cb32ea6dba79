package domain

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the crossing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// TimeInForce selects resting vs immediate execution.
type TimeInForce string

const (
	TIFGoodTillTime      TimeInForce = "GOOD_TILL_TIME"
	TIFImmediateOrCancel TimeInForce = "IMMEDIATE_OR_CANCEL"
)

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsResting reports whether the order is (or is about to be) on the book.
func (s OrderStatus) IsResting() bool {
	return s == StatusPending || s == StatusOpen
}

// IsTerminal reports whether no further fills can happen.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderRequest is what the orchestrator asks a gateway to place.
// Price 0 with IOC means a market order.
type OrderRequest struct {
	ClientOrderID string            `json:"client_order_id"`
	Market        string            `json:"market"`
	Side          Side              `json:"side"`
	Size          quant.QtySats     `json:"size,string"`
	Price         quant.PriceMicros `json:"price,string"`
	TimeInForce   TimeInForce       `json:"tif"`
	PostOnly      bool              `json:"post_only"`
	ReduceOnly    bool              `json:"reduce_only"`
}

// IsMarket reports whether the request carries no limit price.
func (r OrderRequest) IsMarket() bool { return r.Price == 0 }

// OrderResult is a gateway's view of an order. FilledSize is always reported
// separately from RequestedSize.
type OrderResult struct {
	OrderID       string            `json:"order_id"`
	ClientOrderID string            `json:"client_order_id"`
	Market        string            `json:"market"`
	Side          Side              `json:"side"`
	Status        OrderStatus       `json:"status"`
	RequestedSize quant.QtySats     `json:"requested_size,string"`
	FilledSize    quant.QtySats     `json:"filled_size,string"`
	Price         quant.PriceMicros `json:"price,string"`
}

// Remaining returns the unfilled quantity.
func (r OrderResult) Remaining() quant.QtySats {
	if r.FilledSize >= r.RequestedSize {
		return 0
	}
	return r.RequestedSize - r.FilledSize
}

// Matches reports whether r refers to the same order as id/clientID.
func (r OrderResult) Matches(orderID, clientOrderID string) bool {
	if orderID != "" && r.OrderID == orderID {
		return true
	}
	return clientOrderID != "" && r.ClientOrderID == clientOrderID
}

// NewClientOrderID returns a random decimal client order id. GRVT expects a
// uint32-range value it can also use as the signing nonce.
func NewClientOrderID() string {
	return strconv.FormatUint(uint64(uuid.New().ID()), 10)
}
