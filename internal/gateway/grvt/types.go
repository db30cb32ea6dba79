package grvt

import (
	"encoding/json"
	"strings"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Endpoint paths. Trading uses the edge "trades" host, market data its own host.
const (
	pathCreateOrder     = "/lite/v1/create_order"
	pathCancelOrder     = "/full/v1/cancel_order"
	pathCancelAllOrders = "/full/v1/cancel_all_orders"
	pathOpenOrders      = "/full/v1/open_orders"
	pathOrder           = "/full/v1/order"
	pathPositions       = "/full/v1/positions"
	pathAccountSummary  = "/full/v1/account_summary"

	pathInstrument     = "/full/v1/instrument"
	pathAllInstruments = "/full/v1/all_instruments"
	pathTicker         = "/full/v1/ticker"
)

// Exchange error codes with specific handling.
const (
	codeAuthRequired       = 1000
	codeSignatureInvalid   = 2002
	codeSizeTooSmall       = 2066
	codeInsufficientMargin = 2080
)

// errorResponse is the body GRVT returns for a rejected request.
type errorResponse struct {
	Code    int    `json:"code"`
	C       int    `json:"c"`
	Message string `json:"message"`
	M       string `json:"m"`
	Status  int    `json:"status"`
}

func (e errorResponse) code() int {
	if e.Code != 0 {
		return e.Code
	}
	return e.C
}

func (e errorResponse) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.M
}

// Instrument is the full-format instrument description.
type Instrument struct {
	Instrument     string          `json:"instrument"`
	InstrumentHash string          `json:"instrument_hash"`
	Base           string          `json:"base"`
	Quote          string          `json:"quote"`
	Kind           string          `json:"kind"`
	BaseDecimals   json.RawMessage `json:"base_decimals"`
	TickSize       string          `json:"tick_size"`
	MinSize        string          `json:"min_size"`
	MinNotional    string          `json:"min_notional"`
}

// Ticker is the full-format ticker (REST result or WS feed).
type Ticker struct {
	EventTime    string `json:"event_time"`
	Instrument   string `json:"instrument"`
	BestBidPrice string `json:"best_bid_price"`
	BestAskPrice string `json:"best_ask_price"`
	MarkPrice    string `json:"mark_price"`
}

// Snapshot converts the ticker into a domain snapshot. A missing event time
// is left zero for the caller to stamp.
func (t Ticker) Snapshot() (domain.TickerSnapshot, error) {
	bid, err := quant.ParsePrice(t.BestBidPrice)
	if err != nil {
		return domain.TickerSnapshot{}, err
	}
	ask, err := quant.ParsePrice(t.BestAskPrice)
	if err != nil {
		return domain.TickerSnapshot{}, err
	}
	snap := domain.TickerSnapshot{Market: t.Instrument, Bid: bid, Ask: ask}
	if t.EventTime != "" {
		if ts, err := quant.ParseNanoTimeStamp(t.EventTime); err == nil {
			snap.Ts = ts
		}
	}
	return snap, nil
}

// OrderLeg is one leg of a full-format order.
type OrderLeg struct {
	Instrument    string `json:"instrument"`
	Size          string `json:"size"`
	LimitPrice    string `json:"limit_price"`
	IsBuyingAsset bool   `json:"is_buying_asset"`
}

// OrderState is the full-format order state.
type OrderState struct {
	Status       string   `json:"status"`
	RejectReason string   `json:"reject_reason"`
	BookSize     []string `json:"book_size"`
	TradedSize   []string `json:"traded_size"`
}

// OrderMetadata carries the client order id.
type OrderMetadata struct {
	ClientOrderID string `json:"client_order_id"`
}

// Order is the full-format order returned by order queries and the order
// stream.
type Order struct {
	OrderID      string        `json:"order_id"`
	SubAccountID string        `json:"sub_account_id"`
	IsMarket     bool          `json:"is_market"`
	TimeInForce  string        `json:"time_in_force"`
	PostOnly     bool          `json:"post_only"`
	ReduceOnly   bool          `json:"reduce_only"`
	Legs         []OrderLeg    `json:"legs"`
	Metadata     OrderMetadata `json:"metadata"`
	State        OrderState    `json:"state"`
}

// Result converts a full order into the gateway result.
func (o Order) Result() domain.OrderResult {
	res := domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.Metadata.ClientOrderID,
		Status:        mapStatus(o.State.Status),
		FilledSize:    firstQty(o.State.TradedSize),
	}
	if len(o.Legs) > 0 {
		leg := o.Legs[0]
		res.Market = leg.Instrument
		res.Side = sideOf(leg.IsBuyingAsset)
		res.RequestedSize, _ = quant.ParseQty(leg.Size)
		res.Price, _ = quant.ParsePrice(leg.LimitPrice)
	}
	return res
}

// Position is one full-format position entry.
type Position struct {
	Instrument string `json:"instrument"`
	Size       string `json:"size"`
}

// AccountSummary carries the fields of the margin guard.
type AccountSummary struct {
	TotalEquity       string `json:"total_equity"`
	Equity            string `json:"equity"`
	MaintenanceMargin string `json:"maintenance_margin"`
}

// liteState is the abbreviated order state in lite responses:
// s=status, rr=reject reason, bs=book size, ts=traded size.
type liteState struct {
	S  string   `json:"s"`
	RR string   `json:"rr"`
	BS []string `json:"bs"`
	TS []string `json:"ts"`
}

type liteLeg struct {
	I  string `json:"i"`
	S  string `json:"s"`
	LP string `json:"lp"`
	IB bool   `json:"ib"`
}

type liteMeta struct {
	S  string `json:"s"`
	CO string `json:"co"`
}

// liteOrder is the create-order response body (and request echo).
type liteOrder struct {
	OI         string    `json:"oi"`
	OID        string    `json:"oid"`
	SA         string    `json:"sa"`
	L          []liteLeg `json:"l"`
	M          liteMeta  `json:"m"`
	S1         liteState `json:"s1"`
	FilledSize string    `json:"filled_size"`
}

func (o liteOrder) orderID() string {
	if o.OI != "" {
		return o.OI
	}
	return o.OID
}

// filled reads the traded size, falling back to an explicit filled_size.
func (o liteOrder) filled() quant.QtySats {
	if len(o.S1.TS) > 0 {
		return firstQty(o.S1.TS)
	}
	if o.FilledSize != "" {
		q, _ := quant.ParseQty(o.FilledSize)
		return q
	}
	return 0
}

func firstQty(xs []string) quant.QtySats {
	if len(xs) == 0 {
		return 0
	}
	q, err := quant.ParseQty(xs[0])
	if err != nil {
		return 0
	}
	return q
}

func sideOf(buying bool) domain.Side {
	if buying {
		return domain.SideBuy
	}
	return domain.SideSell
}

func mapStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "OPEN":
		return domain.StatusOpen
	case "FILLED":
		return domain.StatusFilled
	case "CANCELLED", "CANCELED":
		return domain.StatusCancelled
	case "REJECTED":
		return domain.StatusRejected
	default:
		return domain.StatusPending
	}
}

// createOrderRequest is the lite create-order body.
type createOrderRequest struct {
	O liteCreate `json:"o"`
}

type liteCreate struct {
	SA string    `json:"sa"`
	IM bool      `json:"im"`
	TI string    `json:"ti"`
	PO bool      `json:"po"`
	RO bool      `json:"ro"`
	L  []liteLeg `json:"l"`
	S  liteSig   `json:"s"`
	M  liteMeta  `json:"m"`
}

type liteSig struct {
	S  string `json:"s"`
	R  string `json:"r"`
	S1 string `json:"s1"`
	V  int    `json:"v"`
	E  string `json:"e"`
	N  uint32 `json:"n"`
}

func parsePriceOrZero(s string) quant.PriceMicros {
	p, err := quant.ParsePrice(s)
	if err != nil {
		return 0
	}
	return p
}
