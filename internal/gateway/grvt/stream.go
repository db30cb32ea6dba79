package grvt

import (
	"encoding/json"
	"strings"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

// Stream names of the GRVT websocket API.
const (
	StreamTicker = "v1.ticker.s"
	StreamOrder  = "v1.order"
)

type subscribeParams struct {
	Stream    string   `json:"stream"`
	Selectors []string `json:"selectors"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  subscribeParams `json:"params"`
	ID      int64           `json:"id"`
}

// SubscribeMessage builds a JSON-RPC subscribe request.
func SubscribeMessage(stream string, selectors []string, id int64) ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		Params:  subscribeParams{Stream: stream, Selectors: selectors},
		ID:      id,
	})
}

// OrderSelectors returns the v1.order selectors of a sub-account. Both the
// account-wide and the instrument-scoped form are requested since either may
// be the one delivering updates.
func OrderSelectors(subAccountID, market string) []string {
	sel := []string{subAccountID}
	if market != "" {
		sel = append(sel, subAccountID+"-"+market)
	}
	return sel
}

// streamEnvelope covers the framings seen on the stream: a bare feed
// message, a JSON-RPC notification and a JSON-RPC result.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Feed   json.RawMessage `json:"feed"`
	Result json.RawMessage `json:"result"`
	Params *struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// feedPayload returns the innermost feed object of a stream message.
func feedPayload(msg []byte) (json.RawMessage, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false
	}
	body := env.Feed
	if len(body) == 0 {
		switch {
		case env.Params != nil && len(env.Params.Result) > 0:
			body = env.Params.Result
		case len(env.Result) > 0:
			body = env.Result
		default:
			return nil, false
		}
		var inner struct {
			Feed json.RawMessage `json:"feed"`
		}
		if err := json.Unmarshal(body, &inner); err == nil && len(inner.Feed) > 0 {
			body = inner.Feed
		}
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	return body, true
}

// ParseTickerFeed extracts a snapshot from a v1.ticker.s message. Subscribe
// acknowledgements and malformed frames report false.
func ParseTickerFeed(msg []byte) (domain.TickerSnapshot, bool) {
	body, ok := feedPayload(msg)
	if !ok {
		return domain.TickerSnapshot{}, false
	}
	var t Ticker
	if err := json.Unmarshal(body, &t); err != nil || t.BestBidPrice == "" || t.BestAskPrice == "" {
		return domain.TickerSnapshot{}, false
	}
	snap, err := t.Snapshot()
	if err != nil || !snap.Valid() {
		return domain.TickerSnapshot{}, false
	}
	return snap, true
}

// ParseOrderFeed extracts an order update from a v1.order message. Both the
// full and the abbreviated order formats are accepted.
func ParseOrderFeed(msg []byte) (domain.OrderResult, bool) {
	body, ok := feedPayload(msg)
	if !ok {
		return domain.OrderResult{}, false
	}

	var full Order
	if err := json.Unmarshal(body, &full); err == nil && (full.State.Status != "" || len(full.Legs) > 0) {
		return full.Result(), true
	}

	var lite liteOrder
	if err := json.Unmarshal(body, &lite); err != nil || (lite.S1.S == "" && len(lite.L) == 0) {
		return domain.OrderResult{}, false
	}
	res := domain.OrderResult{
		OrderID:       lite.orderID(),
		ClientOrderID: lite.M.CO,
		Status:        mapStatus(lite.S1.S),
		FilledSize:    lite.filled(),
	}
	if len(lite.L) > 0 {
		leg := lite.L[0]
		res.Market = leg.I
		res.Side = sideOf(leg.IB)
		res.RequestedSize = firstQty([]string{leg.S})
		res.Price = parsePriceOrZero(leg.LP)
	}
	return res, true
}

// EqualMarket compares instrument names case-insensitively.
func EqualMarket(a, b string) bool { return strings.EqualFold(a, b) }
