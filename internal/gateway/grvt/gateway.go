package grvt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// MarketSource resolves market constraints.
type MarketSource interface {
	Market(ctx context.Context, symbol string) (domain.Market, error)
}

// Gateway is the GRVT trading surface of one account.
type Gateway struct {
	account domain.AccountID
	client  *Client
	session SessionProvider
	signer  OrderSigner
	markets MarketSource

	expiry time.Duration
	now    func() time.Time
}

var _ domain.Gateway = (*Gateway)(nil)

// NewGateway wires one account's client, session and signer.
func NewGateway(account domain.AccountID, client *Client, session SessionProvider, signer OrderSigner, markets MarketSource) *Gateway {
	return &Gateway{
		account: account,
		client:  client,
		session: session,
		signer:  signer,
		markets: markets,
		expiry:  30 * 24 * time.Hour,
		now:     time.Now,
	}
}

func (g *Gateway) Account() domain.AccountID { return g.account }

// PlaceOrder signs and submits an order through the lite create-order API.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	m, err := g.markets.Market(ctx, req.Market)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sess, err := g.session.Session(ctx)
	if err != nil {
		return domain.OrderResult{}, domain.NewError(domain.KindAuthExpired, "place order", err)
	}
	subID, err := sess.SubAccount()
	if err != nil {
		return domain.OrderResult{}, err
	}
	assetID, err := parseAssetID(m.InstrumentHash)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("instrument %s: %w", m.Symbol, err)
	}

	isMarket := req.IsMarket()
	tif, tifCode := "GOOD_TILL_TIME", uint8(tifCodeGoodTillTime)
	if req.TimeInForce == domain.TIFImmediateOrCancel {
		tif, tifCode = "IMMEDIATE_OR_CANCEL", tifCodeImmediateOrCancel
	}

	intent := OrderIntent{
		SubAccountID: subID,
		IsMarket:     isMarket,
		TimeInForce:  tifCode,
		PostOnly:     req.PostOnly,
		ReduceOnly:   req.ReduceOnly,
		Legs: []IntentLeg{{
			AssetID:          assetID,
			ContractSize:     contractSize(req.Size, m.BaseDecimals),
			LimitPrice:       limitPrice(req.Price),
			IsBuyingContract: req.Side == domain.SideBuy,
		}},
		Nonce:      ClientNonce(req.ClientOrderID),
		Expiration: g.expiration(isMarket),
	}
	sig, err := g.signer.Sign(ctx, intent)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("sign order: %w", err)
	}

	lp := "0"
	if !isMarket {
		lp = req.Price.Decimal().String()
	}
	body := createOrderRequest{O: liteCreate{
		SA: sess.SubAccountID,
		IM: isMarket,
		TI: tif,
		PO: req.PostOnly,
		RO: req.ReduceOnly,
		L:  []liteLeg{{I: req.Market, S: req.Size.Decimal().String(), LP: lp, IB: req.Side == domain.SideBuy}},
		S: liteSig{
			S: sig.Signer, R: sig.R, S1: sig.S, V: sig.V,
			E: strconv.FormatInt(sig.Expiration, 10), N: sig.Nonce,
		},
		M: liteMeta{S: "WEB", CO: strconv.FormatUint(uint64(intent.Nonce), 10)},
	}}

	var resp struct {
		R liteOrder `json:"r"`
	}
	if err := g.client.postTrades(ctx, pathCreateOrder, body, &resp); err != nil {
		return domain.OrderResult{}, err
	}

	res := domain.OrderResult{
		OrderID:       resp.R.orderID(),
		ClientOrderID: req.ClientOrderID,
		Market:        req.Market,
		Side:          req.Side,
		Status:        mapStatus(resp.R.S1.S),
		RequestedSize: req.Size,
		FilledSize:    resp.R.filled(),
		Price:         req.Price,
	}
	if res.Status == domain.StatusRejected {
		return res, domain.Errorf(domain.KindOrderRejected, "place order", "%s rejected: %s", req.Market, resp.R.S1.RR)
	}
	if res.OrderID == "" {
		return res, domain.Errorf(domain.KindOrderRejected, "place order", "%s: response carried no order id", req.Market)
	}
	return res, nil
}

func (g *Gateway) expiration(isMarket bool) int64 {
	exp := g.now().Add(g.expiry)
	if isMarket {
		return exp.UnixNano()
	}
	return exp.UnixMilli() * int64(time.Millisecond)
}

// CancelOrder cancels one order. An exchange refusal is reported as
// "not open" so that callers verify against OpenOrders.
func (g *Gateway) CancelOrder(ctx context.Context, market, orderID string) (bool, error) {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return false, domain.NewError(domain.KindAuthExpired, "cancel order", err)
	}
	var resp struct {
		Result struct {
			Ack bool `json:"ack"`
		} `json:"result"`
	}
	payload := map[string]string{"sub_account_id": sess.SubAccountID, "order_id": orderID}
	if err := g.client.postTrades(ctx, pathCancelOrder, payload, &resp); err != nil {
		if errors.Is(err, domain.ErrOrderRejected) {
			return false, nil
		}
		return false, err
	}
	return resp.Result.Ack, nil
}

// CancelAll cancels every open order on market, or on the whole sub-account
// when market is empty.
func (g *Gateway) CancelAll(ctx context.Context, market string) error {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return domain.NewError(domain.KindAuthExpired, "cancel all", err)
	}
	if market == "" {
		return g.client.postTrades(ctx, pathCancelAllOrders, map[string]string{"sub_account_id": sess.SubAccountID}, nil)
	}

	open, err := g.OpenOrders(ctx, market)
	if err != nil {
		return err
	}
	var errs []error
	for _, o := range open {
		if _, err := g.CancelOrder(ctx, market, o.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.OrderID, err))
		}
	}
	return errors.Join(errs...)
}

// GetOrderStatus reads one order by id.
func (g *Gateway) GetOrderStatus(ctx context.Context, market, orderID string) (domain.OrderResult, error) {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return domain.OrderResult{}, domain.NewError(domain.KindAuthExpired, "order status", err)
	}
	var resp struct {
		Result Order `json:"result"`
	}
	payload := map[string]string{"sub_account_id": sess.SubAccountID, "order_id": orderID}
	if err := g.client.postTrades(ctx, pathOrder, payload, &resp); err != nil {
		return domain.OrderResult{}, err
	}
	res := resp.Result.Result()
	if res.OrderID == "" {
		res.OrderID = orderID
	}
	if res.Market == "" {
		res.Market = market
	}
	return res, nil
}

// OpenOrders lists resting orders, filtered client-side by market.
func (g *Gateway) OpenOrders(ctx context.Context, market string) ([]domain.OrderResult, error) {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindAuthExpired, "open orders", err)
	}
	var resp struct {
		Result []Order `json:"result"`
	}
	payload := map[string]any{"sub_account_id": sess.SubAccountID, "kind": []string{"PERPETUAL"}}
	if err := g.client.postTrades(ctx, pathOpenOrders, payload, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.OrderResult, 0, len(resp.Result))
	for _, o := range resp.Result {
		r := o.Result()
		if market != "" && r.Market != market {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetPositions returns signed positions of the sub-account.
func (g *Gateway) GetPositions(ctx context.Context) ([]domain.Position, error) {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindAuthExpired, "positions", err)
	}
	var resp struct {
		Result []Position `json:"result"`
	}
	if err := g.client.postTrades(ctx, pathPositions, map[string]string{"sub_account_id": sess.SubAccountID}, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Position, 0, len(resp.Result))
	for _, p := range resp.Result {
		size, err := quant.ParseQty(p.Size)
		if err != nil {
			return nil, fmt.Errorf("position %s size %q: %w", p.Instrument, p.Size, err)
		}
		out = append(out, domain.Position{Market: p.Instrument, Size: size})
	}
	return out, nil
}

// MarginRatio returns maintenance margin / equity, zero with no equity.
func (g *Gateway) MarginRatio(ctx context.Context) (decimal.Decimal, error) {
	sess, err := g.session.Session(ctx)
	if err != nil {
		return decimal.Zero, domain.NewError(domain.KindAuthExpired, "account summary", err)
	}
	var resp struct {
		Result AccountSummary `json:"result"`
	}
	if err := g.client.postTrades(ctx, pathAccountSummary, map[string]string{"sub_account_id": sess.SubAccountID}, &resp); err != nil {
		return decimal.Zero, err
	}

	eqStr := resp.Result.TotalEquity
	if eqStr == "" {
		eqStr = resp.Result.Equity
	}
	equity, err := decimalOrZero(eqStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("equity %q: %w", eqStr, err)
	}
	margin, err := decimalOrZero(resp.Result.MaintenanceMargin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("maintenance margin: %w", err)
	}
	if !equity.IsPositive() {
		return decimal.Zero, nil
	}
	return margin.Div(equity), nil
}

// Ping checks that the session is accepted.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.MarginRatio(ctx)
	return err
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// ClientNonce maps a client order id onto the exchange's uint32 nonce.
// Numeric ids are used as-is.
func ClientNonce(clientOrderID string) uint32 {
	if n, err := strconv.ParseUint(clientOrderID, 10, 32); err == nil {
		return uint32(n)
	}
	h := fnv.New32a()
	h.Write([]byte(clientOrderID))
	return h.Sum32()
}

// contractSize scales a size to base-decimals integer units.
func contractSize(q quant.QtySats, baseDecimals int) uint64 {
	v := uint64(q.Abs())
	switch {
	case baseDecimals > 8:
		for d := 8; d < baseDecimals; d++ {
			v *= 10
		}
	case baseDecimals < 8:
		for d := baseDecimals; d < 8; d++ {
			v /= 10
		}
	}
	return v
}

// limitPrice scales a price to the 9-decimal signed-message unit.
func limitPrice(p quant.PriceMicros) uint64 {
	if p <= 0 {
		return 0
	}
	return uint64(p) * 1000
}

func parseAssetID(hash string) (*big.Int, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("missing instrument hash")
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(hash, "0x") || strings.HasPrefix(hash, "0X") {
		_, ok = n.SetString(hash[2:], 16)
	} else {
		_, ok = n.SetString(hash, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid instrument hash %q", hash)
	}
	return n, nil
}
