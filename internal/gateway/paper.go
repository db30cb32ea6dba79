// Package gateway builds the account gateways of a run: the shared paper
// venue for dry runs or the two authenticated GRVT accounts.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/safe"
)

// Quotes supplies the external top of book the paper venue trades against.
type Quotes interface {
	Observe(market string) (domain.TickerSnapshot, bool)
}

// Fill is one simulated execution.
type Fill struct {
	OrderID string
	Account domain.AccountID
	Market  string
	Side    domain.Side
	Price   quant.PriceMicros
	Qty     quant.QtySats
	Ts      quant.TimeStamp
}

type paperOrder struct {
	account domain.AccountID
	seq     uint64
	res     domain.OrderResult
}

// PaperOptions configures the simulated accounts.
type PaperOptions struct {
	Equity          decimal.Decimal // per account, quote currency
	MaintenanceRate decimal.Decimal // maintenance margin per unit of notional
	Hub             *confirm.Hub    // optional; receives order updates
	Now             func() time.Time
}

// PaperExchange is a minimal venue shared by both paper accounts: post-only
// orders rest, IOC orders cross resting orders of the other account, and
// market orders fill in full at the external touch.
type PaperExchange struct {
	mu        sync.Mutex
	quotes    Quotes
	opts      PaperOptions
	nextID    uint64
	orders    map[string]*paperOrder // resting
	all       map[string]*paperOrder
	positions map[domain.AccountID]map[string]quant.QtySats
	fills     []Fill
}

// NewPaperExchange creates an empty venue.
func NewPaperExchange(quotes Quotes, opts PaperOptions) *PaperExchange {
	if opts.Equity.IsZero() {
		opts.Equity = decimal.NewFromInt(10_000)
	}
	if opts.MaintenanceRate.IsZero() {
		opts.MaintenanceRate = decimal.RequireFromString("0.005")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PaperExchange{
		quotes:    quotes,
		opts:      opts,
		orders:    make(map[string]*paperOrder),
		all:       make(map[string]*paperOrder),
		positions: make(map[domain.AccountID]map[string]quant.QtySats),
	}
}

// Account returns the gateway of one paper account.
func (p *PaperExchange) Account(id domain.AccountID) *PaperAccount {
	p.mu.Lock()
	if p.positions[id] == nil {
		p.positions[id] = make(map[string]quant.QtySats)
	}
	p.mu.Unlock()
	if p.opts.Hub != nil {
		p.opts.Hub.SetConnected(id, true)
	}
	return &PaperAccount{venue: p, id: id}
}

// SetPosition seeds a position, e.g. for a Close Existing dry run.
func (p *PaperExchange) SetPosition(id domain.AccountID, market string, size quant.QtySats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.positions[id] == nil {
		p.positions[id] = make(map[string]quant.QtySats)
	}
	p.positions[id][market] = size
}

// Fills returns a copy of every simulated execution.
func (p *PaperExchange) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

func (p *PaperExchange) place(account domain.AccountID, req domain.OrderRequest) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Size <= 0 {
		return domain.OrderResult{}, domain.Errorf(domain.KindSizeTooSmall, "paper place", "size %s", req.Size)
	}
	top, ok := p.quotes.Observe(req.Market)
	if !ok {
		return domain.OrderResult{}, domain.Errorf(domain.KindTransient, "paper place", "no quote for %s", req.Market)
	}

	p.nextID++
	o := &paperOrder{
		account: account,
		seq:     p.nextID,
		res: domain.OrderResult{
			OrderID:       "paper-" + strconv.FormatUint(p.nextID, 10),
			ClientOrderID: req.ClientOrderID,
			Market:        req.Market,
			Side:          req.Side,
			Status:        domain.StatusPending,
			RequestedSize: req.Size,
			Price:         req.Price,
		},
	}

	p.all[o.res.OrderID] = o

	size := req.Size
	if req.ReduceOnly {
		size = p.reducible(account, req.Market, req.Side, size)
		if size == 0 {
			o.res.Status = domain.StatusRejected
			return o.res, domain.Errorf(domain.KindOrderRejected, "paper place", "reduce-only %s would not reduce the position", req.Side)
		}
	}

	switch {
	case req.PostOnly:
		if crossesExternal(req, top) || p.crossesBook(account, req) {
			o.res.Status = domain.StatusRejected
			p.publish(o)
			return o.res, domain.Errorf(domain.KindOrderRejected, "paper place", "post-only %s at %s would cross", req.Side, req.Price)
		}
		o.res.RequestedSize = size
		o.res.Status = domain.StatusOpen
		p.orders[o.res.OrderID] = o
		p.publish(o)
		return o.res, nil

	case req.IsMarket():
		price := top.Ask
		if req.Side == domain.SideSell {
			price = top.Bid
		}
		p.execute(o, size, price)
		o.res.Status = domain.StatusFilled
		p.publish(o)
		return o.res, nil

	default:
		remaining := size
		for _, rest := range p.crossable(account, req) {
			if remaining == 0 {
				break
			}
			qty := quant.MinQty(remaining, rest.res.Remaining())
			p.execute(rest, qty, rest.res.Price)
			p.execute(o, qty, rest.res.Price)
			remaining -= qty
			if rest.res.Remaining() == 0 {
				rest.res.Status = domain.StatusFilled
				delete(p.orders, rest.res.OrderID)
			}
			p.publish(rest)
		}
		if o.res.FilledSize == o.res.RequestedSize {
			o.res.Status = domain.StatusFilled
		} else {
			o.res.Status = domain.StatusCancelled
		}
		p.publish(o)
		return o.res, nil
	}
}

// reducible clamps size to what a reduce-only order of side may trade.
func (p *PaperExchange) reducible(account domain.AccountID, market string, side domain.Side, size quant.QtySats) quant.QtySats {
	pos := p.positions[account][market]
	if (side == domain.SideSell && pos <= 0) || (side == domain.SideBuy && pos >= 0) {
		return 0
	}
	return quant.MinQty(size, pos.Abs())
}

func crossesExternal(req domain.OrderRequest, top domain.TickerSnapshot) bool {
	if req.Side == domain.SideBuy {
		return req.Price >= top.Ask
	}
	return req.Price <= top.Bid
}

func (p *PaperExchange) crossesBook(account domain.AccountID, req domain.OrderRequest) bool {
	return len(p.crossable(account, req)) > 0
}

// crossable lists resting orders of the other account that req would take,
// best price first, then time priority.
func (p *PaperExchange) crossable(account domain.AccountID, req domain.OrderRequest) []*paperOrder {
	var out []*paperOrder
	for _, o := range p.orders {
		if o.account == account || o.res.Market != req.Market || o.res.Side == req.Side {
			continue
		}
		if req.Side == domain.SideBuy && o.res.Price > req.Price {
			continue
		}
		if req.Side == domain.SideSell && o.res.Price < req.Price {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].res.Price != out[j].res.Price {
			if req.Side == domain.SideBuy {
				return out[i].res.Price < out[j].res.Price
			}
			return out[i].res.Price > out[j].res.Price
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (p *PaperExchange) execute(o *paperOrder, qty quant.QtySats, price quant.PriceMicros) {
	o.res.FilledSize += qty
	pos := p.positions[o.account]
	pos[o.res.Market] = quant.QtySats(safe.SafeAdd(int64(pos[o.res.Market]), o.res.Side.Sign()*int64(qty)))
	p.fills = append(p.fills, Fill{
		OrderID: o.res.OrderID,
		Account: o.account,
		Market:  o.res.Market,
		Side:    o.res.Side,
		Price:   price,
		Qty:     qty,
		Ts:      quant.FromTime(p.opts.Now()),
	})
	slog.Debug("PAPER EXECUTION: Order Filled",
		slog.String("id", o.res.OrderID),
		slog.String("account", string(o.account)),
		slog.String("side", string(o.res.Side)),
		slog.String("price", price.String()),
		slog.String("qty", qty.String()))
}

func (p *PaperExchange) publish(o *paperOrder) {
	if p.opts.Hub != nil {
		p.opts.Hub.Publish(o.account, o.res)
	}
}

func (p *PaperExchange) cancel(account domain.AccountID, orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || o.account != account {
		return false
	}
	delete(p.orders, orderID)
	o.res.Status = domain.StatusCancelled
	p.publish(o)
	return true
}

func (p *PaperExchange) open(account domain.AccountID, market string) []domain.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.OrderResult
	for _, o := range p.orders {
		if o.account == account && (market == "" || o.res.Market == market) {
			out = append(out, o.res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// PaperAccount is the domain.Gateway of one simulated account.
type PaperAccount struct {
	venue *PaperExchange
	id    domain.AccountID
}

var _ domain.Gateway = (*PaperAccount)(nil)

func (a *PaperAccount) Account() domain.AccountID { return a.id }

func (a *PaperAccount) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	return a.venue.place(a.id, req)
}

func (a *PaperAccount) CancelOrder(ctx context.Context, market, orderID string) (bool, error) {
	return a.venue.cancel(a.id, orderID), nil
}

func (a *PaperAccount) CancelAll(ctx context.Context, market string) error {
	for _, o := range a.venue.open(a.id, market) {
		a.venue.cancel(a.id, o.OrderID)
	}
	return nil
}

func (a *PaperAccount) GetOrderStatus(ctx context.Context, market, orderID string) (domain.OrderResult, error) {
	p := a.venue
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.all[orderID]
	if !ok || o.account != a.id {
		return domain.OrderResult{}, domain.Errorf(domain.KindOrderRejected, "paper order status", "unknown order %s", orderID)
	}
	return o.res, nil
}

func (a *PaperAccount) OpenOrders(ctx context.Context, market string) ([]domain.OrderResult, error) {
	return a.venue.open(a.id, market), nil
}

func (a *PaperAccount) GetPositions(ctx context.Context) ([]domain.Position, error) {
	p := a.venue
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Position
	for m, size := range p.positions[a.id] {
		if size != 0 {
			out = append(out, domain.Position{Market: m, Size: size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

// MarginRatio values open positions at the external mid.
func (a *PaperAccount) MarginRatio(ctx context.Context) (decimal.Decimal, error) {
	positions, err := a.GetPositions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	notional := decimal.Zero
	for _, pos := range positions {
		top, ok := a.venue.quotes.Observe(pos.Market)
		if !ok {
			return decimal.Zero, fmt.Errorf("no quote for %s", pos.Market)
		}
		notional = notional.Add(pos.Size.Abs().Decimal().Mul(top.Mid().Decimal()))
	}
	return notional.Mul(a.venue.opts.MaintenanceRate).Div(a.venue.opts.Equity), nil
}
