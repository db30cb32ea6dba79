package grvt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Catalog loads instrument constraints from the exchange and caches them.
// It also serves point-in-time ticker reads for the stability gate.
type Catalog struct {
	client *Client

	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewCatalog builds a catalog over a (market data) client.
func NewCatalog(c *Client) *Catalog {
	return &Catalog{client: c, markets: make(map[string]domain.Market)}
}

// Market returns the constraints of symbol, fetching them on first use.
func (c *Catalog) Market(ctx context.Context, symbol string) (domain.Market, error) {
	c.mu.RLock()
	m, ok := c.markets[symbol]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	var resp struct {
		Result Instrument `json:"result"`
	}
	if err := c.client.postMarket(ctx, pathInstrument, map[string]string{"instrument": symbol}, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("load instrument %s: %w", symbol, err)
	}
	if resp.Result.Instrument == "" {
		return domain.Market{}, fmt.Errorf("unknown instrument %s", symbol)
	}

	m, err := ToMarket(resp.Result)
	if err != nil {
		return domain.Market{}, err
	}
	c.mu.Lock()
	c.markets[symbol] = m
	c.mu.Unlock()
	return m, nil
}

// Refresh reloads every instrument of the given kind (e.g. "PERPETUAL").
func (c *Catalog) Refresh(ctx context.Context, kind string) (int, error) {
	var resp struct {
		Result []Instrument `json:"result"`
	}
	payload := map[string]any{"is_active": true}
	if kind != "" {
		payload["kind"] = []string{kind}
	}
	if err := c.client.postMarket(ctx, pathAllInstruments, payload, &resp); err != nil {
		return 0, fmt.Errorf("load instruments: %w", err)
	}

	loaded := make(map[string]domain.Market, len(resp.Result))
	for _, inst := range resp.Result {
		m, err := ToMarket(inst)
		if err != nil {
			slog.Debug("Skipping instrument", slog.String("instrument", inst.Instrument), slog.Any("err", err))
			continue
		}
		loaded[m.Symbol] = m
	}

	c.mu.Lock()
	for k, v := range loaded {
		c.markets[k] = v
	}
	c.mu.Unlock()
	return len(loaded), nil
}

// Symbols lists the cached markets.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.markets))
	for k := range c.markets {
		out = append(out, k)
	}
	return out
}

// SampleTicker performs one REST ticker read.
func (c *Catalog) SampleTicker(ctx context.Context, market string) (domain.TickerSnapshot, error) {
	var resp struct {
		Result Ticker `json:"result"`
	}
	if err := c.client.postMarket(ctx, pathTicker, map[string]string{"instrument": market}, &resp); err != nil {
		return domain.TickerSnapshot{}, err
	}
	if resp.Result.Instrument == "" {
		resp.Result.Instrument = market
	}
	snap, err := resp.Result.Snapshot()
	if err != nil {
		return domain.TickerSnapshot{}, fmt.Errorf("ticker %s: %w", market, err)
	}
	if !snap.Valid() {
		return domain.TickerSnapshot{}, fmt.Errorf("ticker %s: no two-sided quote", market)
	}
	return snap, nil
}

// ToMarket converts an instrument description. The size step is the coarser
// of the base-decimals quantum and the minimum size.
func ToMarket(inst Instrument) (domain.Market, error) {
	tick, err := quant.ParsePrice(inst.TickSize)
	if err != nil {
		return domain.Market{}, fmt.Errorf("instrument %s tick_size: %w", inst.Instrument, err)
	}
	minSize, err := quant.ParseQty(inst.MinSize)
	if err != nil {
		return domain.Market{}, fmt.Errorf("instrument %s min_size: %w", inst.Instrument, err)
	}
	decimals, err := strconv.Atoi(strings.Trim(string(inst.BaseDecimals), `" `))
	if err != nil {
		decimals = 9
	}

	quantum := quant.QtySats(1)
	for d := decimals; d < 8; d++ {
		quantum *= 10
	}
	step := quantum
	if minSize > step {
		step = minSize
	}

	m := domain.Market{
		Symbol:         inst.Instrument,
		TickSize:       tick,
		SizeStep:       step,
		MinSize:        minSize,
		BaseDecimals:   decimals,
		InstrumentHash: inst.InstrumentHash,
	}
	return m, m.Validate()
}
