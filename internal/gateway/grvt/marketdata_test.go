package grvt

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func newTestCatalog(t *testing.T, fn func(req *http.Request) (*http.Response, error)) *Catalog {
	t.Helper()
	c := NewClient(ClientConfig{MarketDataURL: "https://md.test", RetryDelay: time.Millisecond}, nil, t.Name())
	c.httpClient.Transport = &MockRoundTripper{Func: fn}
	return NewCatalog(c)
}

func TestToMarket(t *testing.T) {
	tests := []struct {
		name     string
		inst     Instrument
		wantStep quant.QtySats
		wantErr  bool
	}{
		{
			name:     "min size coarser than quantum",
			inst:     Instrument{Instrument: "BTC_USDT_Perp", TickSize: "0.1", MinSize: "0.001", BaseDecimals: []byte("9")},
			wantStep: 100_000,
		},
		{
			name:     "quantum coarser than min size",
			inst:     Instrument{Instrument: "X_USDT_Perp", TickSize: "0.01", MinSize: "0.0001", BaseDecimals: []byte(`"3"`)},
			wantStep: 100_000,
		},
		{
			name:    "bad tick",
			inst:    Instrument{Instrument: "Y", TickSize: "abc", MinSize: "1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ToMarket(tt.inst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m.SizeStep != tt.wantStep {
				t.Errorf("SizeStep = %s, want %s", m.SizeStep, tt.wantStep)
			}
		})
	}
}

func TestCatalog_MarketCaches(t *testing.T) {
	calls := 0
	cat := newTestCatalog(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if req.URL.Path != pathInstrument {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(200, `{"result":{"instrument":"BTC_USDT_Perp","instrument_hash":"0x030501",
			"base_decimals":9,"tick_size":"0.1","min_size":"0.001"}}`), nil
	})

	for i := 0; i < 3; i++ {
		m, err := cat.Market(context.Background(), "BTC_USDT_Perp")
		if err != nil {
			t.Fatal(err)
		}
		if m.TickSize != 100_000 || m.MinSize != 100_000 || m.InstrumentHash != "0x030501" {
			t.Fatalf("unexpected market %+v", m)
		}
	}
	if calls != 1 {
		t.Errorf("instrument fetched %d times, want 1", calls)
	}
}

func TestCatalog_SampleTicker(t *testing.T) {
	cat := newTestCatalog(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"result":{"event_time":"1700000000123456789","instrument":"BTC_USDT_Perp",
			"best_bid_price":"50000.1","best_ask_price":"50000.3"}}`), nil
	})

	snap, err := cat.SampleTicker(context.Background(), "BTC_USDT_Perp")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Bid != 50_000_100_000 || snap.Ask != 50_000_300_000 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Ts != 1_700_000_000_123_456 {
		t.Errorf("Ts = %d", snap.Ts)
	}
}

func TestCatalog_SampleTickerOneSided(t *testing.T) {
	cat := newTestCatalog(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"result":{"instrument":"BTC_USDT_Perp","best_bid_price":"50000","best_ask_price":"0"}}`), nil
	})
	if _, err := cat.SampleTicker(context.Background(), "BTC_USDT_Perp"); err == nil {
		t.Fatal("one-sided quote must be an error")
	}
}
