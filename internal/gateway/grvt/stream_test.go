package grvt

import (
	"encoding/json"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

func TestSubscribeMessage(t *testing.T) {
	b, err := SubscribeMessage(StreamOrder, OrderSelectors("1001", "BTC_USDT_Perp"), 7)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  struct {
			Stream    string   `json:"stream"`
			Selectors []string `json:"selectors"`
		} `json:"params"`
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.JSONRPC != "2.0" || got.Method != "subscribe" || got.Params.Stream != "v1.order" || got.ID != 7 {
		t.Errorf("unexpected message %s", b)
	}
	if len(got.Params.Selectors) != 2 || got.Params.Selectors[1] != "1001-BTC_USDT_Perp" {
		t.Errorf("selectors = %v", got.Params.Selectors)
	}
}

func TestParseTickerFeed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		ok   bool
	}{
		{"bare feed", `{"stream":"v1.ticker.s","selector":"BTC_USDT_Perp","feed":{"instrument":"BTC_USDT_Perp","best_bid_price":"49999","best_ask_price":"50001"}}`, true},
		{"rpc notification", `{"jsonrpc":"2.0","method":"subscribe","params":{"result":{"feed":{"instrument":"BTC_USDT_Perp","best_bid_price":"49999","best_ask_price":"50001"}}}}`, true},
		{"rpc result", `{"result":{"instrument":"BTC_USDT_Perp","best_bid_price":"49999","best_ask_price":"50001"}}`, true},
		{"subscribe ack", `{"jsonrpc":"2.0","result":{"stream":"v1.ticker.s","subs":["BTC_USDT_Perp"]},"id":1}`, false},
		{"crossed", `{"feed":{"instrument":"BTC_USDT_Perp","best_bid_price":"50002","best_ask_price":"50001"}}`, false},
		{"garbage", `pong`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, ok := ParseTickerFeed([]byte(tt.msg))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (snap.Bid != 49_999_000_000 || snap.Ask != 50_001_000_000 || snap.Market != "BTC_USDT_Perp") {
				t.Errorf("unexpected snapshot %+v", snap)
			}
		})
	}
}

func TestParseOrderFeed(t *testing.T) {
	t.Run("full format", func(t *testing.T) {
		msg := `{"stream":"v1.order","feed":{"order_id":"0xa","metadata":{"client_order_id":"42"},
			"legs":[{"instrument":"BTC_USDT_Perp","size":"0.02","limit_price":"49999","is_buying_asset":true}],
			"state":{"status":"OPEN","traded_size":["0"]}}}`
		o, ok := ParseOrderFeed([]byte(msg))
		if !ok {
			t.Fatal("expected an order")
		}
		if o.OrderID != "0xa" || o.ClientOrderID != "42" || o.Status != domain.StatusOpen || o.Side != domain.SideBuy {
			t.Errorf("unexpected %+v", o)
		}
	})

	t.Run("lite format", func(t *testing.T) {
		msg := `{"params":{"result":{"feed":{"oi":"0x00","m":{"co":"42"},
			"l":[{"i":"BTC_USDT_Perp","s":"0.02","lp":"49999","ib":false}],"s1":{"s":"PENDING"}}}}}`
		o, ok := ParseOrderFeed([]byte(msg))
		if !ok {
			t.Fatal("expected an order")
		}
		if o.ClientOrderID != "42" || o.Status != domain.StatusPending || o.Side != domain.SideSell || o.RequestedSize != 2_000_000 {
			t.Errorf("unexpected %+v", o)
		}
		if o.Price != 49_999_000_000 {
			t.Errorf("price = %s", o.Price)
		}
	})

	t.Run("ack", func(t *testing.T) {
		if _, ok := ParseOrderFeed([]byte(`{"jsonrpc":"2.0","result":{"stream":"v1.order"},"id":1}`)); ok {
			t.Error("ack must be ignored")
		}
	})
}
