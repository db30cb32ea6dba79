package event

import (
	"encoding/json"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func TestDecode_RoundKeepsOutcome(t *testing.T) {
	r := domain.NewRound("r-1", domain.RoundOpen, "BTC_USDT_Perp", 2_000_000, domain.Assignment{Long: domain.Account2}, 10)
	r.Advance(domain.StateStabilityCheck, 11)
	r.Fail(domain.Errorf(domain.KindMarketUnstable, "stability check", "silent feed"), 12)

	ev := &RoundFinishedEvent{Round: *r}
	ev.Stamp(7, quant.TimeStamp(99))
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(EvRoundFinished, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rf, ok := got.(*RoundFinishedEvent)
	if !ok {
		t.Fatalf("decoded %T", got)
	}
	if rf.GetSeq() != 7 || rf.GetTs() != 99 {
		t.Errorf("seq/ts = %d/%d", rf.GetSeq(), rf.GetTs())
	}
	if rf.Round.ErrorKind != domain.KindMarketUnstable || rf.Round.State != domain.StateFailed {
		t.Errorf("round = %s %s", rf.Round.State, rf.Round.ErrorKind)
	}
	if rf.Round.FailedAt() != domain.StateStabilityCheck {
		t.Errorf("failed at %s", rf.Round.FailedAt())
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode(Type(99), []byte(`{}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}
