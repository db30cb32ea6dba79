package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func TestRoundState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RoundState
		want     bool
	}{
		{StateIdle, StateStabilityCheck, true},
		{StateStabilityCheck, StateMakerPlaced, true},
		{StateStabilityCheck, StateTakerSent, true},
		{StateMakerPlaced, StateMakerConfirmed, true},
		{StateMakerPlaced, StateTakerSent, false},
		{StateMakerConfirmed, StateTakerSent, true},
		{StateTakerSent, StateFillCheck, true},
		{StateFillCheck, StateComplete, true},
		{StateFillCheck, StateImbalance, true},
		{StateComplete, StateFailed, false},
		{StateIdle, StateComplete, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRound_AdvanceAndFail(t *testing.T) {
	r := NewRound("r1", RoundOpen, "BTC_USDT_Perp", 2_000_000, Assignment{Long: Account1}, 1)
	r.Advance(StateStabilityCheck, 2)
	r.Advance(StateMakerPlaced, 3)
	r.Fail(NewError(KindConfirmationTimeout, "confirm maker", errors.New("5s elapsed")), 4)

	if r.State != StateFailed {
		t.Fatalf("state = %s", r.State)
	}
	if r.ErrorKind != KindConfirmationTimeout {
		t.Errorf("ErrorKind = %s", r.ErrorKind)
	}
	if r.FailedAt() != StateMakerPlaced {
		t.Errorf("FailedAt() = %s, want MAKER_PLACED", r.FailedAt())
	}
	if len(r.Transitions) != 4 {
		t.Errorf("expected 4 transitions, got %d", len(r.Transitions))
	}

	// Failing an already terminal round keeps the state.
	r.Fail(errors.New("late"), 5)
	if len(r.Transitions) != 4 {
		t.Error("terminal round must not gain transitions")
	}
}

func TestRound_IllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on illegal transition")
		}
	}()
	r := NewRound("r1", RoundOpen, "BTC_USDT_Perp", 1, Assignment{Long: Account1}, 1)
	r.Advance(StateTakerSent, 2)
}

func TestAssignment(t *testing.T) {
	a := Assignment{Long: Account2}
	if a.Short() != Account1 || a.MakerAccount() != Account2 || a.TakerAccount() != Account1 {
		t.Errorf("unexpected assignment roles: %s", a)
	}
}

func TestRound_SidesAndExcess(t *testing.T) {
	tests := []struct {
		name               string
		kind               RoundKind
		flatten            AccountID
		maker, taker       Side
		makerFill, takFill int64
		wantExcess         int64
	}{
		{"open hedged", RoundOpen, "", SideBuy, SideSell, 2_000_000, 2_000_000, 0},
		{"open taker short", RoundOpen, "", SideBuy, SideSell, 2_000_000, 1_500_000, 500_000},
		{"close taker short", RoundClose, "", SideSell, SideBuy, 2_000_000, 1_500_000, -500_000},
		{"flatten long", RoundFlatten, Account1, SideBuy, SideSell, 0, 500_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRound("r", tt.kind, "BTC_USDT_Perp", 2_000_000, Assignment{Long: Account1}, 0)
			r.FlattenAccount = tt.flatten
			r.MakerFilled, r.TakerFilled = quant.QtySats(tt.makerFill), quant.QtySats(tt.takFill)
			if tt.kind != RoundFlatten && r.MakerSide() != tt.maker {
				t.Errorf("MakerSide = %s", r.MakerSide())
			}
			if r.TakerSide() != tt.taker {
				t.Errorf("TakerSide = %s", r.TakerSide())
			}
			if got := int64(r.NetExcess()); got != tt.wantExcess {
				t.Errorf("NetExcess = %d, want %d", got, tt.wantExcess)
			}
		})
	}
}
