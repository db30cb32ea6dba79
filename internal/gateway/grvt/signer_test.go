package grvt

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known throwaway key (hardhat account #0).
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testIntent() OrderIntent {
	return OrderIntent{
		SubAccountID: 1234567890,
		TimeInForce:  tifCodeGoodTillTime,
		PostOnly:     true,
		Legs: []IntentLeg{{
			AssetID:          big.NewInt(0x030501),
			ContractSize:     10_000_000,
			LimitPrice:       50_000_000_000_000,
			IsBuyingContract: true,
		}},
		Nonce:      42,
		Expiration: 1_700_000_000_000_000_000,
	}
}

func TestEIP712Signer_RecoversSigner(t *testing.T) {
	s, err := NewEIP712Signer(testKey, 325)
	if err != nil {
		t.Fatalf("NewEIP712Signer: %v", err)
	}

	intent := testIntent()
	sig, err := s.Sign(context.Background(), intent)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Errorf("v = %d, want 27 or 28", sig.V)
	}
	if sig.Nonce != 42 || sig.Expiration != intent.Expiration {
		t.Error("nonce and expiration must be echoed")
	}

	hash, err := orderHash(intent, 325)
	if err != nil {
		t.Fatal(err)
	}
	raw := append(append(common.FromHex(sig.R), common.FromHex(sig.S)...), byte(sig.V-27))
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != s.Address() {
		t.Errorf("recovered %s, want %s", got, s.Address())
	}
}

func TestOrderHash_DependsOnFields(t *testing.T) {
	base, _ := orderHash(testIntent(), 325)

	other := testIntent()
	other.Legs[0].IsBuyingContract = false
	flipped, _ := orderHash(other, 325)

	testnet, _ := orderHash(testIntent(), 326)

	if string(base) == string(flipped) {
		t.Error("side must change the hash")
	}
	if string(base) == string(testnet) {
		t.Error("chain id must change the hash")
	}
}

func TestNewEIP712Signer_BadKey(t *testing.T) {
	if _, err := NewEIP712Signer("not-hex", 325); err == nil || !strings.Contains(err.Error(), "signing key") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
