package grvt

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Time-in-force codes of the signed order message.
const (
	tifCodeGoodTillTime      = 1
	tifCodeImmediateOrCancel = 3
)

// OrderIntent is the exchange-level order message that gets signed.
// Sizes and prices are integers in exchange units.
type OrderIntent struct {
	SubAccountID uint64
	IsMarket     bool
	TimeInForce  uint8
	PostOnly     bool
	ReduceOnly   bool
	Legs         []IntentLeg
	Nonce        uint32
	Expiration   int64 // unix nanoseconds
}

// IntentLeg is one signed leg.
type IntentLeg struct {
	AssetID          *big.Int
	ContractSize     uint64 // size × 10^base_decimals
	LimitPrice       uint64 // price × 10^9
	IsBuyingContract bool
}

// Signature is the order signature in the lite wire shape.
type Signature struct {
	Signer     string
	R          string
	S          string
	V          int
	Expiration int64
	Nonce      uint32
}

// OrderSigner signs order intents for one account.
type OrderSigner interface {
	Sign(ctx context.Context, intent OrderIntent) (Signature, error)
}

// EIP712Signer signs orders with an account's session key.
type EIP712Signer struct {
	key     *ecdsa.PrivateKey
	address string
	chainID int64
}

// NewEIP712Signer parses a hex private key.
func NewEIP712Signer(privateKeyHex string, chainID int64) (*EIP712Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &EIP712Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		chainID: chainID,
	}, nil
}

// Address returns the signer's checksummed address.
func (s *EIP712Signer) Address() string { return s.address }

// Sign implements OrderSigner.
func (s *EIP712Signer) Sign(_ context.Context, intent OrderIntent) (Signature, error) {
	hash, err := orderHash(intent, s.chainID)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign order: %w", err)
	}
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	return Signature{
		Signer:     s.address,
		R:          "0x" + fmt.Sprintf("%064x", new(big.Int).SetBytes(sig[:32])),
		S:          "0x" + fmt.Sprintf("%064x", new(big.Int).SetBytes(sig[32:64])),
		V:          v,
		Expiration: intent.Expiration,
		Nonce:      intent.Nonce,
	}, nil
}

func orderTypedData(intent OrderIntent, chainID int64) apitypes.TypedData {
	legs := make([]interface{}, 0, len(intent.Legs))
	for _, l := range intent.Legs {
		legs = append(legs, map[string]interface{}{
			"assetID":          new(big.Int).Set(l.AssetID),
			"contractSize":     new(big.Int).SetUint64(l.ContractSize),
			"limitPrice":       new(big.Int).SetUint64(l.LimitPrice),
			"isBuyingContract": l.IsBuyingContract,
		})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Order": {
				{Name: "subAccountID", Type: "uint64"},
				{Name: "isMarket", Type: "bool"},
				{Name: "timeInForce", Type: "uint8"},
				{Name: "postOnly", Type: "bool"},
				{Name: "reduceOnly", Type: "bool"},
				{Name: "legs", Type: "OrderLeg[]"},
				{Name: "nonce", Type: "uint32"},
				{Name: "expiration", Type: "int64"},
			},
			"OrderLeg": {
				{Name: "assetID", Type: "uint256"},
				{Name: "contractSize", Type: "uint64"},
				{Name: "limitPrice", Type: "uint64"},
				{Name: "isBuyingContract", Type: "bool"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:    "GRVT Exchange",
			Version: "0",
			ChainId: ethmath.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"subAccountID": new(big.Int).SetUint64(intent.SubAccountID),
			"isMarket":     intent.IsMarket,
			"timeInForce":  big.NewInt(int64(intent.TimeInForce)),
			"postOnly":     intent.PostOnly,
			"reduceOnly":   intent.ReduceOnly,
			"legs":         legs,
			"nonce":        new(big.Int).SetUint64(uint64(intent.Nonce)),
			"expiration":   big.NewInt(intent.Expiration),
		},
	}
}

func orderHash(intent OrderIntent, chainID int64) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(orderTypedData(intent, chainID))
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}
	return hash, nil
}
