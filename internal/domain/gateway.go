package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the authenticated trading surface of one account.
// It abstracts away the difference between the paper venue and GRVT.
type Gateway interface {
	// Account identifies which side of the pair this gateway trades.
	Account() AccountID

	// PlaceOrder submits an order. The result's FilledSize reflects any
	// immediate execution (IOC/market); resting orders report zero.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelOrder cancels an order; false means the order was no longer open.
	CancelOrder(ctx context.Context, market, orderID string) (bool, error)

	// CancelAll cancels every open order on the market.
	CancelAll(ctx context.Context, market string) error

	GetOrderStatus(ctx context.Context, market, orderID string) (OrderResult, error)
	OpenOrders(ctx context.Context, market string) ([]OrderResult, error)
	GetPositions(ctx context.Context) ([]Position, error)

	// MarginRatio returns maintenance margin / equity.
	MarginRatio(ctx context.Context) (decimal.Decimal, error)
}
