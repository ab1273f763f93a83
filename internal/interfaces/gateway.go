package interfaces

import (
	"context"

	"ai-trading-bot/internal/types"

	"github.com/shopspring/decimal"
)

// Gateway is the request/response view of the broker gateway connection.
// Implementations multiplex all calls over one long-lived socket.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Quote(ctx context.Context, symbol string) (float64, error)
	IndexLevel(ctx context.Context) (float64, error)
	Positions(ctx context.Context) (types.Positions, error)
	AccountValue(ctx context.Context) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req types.OrderReq) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error

	// OnConnectivityChange registers a handler invoked whenever the
	// connector transitions into or out of the Connected state.
	OnConnectivityChange(fn func(connected bool))

	// OnError registers a handler for asynchronous gateway errors that are
	// not tied to a specific in-flight call.
	OnError(fn func(err error))
}
