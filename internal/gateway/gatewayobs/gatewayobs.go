package gatewayobs

import (
	"context"

	"ai-trading-bot/internal/interfaces"
	"ai-trading-bot/internal/logger"
	"ai-trading-bot/internal/trace"
	"ai-trading-bot/internal/types"

	"github.com/shopspring/decimal"
)

// observableGateway wraps a Gateway with observability (logging & tracing)
type observableGateway struct {
	gw interfaces.Gateway
}

// Compile-time interface check
var _ interfaces.Gateway = (*observableGateway)(nil)

// Wrap wraps a gateway with observability middleware
func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{gw: gw}
}

func (og *observableGateway) Connect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "gateway.Connect")
	defer span.End()

	logger.Info(ctx, "Connecting to gateway")

	if err := og.gw.Connect(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Gateway connect failed", err)
		return err
	}

	logger.Info(ctx, "Gateway connected successfully")
	return nil
}

func (og *observableGateway) Disconnect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "gateway.Disconnect")
	defer span.End()

	logger.Info(ctx, "Disconnecting from gateway")
	return og.gw.Disconnect(ctx)
}

func (og *observableGateway) Quote(ctx context.Context, symbol string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.Quote")
	defer span.End()

	logger.Debug(ctx, "Fetching quote", "symbol", symbol)

	price, err := og.gw.Quote(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch quote", err, "symbol", symbol)
		return 0, err
	}

	logger.Debug(ctx, "Quote fetched successfully", "symbol", symbol, "price", price)
	return price, nil
}

func (og *observableGateway) IndexLevel(ctx context.Context) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.IndexLevel")
	defer span.End()

	level, err := og.gw.IndexLevel(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch index level", err)
		return 0, err
	}

	logger.Debug(ctx, "Index level fetched successfully", "level", level)
	return level, nil
}

func (og *observableGateway) Positions(ctx context.Context) (types.Positions, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.Positions")
	defer span.End()

	logger.Debug(ctx, "Fetching position snapshot")

	positions, err := og.gw.Positions(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch positions", err)
		return nil, err
	}

	logger.Debug(ctx, "Positions fetched successfully", "count", len(positions))
	return positions, nil
}

func (og *observableGateway) AccountValue(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.AccountValue")
	defer span.End()

	value, err := og.gw.AccountValue(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch account value", err)
		return decimal.Zero, err
	}

	logger.Debug(ctx, "Account value fetched successfully", "value", value.String())
	return value, nil
}

func (og *observableGateway) PlaceOrder(ctx context.Context, req types.OrderReq) (int64, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.PlaceOrder")
	defer span.End()

	logger.Info(ctx, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"type", req.Type,
	)

	orderID, err := og.gw.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return 0, err
	}

	logger.Info(ctx, "Order acknowledged",
		"symbol", req.Symbol,
		"order_id", orderID,
	)
	return orderID, nil
}

func (og *observableGateway) CancelOrder(ctx context.Context, orderID int64) error {
	ctx, span := trace.StartSpan(ctx, "gateway.CancelOrder")
	defer span.End()

	logger.Info(ctx, "Cancelling order", "order_id", orderID)

	if err := og.gw.CancelOrder(ctx, orderID); err != nil {
		logger.ErrorWithErr(ctx, "Failed to send order cancellation", err, "order_id", orderID)
		return err
	}
	return nil
}

func (og *observableGateway) OnConnectivityChange(fn func(connected bool)) {
	og.gw.OnConnectivityChange(fn)
}

func (og *observableGateway) OnError(fn func(err error)) {
	og.gw.OnError(fn)
}
