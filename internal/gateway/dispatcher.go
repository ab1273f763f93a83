package gateway

import (
	"context"

	"ai-trading-bot/internal/logger"

	"github.com/shopspring/decimal"
)

// Codes the gateway emits as advisories. They are logged and never fail a
// pending request: market-data-farm connectivity notices and delayed-data
// notices.
var informationalCodes = map[int]struct{}{
	2104:  {},
	2106:  {},
	2108:  {},
	2158:  {},
	10167: {},
}

// Codes tied to the connection rather than to any single request.
var connectionCodes = map[int]struct{}{
	504:  {},
	1100: {},
	1300: {},
}

// dispatcher routes each decoded inbound message to the pending-request
// tables, the position aggregator, the order-id sequencer or the connection
// lifecycle hooks. It runs on the single reader goroutine, so routing is
// sequential and never blocks on a caller's await.
type dispatcher struct {
	quotes    *pendingTable[float64]
	accounts  *pendingTable[decimal.Decimal]
	orders    *pendingTable[int64]
	positions *positionAggregator
	seq       *orderIDSequencer

	accountTag      string
	accountCurrency string // empty matches any currency

	onConnectAck func()
	emitError    func(error)
}

// dispatch routes one inbound message. A malformed or panicking frame is
// logged and swallowed; the reader keeps pumping.
func (d *dispatcher) dispatch(ctx context.Context, msg message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while dispatching gateway message",
				"type", msg.Type,
				"panic", r,
			)
		}
	}()

	switch msg.Type {
	case msgConnectAck:
		d.onConnectAck()

	case msgNextValidID:
		logger.Debug(ctx, "order id counter seeded", "order_id", msg.OrderID)
		d.seq.Seed(msg.OrderID)

	case msgTickPrice:
		d.handleTick(msg)

	case msgPosition:
		d.positions.Accumulate(msg.Symbol, msg.Qty)

	case msgPositionEnd:
		d.positions.End()

	case msgAccountValue:
		d.handleAccountValue(ctx, msg)

	case msgOrderStatus:
		if ackOrderStatus(msg.Status) {
			d.orders.Complete(msg.OrderID, msg.OrderID)
		}

	case msgError:
		d.handleError(ctx, msg)

	default:
		logger.Debug(ctx, "unhandled gateway message", "type", msg.Type)
	}
}

// handleTick resolves a pending quote. The last-price field is primary; the
// close-price field resolves the request only when no last tick got there
// first, which the single-assignment slot enforces by arrival order.
func (d *dispatcher) handleTick(msg message) {
	if !acceptedTickField(msg.Field) || msg.Price <= 0 {
		return
	}
	d.quotes.Complete(msg.ReqID, msg.Price)
}

func (d *dispatcher) handleAccountValue(ctx context.Context, msg message) {
	if msg.Tag != d.accountTag {
		return
	}
	if d.accountCurrency != "" && msg.Currency != d.accountCurrency {
		return
	}

	v, err := decimal.NewFromString(msg.Value)
	if err != nil {
		logger.Warn(ctx, "unparseable account value",
			"tag", msg.Tag,
			"value", msg.Value,
			"error", err,
		)
		return
	}
	d.accounts.Complete(msg.ReqID, v)
}

// handleError classifies a coded gateway error: informational codes are
// logged only, connection-level codes surface as a general error event, and
// everything else fails the referenced pending request. The quote, account
// and order tables share one id space, so all three are probed.
func (d *dispatcher) handleError(ctx context.Context, msg message) {
	if _, ok := informationalCodes[msg.Code]; ok {
		logger.Info(ctx, "gateway notice",
			"code", msg.Code,
			"message", msg.Message,
		)
		return
	}

	rej := &RejectedError{ReqID: msg.ReqID, Code: msg.Code, Msg: msg.Message}

	_, connLevel := connectionCodes[msg.Code]
	if msg.ReqID > 0 && !connLevel {
		failed := d.quotes.Fail(msg.ReqID, rej) ||
			d.accounts.Fail(msg.ReqID, rej) ||
			d.orders.Fail(msg.ReqID, rej)
		if !failed {
			logger.Debug(ctx, "error for unknown request id",
				"req_id", msg.ReqID,
				"code", msg.Code,
			)
		}
	}

	d.emitError(rej)
}
