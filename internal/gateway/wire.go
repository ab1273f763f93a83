package gateway

import "encoding/json"

// The gateway speaks a single framed message stream in both directions. One
// flat envelope covers every message kind; unset fields are omitted on the
// wire. Inbound frames interleave correlated replies, streaming updates and
// out-of-band coded errors.

// Outbound message types.
const (
	msgStartAPI             = "startApi"
	msgReqMktData           = "reqMktData"
	msgCancelMktData        = "cancelMktData"
	msgReqPositions         = "reqPositions"
	msgCancelPositions      = "cancelPositions"
	msgReqAccountSummary    = "reqAccountSummary"
	msgCancelAccountSummary = "cancelAccountSummary"
	msgPlaceOrder           = "placeOrder"
	msgCancelOrder          = "cancelOrder"
)

// Inbound message types.
const (
	msgConnectAck       = "connectAck"
	msgNextValidID      = "nextValidId"
	msgTickPrice        = "tickPrice"
	msgPosition         = "position"
	msgPositionEnd      = "positionEnd"
	msgAccountValue     = "accountValue"
	msgOrderStatus      = "orderStatus"
	msgError            = "error"
	msgConnectionClosed = "connectionClosed"
)

// Tick price fields. Last is the primary field; close is the fallback the
// gateway sends when no trade happened during the snapshot.
const (
	tickFieldLast         = "LAST"
	tickFieldDelayedLast  = "DELAYED_LAST"
	tickFieldClose        = "CLOSE"
	tickFieldDelayedClose = "DELAYED_CLOSE"
)

// Order statuses that acknowledge placement. Reaching any of these resolves
// the caller; final fills are not awaited.
const (
	statusPreSubmitted = "PreSubmitted"
	statusSubmitted    = "Submitted"
	statusFilled       = "Filled"
)

// Security types.
const (
	secTypeStock = "STK"
	secTypeIndex = "IND"
)

type message struct {
	Type string `json:"type"`

	ReqID   int64 `json:"reqId,omitempty"`
	OrderID int64 `json:"orderId,omitempty"`

	ClientID       int `json:"clientId,omitempty"`
	MarketDataMode int `json:"marketDataMode,omitempty"`

	Symbol  string `json:"symbol,omitempty"`
	SecType string `json:"secType,omitempty"`

	Field string  `json:"field,omitempty"`
	Price float64 `json:"price,omitempty"`
	Qty   float64 `json:"qty,omitempty"`

	Side       string  `json:"side,omitempty"`
	OrderType  string  `json:"orderType,omitempty"`
	LimitPrice float64 `json:"limitPrice,omitempty"`
	Status     string  `json:"status,omitempty"`

	Tag      string `json:"tag,omitempty"`
	Value    string `json:"value,omitempty"`
	Currency string `json:"currency,omitempty"`

	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeMessage(msg message) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeMessage(data []byte) (message, error) {
	var msg message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

func acceptedTickField(field string) bool {
	switch field {
	case tickFieldLast, tickFieldDelayedLast, tickFieldClose, tickFieldDelayedClose:
		return true
	}
	return false
}

func ackOrderStatus(status string) bool {
	switch status {
	case statusPreSubmitted, statusSubmitted, statusFilled:
		return true
	}
	return false
}
