package types

import (
	"errors"
	"fmt"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

type OrderReq struct {
	Symbol     string
	Qty        int
	Side       Side
	Type       OrderType
	LimitPrice float64 // required for LMT, ignored for MKT
}

func (r OrderReq) Validate() error {
	if r.Symbol == "" {
		return errors.New("order symbol is empty")
	}
	if r.Qty <= 0 {
		return fmt.Errorf("order qty must be positive, got %d", r.Qty)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order side must be BUY or SELL, got %q", r.Side)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("limit order needs a positive limit price, got %.2f", r.LimitPrice)
		}
	default:
		return fmt.Errorf("order type must be MKT or LMT, got %q", r.Type)
	}
	return nil
}

// Positions maps instrument symbol to net quantity.
type Positions map[string]float64
