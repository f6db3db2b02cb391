package service

import "github.com/google/uuid"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusOpen     OrderStatus = "open"
	StatusRejected OrderStatus = "rejected"
)

// OrderRequest describes an order to place. Qty of zero means size from
// Notional, or from the executor base size when Notional is also zero.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Notional    float64
	LimitPrice  float64
	StopPrice   float64
	TimeInForce string
}

// Order is the placement outcome. Unfilled paper orders stay on the open
// order list.
type Order struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Type         OrderType   `json:"type"`
	Qty          float64     `json:"qty"`
	LimitPrice   float64     `json:"limit_price,omitempty"`
	StopPrice    float64     `json:"stop_price,omitempty"`
	TimeInForce  string      `json:"tif"`
	Status       OrderStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	FilledQty    float64     `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
}

func newOrder(req OrderRequest, qty float64) Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = "day"
	}
	return Order{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Qty:         qty,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: tif,
		Status:      StatusOpen,
	}
}

func rejected(req OrderRequest, reason string) Order {
	o := newOrder(req, req.Qty)
	o.Status = StatusRejected
	o.Reason = reason
	return o
}
