package port

import "context"

// AccountPosition is one holding as seen by an account backend.
type AccountPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
	PnL      float64 `json:"pnl"`
}

// PositionReader exposes current holdings so held symbols can feed the
// evaluation universe.
type PositionReader interface {
	Positions(ctx context.Context) ([]AccountPosition, error)
}
