package domain

// SignalKind tags a signal as a buy or a sell.
type SignalKind int

const (
	SignalBuy SignalKind = iota
	SignalSell
)

func (k SignalKind) String() string {
	switch k {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	}
	return "unknown"
}

// Signal is a strategy decision tied to a bar offset in the series it was
// computed from. Confidence is in [0,1] and is not a probability.
type Signal struct {
	Index      int        `json:"index"`
	Kind       SignalKind `json:"kind"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// LedgerEntry records one executed signal for idempotency. The
// (Symbol, Kind, Index) triple is unique; replaying it is a no-op.
type LedgerEntry struct {
	Timestamp int64      `json:"timestamp"`
	Symbol    string     `json:"symbol"`
	Kind      SignalKind `json:"kind"`
	Index     int        `json:"index"`
}
