package service

// Position tracks one paper holding with an average entry price.
type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// Buy averages the entry price across the combined position.
func (p *Position) Buy(price, qty float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	totalCost := p.AvgPrice*p.Qty + price*qty
	p.Qty += qty
	if p.Qty > 0 {
		p.AvgPrice = totalCost / p.Qty
	} else {
		p.AvgPrice = 0
	}
}

// Sell reduces the position by at most its size and returns the proceeds.
func (p *Position) Sell(price, qty float64) float64 {
	if qty <= 0 || price <= 0 || p.Qty <= 0 {
		return 0
	}
	realQty := qty
	if realQty > p.Qty {
		realQty = p.Qty
	}
	p.Qty -= realQty
	if p.Qty == 0 {
		p.AvgPrice = 0
	}
	return price * realQty
}

// Portfolio is the simulated account: cash plus positions.
type Portfolio struct {
	Cash      float64              `json:"cash"`
	Positions map[string]*Position `json:"positions"`
}

func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{Cash: cash, Positions: map[string]*Position{}}
}

func (pf *Portfolio) Position(symbol string) *Position {
	p, ok := pf.Positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		pf.Positions[symbol] = p
	}
	return p
}

// Equity marks open positions to the given prices and adds cash.
// Positions without a quote are valued at cost basis.
func (pf *Portfolio) Equity(quotes map[string]float64) float64 {
	val := pf.Cash
	for sym, pos := range pf.Positions {
		if pos.Qty <= 0 {
			continue
		}
		price := pos.AvgPrice
		if q, ok := quotes[sym]; ok && q > 0 {
			price = q
		}
		val += pos.Qty * price
	}
	return val
}
