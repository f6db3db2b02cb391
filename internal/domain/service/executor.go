// Package service holds the trading-side domain services: the paper
// executor, its portfolio model and order placement.
package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

const ledgerCap = 100

// QuoteFunc resolves the current reference price for a symbol. An
// invalid quote means no price is available.
type QuoteFunc func(ctx context.Context, symbol string) domain.Quote

// LiveFunc forwards an order to a broker when live mode is wired.
type LiveFunc func(symbol string, side Side, qty, price float64, meta map[string]any)

type ExecutorConfig struct {
	Enabled             bool
	Mode                string // "paper" | "live"
	AccountID           string
	BaseSize            float64
	MaxTradesPerDay     int
	MinTradeInterval    time.Duration
	SymbolCooldown      time.Duration
	StartingCash        float64
	MaxPositionNotional float64 // 0 = unlimited
	MaxPositionQty      float64 // 0 = unlimited
}

func (c ExecutorConfig) normalize() ExecutorConfig {
	if c.Mode != "live" {
		c.Mode = "paper"
	}
	if c.BaseSize < 0 {
		c.BaseSize = 0
	}
	if c.MaxTradesPerDay < 0 {
		c.MaxTradesPerDay = 0
	}
	if c.StartingCash <= 0 {
		c.StartingCash = 100000
	}
	if c.MaxPositionNotional < 0 {
		c.MaxPositionNotional = 0
	}
	if c.MaxPositionQty < 0 {
		c.MaxPositionQty = 0
	}
	return c
}

type ledgerKey struct {
	symbol string
	kind   domain.SignalKind
	index  int
}

// Executor turns strategy signals into simulated trades. Live mode is a
// no-op unless a LiveFunc is wired. All methods are safe for concurrent
// use.
type Executor struct {
	mu          sync.Mutex
	cfg         ExecutorConfig
	quote       QuoteFunc
	ledgerStore port.LedgerStore
	live        LiveFunc

	paper           *Portfolio
	seen            map[ledgerKey]struct{}
	entries         []domain.LedgerEntry
	tradesToday     int
	lastTradeDay    string
	lastTrade       time.Time
	lastSymbolTrade map[string]time.Time
	actions         []string
	openOrders      []Order

	now func() time.Time
}

// NewExecutor loads any persisted ledger so replayed signals stay no-ops
// across restarts.
func NewExecutor(ctx context.Context, cfg ExecutorConfig, quote QuoteFunc, store port.LedgerStore) (*Executor, error) {
	cfg = cfg.normalize()
	e := &Executor{
		cfg:             cfg,
		quote:           quote,
		ledgerStore:     store,
		paper:           NewPortfolio(cfg.StartingCash),
		seen:            map[ledgerKey]struct{}{},
		lastSymbolTrade: map[string]time.Time{},
		now:             time.Now,
	}
	if store != nil {
		entries, err := store.LoadLedger(ctx)
		if err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}
		e.entries = entries
		for _, le := range entries {
			e.seen[ledgerKey{symbol: le.Symbol, kind: le.Kind, index: le.Index}] = struct{}{}
		}
	}
	return e, nil
}

// Configure replaces the runtime settings. Starting cash only resets the
// portfolio while no positions are open.
func (e *Executor) Configure(cfg ExecutorConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg = cfg.normalize()
	if math.Abs(cfg.StartingCash-e.paper.Cash) > 1e-6 && len(e.paper.Positions) == 0 {
		e.paper.Cash = cfg.StartingCash
	}
	e.cfg = cfg
}

func (e *Executor) SetLive(fn LiveFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = fn
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

// OnSignal executes one signal, in order: enabled gate, daily cap,
// cooldowns, idempotency ledger, price lookup, then the trade itself.
func (e *Executor) OnSignal(ctx context.Context, symbol string, sig domain.Signal) {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return
	}
	now := e.now()
	e.rotateTradeCounter(now)
	if e.cfg.MaxTradesPerDay > 0 && e.tradesToday >= e.cfg.MaxTradesPerDay {
		e.mu.Unlock()
		return
	}
	if e.cfg.MinTradeInterval > 0 && now.Sub(e.lastTrade) < e.cfg.MinTradeInterval {
		e.mu.Unlock()
		return
	}
	if e.cfg.SymbolCooldown > 0 {
		if last, ok := e.lastSymbolTrade[symbol]; ok && now.Sub(last) < e.cfg.SymbolCooldown {
			e.mu.Unlock()
			return
		}
	}
	key := ledgerKey{symbol: symbol, kind: sig.Kind, index: sig.Index}
	if _, done := e.seen[key]; done {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Price lookup happens outside the lock: the gateway may hit the
	// network.
	price := 0.0
	if e.quote != nil {
		if q := e.quote(ctx, symbol); q.Valid() {
			price = q.Price
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if price <= 0 {
		e.record("SKIP %s no price", symbol)
		return
	}

	executed := false
	switch sig.Kind {
	case domain.SignalBuy:
		executed = e.execBuy(symbol, price, sig)
	case domain.SignalSell:
		executed = e.execSell(symbol, price, sig)
	}
	if !executed {
		return
	}
	e.seen[key] = struct{}{}
	e.entries = append(e.entries, domain.LedgerEntry{
		Timestamp: now.Unix(),
		Symbol:    symbol,
		Kind:      sig.Kind,
		Index:     sig.Index,
	})
	e.saveLedger(ctx)
	e.lastTrade = now
	e.lastSymbolTrade[symbol] = now
}

func (e *Executor) rotateTradeCounter(now time.Time) {
	day := now.Format("2006-01-02")
	if e.lastTradeDay != day {
		e.lastTradeDay = day
		e.tradesToday = 0
	}
}

// execBuy sizes by base notional, scales down to available cash, then
// clamps to the per-symbol qty and notional guardrails.
func (e *Executor) execBuy(symbol string, price float64, sig domain.Signal) bool {
	if e.cfg.Mode != "paper" {
		e.tradesToday++
		e.record("LIVE BUY (stub) %s notional %.2f @ %.2f", symbol, e.cfg.BaseSize, price)
		if e.live != nil {
			e.live(symbol, SideBuy, 0, price, map[string]any{"base_size": e.cfg.BaseSize, "signal": sig.Reason})
		}
		return true
	}
	if e.cfg.BaseSize <= 0 {
		return false
	}
	qty := round4(e.cfg.BaseSize / price)
	if qty <= 0 {
		return false
	}
	cost := qty * price
	if e.paper.Cash < cost {
		qty = round4(e.paper.Cash / price)
		cost = qty * price
	}
	if qty <= 0 {
		return false
	}
	pos := e.paper.Position(symbol)
	if e.cfg.MaxPositionQty > 0 {
		allowed := e.cfg.MaxPositionQty - pos.Qty
		if allowed < 0 {
			allowed = 0
		}
		if a := round4(allowed); a < qty {
			qty = a
		}
		cost = qty * price
	}
	if e.cfg.MaxPositionNotional > 0 {
		current := 0.0
		if pos.Qty > 0 {
			current = pos.Qty * pos.AvgPrice
		}
		allowed := e.cfg.MaxPositionNotional - current
		if allowed < 0 {
			allowed = 0
		}
		if byNotional := round4(allowed / price); byNotional < qty {
			qty = byNotional
		}
		cost = qty * price
	}
	if qty <= 0 {
		return false
	}
	pos.Buy(price, qty)
	e.paper.Cash -= cost
	e.tradesToday++
	e.record("BUY %s %.4f @ %.2f (conf=%.2f)", symbol, qty, price, sig.Confidence)
	return true
}

// execSell sells up to base-size worth, never more than the position.
// Selling while flat is a no-op.
func (e *Executor) execSell(symbol string, price float64, sig domain.Signal) bool {
	if e.cfg.Mode != "paper" {
		e.tradesToday++
		e.record("LIVE SELL (stub) %s ALL @ %.2f", symbol, price)
		if e.live != nil {
			e.live(symbol, SideSell, 0, price, map[string]any{"signal": sig.Reason})
		}
		return true
	}
	pos := e.paper.Position(symbol)
	if pos.Qty <= 0 {
		return false
	}
	sellQty := pos.Qty
	if price > 0 {
		if byBase := e.cfg.BaseSize / price; byBase < sellQty {
			sellQty = byBase
		}
	}
	proceeds := pos.Sell(price, sellQty)
	e.paper.Cash += proceeds
	e.tradesToday++
	e.record("SELL %s %.4f @ %.2f (proceeds=%.2f)", symbol, sellQty, price, proceeds)
	return true
}

// PlaceOrder fills paper orders immediately when their trigger condition
// holds at the current reference price; otherwise the order joins the
// open list. Live orders are forwarded and marked open.
func (e *Executor) PlaceOrder(ctx context.Context, req OrderRequest) Order {
	if req.Side != SideBuy && req.Side != SideSell {
		return rejected(req, "invalid_side")
	}
	switch req.Type {
	case OrderMarket, OrderLimit, OrderStop, OrderStopLimit:
	default:
		return rejected(req, "unsupported_type")
	}

	priceNow := 0.0
	if e.quote != nil {
		if q := e.quote(ctx, req.Symbol); q.Valid() {
			priceNow = q.Price
		}
	}
	if priceNow <= 0 {
		return rejected(req, "no_price")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	qty := req.Qty
	if qty == 0 {
		base := req.Notional
		if base == 0 {
			base = e.cfg.BaseSize
		}
		if base <= 0 {
			return rejected(req, "invalid_size")
		}
		qty = round4(base / priceNow)
	}
	if qty <= 0 {
		return rejected(req, "invalid_qty")
	}
	order := newOrder(req, qty)

	if e.cfg.Mode == "live" {
		if e.live != nil {
			e.live(req.Symbol, req.Side, qty, priceNow, map[string]any{
				"order_type": string(req.Type),
				"limit":      req.LimitPrice,
				"stop":       req.StopPrice,
				"tif":        order.TimeInForce,
			})
		}
		e.record("LIVE SUBMIT %s %s %s qty=%.4f", req.Side, req.Type, req.Symbol, qty)
		return order
	}

	fillPrice, shouldFill, rejectReason := fillDecision(req, priceNow)
	if rejectReason != "" {
		order.Status = StatusRejected
		order.Reason = rejectReason
		return order
	}
	if !shouldFill || fillPrice <= 0 {
		e.openOrders = append(e.openOrders, order)
		e.record("OPEN %s %s %s qty=%.4f (tif=%s)", req.Side, req.Type, req.Symbol, qty, order.TimeInForce)
		return order
	}

	pos := e.paper.Position(req.Symbol)
	execQty := qty
	if req.Side == SideBuy {
		if e.cfg.MaxPositionQty > 0 {
			allowed := e.cfg.MaxPositionQty - pos.Qty
			if allowed < 0 {
				allowed = 0
			}
			if a := round4(allowed); a < execQty {
				execQty = a
			}
		}
		if e.cfg.MaxPositionNotional > 0 {
			current := 0.0
			if pos.Qty > 0 {
				current = pos.Qty * pos.AvgPrice
			}
			allowed := e.cfg.MaxPositionNotional - current
			if allowed < 0 {
				allowed = 0
			}
			if byNotional := round4(allowed / fillPrice); byNotional < execQty {
				execQty = byNotional
			}
		}
		cost := execQty * fillPrice
		if e.paper.Cash < cost {
			execQty = round4(e.paper.Cash / fillPrice)
			cost = execQty * fillPrice
		}
		if execQty <= 0 {
			order.Status = StatusRejected
			order.Reason = "insufficient_cash"
			return order
		}
		pos.Buy(fillPrice, execQty)
		e.paper.Cash -= cost
	} else {
		if execQty > pos.Qty {
			execQty = pos.Qty
		}
		if execQty <= 0 {
			order.Status = StatusRejected
			order.Reason = "no_position"
			return order
		}
		e.paper.Cash += pos.Sell(fillPrice, execQty)
	}

	order.Status = StatusFilled
	order.FilledQty = execQty
	order.AvgFillPrice = fillPrice
	e.tradesToday++
	e.record("%s %s %s %.4f @ %.2f", req.Side, req.Type, req.Symbol, execQty, fillPrice)
	return order
}

// fillDecision applies the paper fill rules for each order type.
func fillDecision(req OrderRequest, priceNow float64) (fillPrice float64, shouldFill bool, rejectReason string) {
	switch req.Type {
	case OrderMarket:
		return priceNow, true, ""
	case OrderLimit:
		if req.LimitPrice <= 0 {
			return 0, false, "limit_required"
		}
		if req.Side == SideBuy {
			return math.Min(priceNow, req.LimitPrice), priceNow <= req.LimitPrice, ""
		}
		return math.Max(priceNow, req.LimitPrice), priceNow >= req.LimitPrice, ""
	case OrderStop:
		if req.StopPrice <= 0 {
			return 0, false, "stop_required"
		}
		triggered := priceNow >= req.StopPrice
		if req.Side == SideSell {
			triggered = priceNow <= req.StopPrice
		}
		return priceNow, triggered, ""
	case OrderStopLimit:
		if req.StopPrice <= 0 || req.LimitPrice <= 0 {
			return 0, false, "stop_and_limit_required"
		}
		triggered := priceNow >= req.StopPrice
		if req.Side == SideSell {
			triggered = priceNow <= req.StopPrice
		}
		if !triggered {
			return 0, false, ""
		}
		if req.Side == SideBuy {
			return math.Min(priceNow, req.LimitPrice), priceNow <= req.LimitPrice, ""
		}
		return math.Max(priceNow, req.LimitPrice), priceNow >= req.LimitPrice, ""
	}
	return 0, false, "unsupported_type"
}

// OpenOrders returns unfilled paper orders.
func (e *Executor) OpenOrders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.openOrders))
	copy(out, e.openOrders)
	return out
}

// PositionSnapshot is one open holding with an optional mark price.
type PositionSnapshot struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	Last     float64 `json:"last,omitempty"`
}

type PortfolioSnapshot struct {
	Mode      string             `json:"mode"`
	Cash      float64            `json:"cash"`
	Equity    float64            `json:"equity"`
	Positions []PositionSnapshot `json:"positions"`
}

// Snapshot marks open positions to market when includeQuotes is set.
func (e *Executor) Snapshot(ctx context.Context, includeQuotes bool) PortfolioSnapshot {
	e.mu.Lock()
	mode := e.cfg.Mode
	cash := e.paper.Cash
	symbols := make([]string, 0, len(e.paper.Positions))
	for sym, pos := range e.paper.Positions {
		if pos.Qty > 0 {
			symbols = append(symbols, sym)
		}
	}
	e.mu.Unlock()

	quotes := map[string]float64{}
	if includeQuotes && e.quote != nil {
		for _, sym := range symbols {
			if q := e.quote(ctx, sym); q.Valid() {
				quotes[sym] = q.Price
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := PortfolioSnapshot{Mode: mode, Cash: cash, Equity: e.paper.Equity(quotes)}
	for sym, pos := range e.paper.Positions {
		if pos.Qty <= 0 {
			continue
		}
		snap.Positions = append(snap.Positions, PositionSnapshot{
			Symbol:   sym,
			Qty:      pos.Qty,
			AvgPrice: pos.AvgPrice,
			Last:     quotes[sym],
		})
	}
	return snap
}

var _ port.PositionReader = (*Executor)(nil)

// Positions reports open holdings marked to the latest quote. PnL is
// relative to the average entry price.
func (e *Executor) Positions(ctx context.Context) ([]port.AccountPosition, error) {
	e.mu.Lock()
	held := make([]Position, 0, len(e.paper.Positions))
	for _, pos := range e.paper.Positions {
		if pos.Qty > 0 {
			held = append(held, *pos)
		}
	}
	e.mu.Unlock()

	out := make([]port.AccountPosition, 0, len(held))
	for _, pos := range held {
		price := pos.AvgPrice
		if e.quote != nil {
			if q := e.quote(ctx, pos.Symbol); q.Valid() {
				price = q.Price
			}
		}
		out = append(out, port.AccountPosition{
			Symbol:   pos.Symbol,
			Quantity: pos.Qty,
			Value:    pos.Qty * price,
			Currency: "USD",
			PnL:      (price - pos.AvgPrice) * pos.Qty,
		})
	}
	return out, nil
}

// Summary is a one-line status for console output.
func (e *Executor) Summary() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	base := fmt.Sprintf("AutoTrade[%s] enabled=%t trades_today=%d/%d base=%.0f cooldown=%s sym_cd=%s",
		e.cfg.Mode, e.cfg.Enabled, e.tradesToday, e.cfg.MaxTradesPerDay,
		e.cfg.BaseSize, e.cfg.MinTradeInterval, e.cfg.SymbolCooldown)
	if e.cfg.Mode == "paper" {
		open := 0
		for _, p := range e.paper.Positions {
			if p.Qty > 0 {
				open++
			}
		}
		return fmt.Sprintf("%s cash=%.2f positions=%d", base, e.paper.Cash, open)
	}
	return base
}

// LastActions returns the most recent n log lines, oldest first.
func (e *Executor) LastActions(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.actions) {
		n = len(e.actions)
	}
	out := make([]string, n)
	copy(out, e.actions[len(e.actions)-n:])
	return out
}

func (e *Executor) record(format string, args ...any) {
	line := fmt.Sprintf("%s | %s", e.now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	e.actions = append(e.actions, line)
	log.Debug().Msg(line)
}

// saveLedger persists the most recent entries, capped to keep the store
// bounded. Caller holds the lock.
func (e *Executor) saveLedger(ctx context.Context) {
	if len(e.entries) > ledgerCap {
		e.entries = e.entries[len(e.entries)-ledgerCap:]
	}
	if e.ledgerStore == nil {
		return
	}
	if err := e.ledgerStore.SaveLedger(ctx, e.entries); err != nil {
		log.Warn().Err(err).Msg("ledger save failed")
	}
}
