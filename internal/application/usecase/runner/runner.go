// Package runner evaluates the configured strategy across a symbol
// universe on a fixed interval and forwards fresh signals to the alert
// sink and the executor.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
	"stratwatch/internal/domain/strategy"
)

const (
	universeCap = 50
	minCloses   = 30
	minInterval = 15 * time.Second
)

// SeriesFunc resolves a daily close series for a symbol; it is fail-soft
// and returns an invalid series on total miss.
type SeriesFunc func(ctx context.Context, symbol string, interval domain.Interval, full bool) domain.Series

// SignalHandler receives every fresh signal that passed deduplication.
type SignalHandler func(ctx context.Context, symbol string, sig domain.Signal)

// Summarizer contributes a status suffix to the run report.
type Summarizer interface {
	Summary() string
}

type Config struct {
	Enabled  bool
	Interval time.Duration
	Strategy string
	Params   strategy.Params
}

type Deps struct {
	Series   SeriesFunc
	Universe func() []string
	Sink     port.AlertSink
	Gate     port.NotificationGate
	OnSignal SignalHandler
	Status   Summarizer
}

// Service is the background evaluator. Start is idempotent while the
// loop is alive; Stop waits for it to wind down.
type Service struct {
	deps Deps

	mu         sync.Mutex
	cfg        Config
	lastSeen   map[string]int // "symbol|kind" -> last alerted bar index
	lastReport string
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.Interval < minInterval {
		cfg.Interval = 300 * time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "ma_cross"
	}
	return &Service{
		deps:     deps,
		cfg:      cfg,
		lastSeen: map[string]int{},
	}
}

// Configure updates settings for subsequent runs.
func (s *Service) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Interval < minInterval {
		cfg.Interval = s.cfg.Interval
	}
	if cfg.Strategy == "" {
		cfg.Strategy = s.cfg.Strategy
	}
	s.cfg = cfg
}

// Start launches the evaluation loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	log.Info().Dur("interval", s.cfg.Interval).Str("strategy", s.cfg.Strategy).Msg("strategy runner started")
}

// Stop halts the loop and waits for the current pass to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("strategy runner stopped")
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		enabled := s.cfg.Enabled
		interval := s.cfg.Interval
		s.mu.Unlock()

		if enabled {
			s.RunOnce(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RunOnce evaluates the whole universe once and returns the report line.
// Only signals on the latest bar fire, and each (symbol, kind) pair
// fires at most once per bar index.
func (s *Service) RunOnce(ctx context.Context) string {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	universe := s.deps.Universe()
	if len(universe) > universeCap {
		universe = universe[:universeCap]
	}
	if len(universe) == 0 {
		return s.report("No symbols to evaluate.")
	}

	gen, err := strategy.New(cfg.Strategy, cfg.Params)
	if err != nil {
		log.Error().Err(err).Str("strategy", cfg.Strategy).Msg("strategy construction failed")
		return s.report(fmt.Sprintf("Runner: bad strategy %q", cfg.Strategy))
	}

	var buys, sells, checked int
	for _, sym := range universe {
		if ctx.Err() != nil {
			break
		}
		series := s.deps.Series(ctx, sym, domain.IntervalDaily, false)
		closes := series.Closes()
		if len(closes) < minCloses {
			continue
		}
		sigs := gen.Generate(closes)
		if len(sigs) == 0 {
			continue
		}
		lastIndex := len(closes) - 1
		for _, sig := range sigs {
			if sig.Index != lastIndex {
				continue
			}
			if !s.markFresh(sym, sig.Kind, lastIndex) {
				continue
			}
			s.emit(ctx, sym, sig)
			if sig.Kind == domain.SignalBuy {
				buys++
			} else {
				sells++
			}
		}
		checked++
	}

	extra := ""
	if s.deps.Status != nil {
		extra = " | " + s.deps.Status.Summary()
	}
	return s.report(fmt.Sprintf("Runner: checked=%d buy=%d sell=%d%s", checked, buys, sells, extra))
}

// markFresh records the alert; false means this (symbol, kind, index)
// already fired.
func (s *Service) markFresh(symbol string, kind domain.SignalKind, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := symbol + "|" + kind.String()
	if last, ok := s.lastSeen[key]; ok && last == index {
		return false
	}
	s.lastSeen[key] = index
	return true
}

func (s *Service) emit(ctx context.Context, symbol string, sig domain.Signal) {
	code := "TECH_" + strings.ToUpper(sig.Kind.String())
	if s.deps.Gate == nil || s.deps.Gate.Allow("ALERT", code) {
		title := fmt.Sprintf("Strategy Alert - %s %s", code, symbol)
		msg := fmt.Sprintf("%s: %s (close idx %d)", symbol, sig.Reason, sig.Index)
		if s.deps.Sink != nil {
			s.deps.Sink.Send(title, msg, "ALERT")
		}
	}
	if s.deps.OnSignal != nil {
		s.deps.OnSignal(ctx, symbol, sig)
	}
}

func (s *Service) report(line string) string {
	s.mu.Lock()
	s.lastReport = line
	s.mu.Unlock()
	log.Info().Msg(line)
	return line
}

// LastReport returns the report from the most recent pass.
func (s *Service) LastReport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}
