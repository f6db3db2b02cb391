package console

import (
	"fmt"
	"sync"
	"time"

	"stratwatch/internal/application/port"
)

// Sink prints alerts to stdout, one timestamped block per alert.
type Sink struct{}

func NewSink() port.AlertSink { return &Sink{} }

var _ port.AlertSink = (*Sink)(nil)

func (s *Sink) Send(title, message, level string) bool {
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Printf("\n[%s] %s %s\n%s\n\n", level, ts, title, message)
	return true
}

// Gate rate-limits alerts per (level, code) pair.
type Gate struct {
	minInterval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

var _ port.NotificationGate = (*Gate)(nil)

func NewGate(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	return &Gate{
		minInterval: minInterval,
		last:        map[string]time.Time{},
		now:         time.Now,
	}
}

// Allow reports whether an alert for this (level, code) pair may fire,
// and records the attempt when it may.
func (g *Gate) Allow(level, code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := level + "|" + code
	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.minInterval {
		return false
	}
	g.last[key] = now
	return true
}
