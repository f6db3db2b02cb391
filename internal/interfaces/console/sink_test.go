package console

import (
	"testing"
	"time"
)

func TestGateThrottlesPerCode(t *testing.T) {
	g := NewGate(30 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	if !g.Allow("ALERT", "TECH_BUY") {
		t.Fatal("first alert should pass")
	}
	if g.Allow("ALERT", "TECH_BUY") {
		t.Fatal("repeat within interval should be throttled")
	}
	if !g.Allow("ALERT", "TECH_SELL") {
		t.Fatal("different code should pass")
	}

	base = base.Add(31 * time.Second)
	if !g.Allow("ALERT", "TECH_BUY") {
		t.Fatal("alert after interval should pass")
	}
}

func TestGateDefaultInterval(t *testing.T) {
	g := NewGate(0)
	if g.minInterval != 30*time.Second {
		t.Fatalf("minInterval = %v, want 30s", g.minInterval)
	}
}
