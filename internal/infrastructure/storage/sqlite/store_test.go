package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stratwatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheSetGetFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }
	if err := store.Set(ctx, "quote", "AAPL", []byte(`{"price":190.5}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	store.now = func() time.Time { return t0.Add(10 * time.Second) }
	val, err := store.GetIfFresh(ctx, "quote", "AAPL", 60*time.Second)
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if string(val) != `{"price":190.5}` {
		t.Errorf("unexpected fresh value: %s", val)
	}

	store.now = func() time.Time { return t0.Add(120 * time.Second) }
	val, err = store.GetIfFresh(ctx, "quote", "AAPL", 60*time.Second)
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected stale miss, got %s", val)
	}

	val, err = store.GetAny(ctx, "quote", "AAPL")
	if err != nil {
		t.Fatalf("GetAny failed: %v", err)
	}
	if string(val) != `{"price":190.5}` {
		t.Errorf("GetAny should ignore age, got %s", val)
	}
}

func TestCacheMissReturnsNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetIfFresh(ctx, "quote", "MISSING", time.Minute)
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil on miss, got %s", val)
	}
}

func TestCacheUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "quote", "AAPL", []byte(`1`))
	store.Set(ctx, "quote", "AAPL", []byte(`2`))
	val, err := store.GetAny(ctx, "quote", "AAPL")
	if err != nil {
		t.Fatalf("GetAny failed: %v", err)
	}
	if string(val) != `2` {
		t.Errorf("expected overwritten value 2, got %s", val)
	}
}

func TestCacheDeleteAndClearNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "quote", "AAPL", []byte(`1`))
	store.Set(ctx, "quote", "MSFT", []byte(`2`))
	store.Set(ctx, "series", "AAPL", []byte(`3`))

	if err := store.Delete(ctx, "quote", "AAPL"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := store.GetAny(ctx, "quote", "AAPL"); val != nil {
		t.Errorf("deleted key still present")
	}

	if err := store.ClearNamespace(ctx, "quote"); err != nil {
		t.Fatalf("ClearNamespace failed: %v", err)
	}
	if val, _ := store.GetAny(ctx, "quote", "MSFT"); val != nil {
		t.Errorf("cleared namespace still has rows")
	}
	if val, _ := store.GetAny(ctx, "series", "AAPL"); val == nil {
		t.Errorf("other namespace was cleared too")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }
	store.Set(ctx, "quote", "OLD", []byte(`1`))
	store.now = func() time.Time { return t0.Add(time.Hour) }
	store.Set(ctx, "quote", "NEW", []byte(`2`))

	n, err := store.PurgeOlderThan(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
	if val, _ := store.GetAny(ctx, "quote", "NEW"); val == nil {
		t.Errorf("fresh row was purged")
	}
}

func TestPurgeNamespaceOverflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := t0.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return tick }
		store.Set(ctx, "series", string(rune('A'+i)), []byte(`x`))
	}

	n, err := store.PurgeNamespaceOverflow(ctx, "series", 2)
	if err != nil {
		t.Fatalf("PurgeNamespaceOverflow failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 purged rows, got %d", n)
	}
	// Oldest rows go first.
	if val, _ := store.GetAny(ctx, "series", "A"); val != nil {
		t.Errorf("oldest row survived overflow purge")
	}
	if val, _ := store.GetAny(ctx, "series", "E"); val == nil {
		t.Errorf("newest row was purged")
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "quote", "AAPL", []byte(`1`))
	store.Set(ctx, "quote", "MSFT", []byte(`2`))
	store.Set(ctx, "series", "AAPL", []byte(`3`))

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("expected 3 rows total, got %d", st.Total)
	}
	if st.Namespaces["quote"].Count != 2 {
		t.Errorf("expected 2 quote rows, got %d", st.Namespaces["quote"].Count)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []domain.LedgerEntry{
		{Timestamp: 100, Symbol: "AAPL", Kind: domain.SignalBuy, Index: 40},
		{Timestamp: 200, Symbol: "MSFT", Kind: domain.SignalSell, Index: 41},
	}
	if err := store.SaveLedger(ctx, entries); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}

	loaded, err := store.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded))
	}
	if loaded[0].Symbol != "AAPL" || loaded[0].Kind != domain.SignalBuy || loaded[0].Index != 40 {
		t.Errorf("unexpected first entry: %+v", loaded[0])
	}

	// Save replaces the previous ledger wholesale.
	if err := store.SaveLedger(ctx, entries[:1]); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}
	loaded, err = store.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("expected 1 entry after rewrite, got %d", len(loaded))
	}
}

func TestVacuum(t *testing.T) {
	store := newTestStore(t)
	if err := store.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum failed: %v", err)
	}
}
