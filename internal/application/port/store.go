package port

import (
	"context"
	"time"

	"stratwatch/internal/domain"
)

// NamespaceStats describes one cache namespace.
type NamespaceStats struct {
	Count       int
	LastUpdated time.Time
}

// CacheStats is the full cache summary.
type CacheStats struct {
	Total      int
	Namespaces map[string]NamespaceStats
}

// CacheStore is the persistent namespaced key-value cache. Values are raw
// JSON payloads; freshness is decided by callers through max ages.
type CacheStore interface {
	Set(ctx context.Context, namespace, key string, value []byte) error
	GetIfFresh(ctx context.Context, namespace, key string, maxAge time.Duration) ([]byte, error)
	GetAny(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	ClearNamespace(ctx context.Context, namespace string) error

	// Maintenance
	PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	PurgeNamespaceOverflow(ctx context.Context, namespace string, maxRows int) (int, error)
	Vacuum(ctx context.Context) error
	Stats(ctx context.Context) (CacheStats, error)

	Close() error
}

// LedgerStore persists executed-signal records across restarts.
type LedgerStore interface {
	SaveLedger(ctx context.Context, entries []domain.LedgerEntry) error
	LoadLedger(ctx context.Context) ([]domain.LedgerEntry, error)
	Close() error
}
