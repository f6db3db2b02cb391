package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

// Store is the default persistence backend: a namespaced cache table plus
// the execution ledger, in one SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Store, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS cache (
  namespace TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_cache_ns ON cache(namespace);
CREATE INDEX IF NOT EXISTS idx_cache_updated ON cache(updated_at);

CREATE TABLE IF NOT EXISTS ledger (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  kind INTEGER NOT NULL,
  bar_index INTEGER NOT NULL,
  UNIQUE(symbol, kind, bar_index)
);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger(ts);
`)
	return err
}

func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache(namespace, key, value, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
		value=excluded.value, updated_at=excluded.updated_at
	`, namespace, key, string(value), s.now().Unix())
	return err
}

func (s *Store) GetIfFresh(ctx context.Context, namespace, key string, maxAge time.Duration) ([]byte, error) {
	var value string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM cache WHERE namespace=? AND key=?`, namespace, key).
		Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.now().Sub(time.Unix(updatedAt, 0)) > maxAge {
		return nil, nil
	}
	return []byte(value), nil
}

func (s *Store) GetAny(ctx context.Context, namespace, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE namespace=? AND key=?`, namespace, key).
		Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE namespace=? AND key=?`, namespace, key)
	return err
}

func (s *Store) ClearNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE namespace=?`, namespace)
	return err
}

func (s *Store) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) PurgeNamespaceOverflow(ctx context.Context, namespace string, maxRows int) (int, error) {
	if maxRows < 1 {
		maxRows = 1
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache WHERE namespace=?`, namespace).Scan(&count); err != nil {
		return 0, err
	}
	excess := count - maxRows
	if excess <= 0 {
		return 0, nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache WHERE rowid IN (
			SELECT rowid FROM cache WHERE namespace=? ORDER BY updated_at ASC LIMIT ?
		)
	`, namespace, excess)
	if err != nil {
		return 0, err
	}
	return excess, nil
}

func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

func (s *Store) Stats(ctx context.Context) (port.CacheStats, error) {
	st := port.CacheStats{Namespaces: map[string]port.NamespaceStats{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&st.Total); err != nil {
		return st, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, COUNT(*), MAX(updated_at) FROM cache GROUP BY namespace`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var ns string
		var n int
		var last int64
		if err := rows.Scan(&ns, &n, &last); err != nil {
			return st, err
		}
		st.Namespaces[ns] = port.NamespaceStats{Count: n, LastUpdated: time.Unix(last, 0)}
	}
	return st, rows.Err()
}

func (s *Store) SaveLedger(ctx context.Context, entries []domain.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger`); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger(ts, symbol, kind, bar_index) VALUES(?, ?, ?, ?)
			ON CONFLICT(symbol, kind, bar_index) DO UPDATE SET ts=excluded.ts
		`, e.Timestamp, e.Symbol, int(e.Kind), e.Index); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadLedger(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, symbol, kind, bar_index FROM ledger ORDER BY ts ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind int
		if err := rows.Scan(&e.Timestamp, &e.Symbol, &kind, &e.Index); err != nil {
			return nil, err
		}
		e.Kind = domain.SignalKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ port.CacheStore = (*Store)(nil)
var _ port.LedgerStore = (*Store)(nil)
