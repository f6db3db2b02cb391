// Package postgres is the shared-deployment cache backend. Schema and
// semantics mirror the sqlite store.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
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
  updated_at BIGINT NOT NULL,
  PRIMARY KEY(namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_cache_ns ON cache(namespace);
CREATE INDEX IF NOT EXISTS idx_cache_updated ON cache(updated_at);

CREATE TABLE IF NOT EXISTS ledger (
  id BIGSERIAL PRIMARY KEY,
  ts BIGINT NOT NULL,
  symbol TEXT NOT NULL,
  kind INT NOT NULL,
  bar_index INT NOT NULL,
  UNIQUE(symbol, kind, bar_index)
);
`)
	return err
}

func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache(namespace, key, value, updated_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(namespace, key) DO UPDATE SET
		value=excluded.value, updated_at=excluded.updated_at
	`, namespace, key, string(value), time.Now().Unix())
	return err
}

func (s *Store) GetIfFresh(ctx context.Context, namespace, key string, maxAge time.Duration) ([]byte, error) {
	var value string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM cache WHERE namespace=$1 AND key=$2`, namespace, key).
		Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Since(time.Unix(updatedAt, 0)) > maxAge {
		return nil, nil
	}
	return []byte(value), nil
}

func (s *Store) GetAny(ctx context.Context, namespace, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE namespace=$1 AND key=$2`, namespace, key).
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE namespace=$1 AND key=$2`, namespace, key)
	return err
}

func (s *Store) ClearNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE namespace=$1`, namespace)
	return err
}

func (s *Store) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE updated_at < $1`, cutoff)
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache WHERE namespace=$1`, namespace).Scan(&count); err != nil {
		return 0, err
	}
	excess := count - maxRows
	if excess <= 0 {
		return 0, nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache WHERE (namespace, key) IN (
			SELECT namespace, key FROM cache WHERE namespace=$1 ORDER BY updated_at ASC LIMIT $2
		)
	`, namespace, excess)
	if err != nil {
		return 0, err
	}
	return excess, nil
}

func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM cache`)
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
			INSERT INTO ledger(ts, symbol, kind, bar_index) VALUES($1, $2, $3, $4)
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
