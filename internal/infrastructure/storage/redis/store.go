// Package redis backs the cache with Redis hashes, one hash per
// namespace with a JSON envelope per entry. Freshness uses the envelope
// timestamp so semantics match the SQL backends.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"stratwatch/internal/application/port"
	"stratwatch/internal/domain"
)

type Store struct {
	rdb       *redis.Client
	prefix    string
	keySpaces string // set of known namespaces
	keyLedger string
	now       func() time.Time
}

type envelope struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updated_at"`
}

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{
		rdb:       rdb,
		prefix:    prefix,
		keySpaces: prefix + ":namespaces",
		keyLedger: prefix + ":ledger",
		now:       time.Now,
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) nsKey(namespace string) string { return s.prefix + ":cache:" + namespace }

func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	b, err := json.Marshal(envelope{Value: value, UpdatedAt: s.now().Unix()})
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.nsKey(namespace), key, string(b))
	pipe.SAdd(ctx, s.keySpaces, namespace)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) get(ctx context.Context, namespace, key string) (*envelope, error) {
	raw, err := s.rdb.HGet(ctx, s.nsKey(namespace), key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) GetIfFresh(ctx context.Context, namespace, key string, maxAge time.Duration) ([]byte, error) {
	env, err := s.get(ctx, namespace, key)
	if err != nil || env == nil {
		return nil, err
	}
	if s.now().Sub(time.Unix(env.UpdatedAt, 0)) > maxAge {
		return nil, nil
	}
	return env.Value, nil
}

func (s *Store) GetAny(ctx context.Context, namespace, key string) ([]byte, error) {
	env, err := s.get(ctx, namespace, key)
	if err != nil || env == nil {
		return nil, err
	}
	return env.Value, nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.rdb.HDel(ctx, s.nsKey(namespace), key).Err()
}

func (s *Store) ClearNamespace(ctx context.Context, namespace string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, s.nsKey(namespace))
	pipe.SRem(ctx, s.keySpaces, namespace)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) namespaces(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keySpaces).Result()
}

func (s *Store) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).Unix()
	spaces, err := s.namespaces(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, ns := range spaces {
		all, err := s.rdb.HGetAll(ctx, s.nsKey(ns)).Result()
		if err != nil {
			return purged, err
		}
		for key, raw := range all {
			var env envelope
			if json.Unmarshal([]byte(raw), &env) != nil || env.UpdatedAt < cutoff {
				if err := s.rdb.HDel(ctx, s.nsKey(ns), key).Err(); err != nil {
					return purged, err
				}
				purged++
			}
		}
	}
	return purged, nil
}

func (s *Store) PurgeNamespaceOverflow(ctx context.Context, namespace string, maxRows int) (int, error) {
	if maxRows < 1 {
		maxRows = 1
	}
	all, err := s.rdb.HGetAll(ctx, s.nsKey(namespace)).Result()
	if err != nil {
		return 0, err
	}
	excess := len(all) - maxRows
	if excess <= 0 {
		return 0, nil
	}
	type aged struct {
		key string
		at  int64
	}
	entries := make([]aged, 0, len(all))
	for key, raw := range all {
		var env envelope
		_ = json.Unmarshal([]byte(raw), &env)
		entries = append(entries, aged{key: key, at: env.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at < entries[j].at })
	for _, e := range entries[:excess] {
		if err := s.rdb.HDel(ctx, s.nsKey(namespace), e.key).Err(); err != nil {
			return 0, err
		}
	}
	return excess, nil
}

// Vacuum is a no-op: Redis reclaims space itself.
func (s *Store) Vacuum(ctx context.Context) error { return nil }

func (s *Store) Stats(ctx context.Context) (port.CacheStats, error) {
	st := port.CacheStats{Namespaces: map[string]port.NamespaceStats{}}
	spaces, err := s.namespaces(ctx)
	if err != nil {
		return st, err
	}
	for _, ns := range spaces {
		all, err := s.rdb.HGetAll(ctx, s.nsKey(ns)).Result()
		if err != nil {
			return st, err
		}
		var last int64
		for _, raw := range all {
			var env envelope
			if json.Unmarshal([]byte(raw), &env) == nil && env.UpdatedAt > last {
				last = env.UpdatedAt
			}
		}
		st.Namespaces[ns] = port.NamespaceStats{Count: len(all), LastUpdated: time.Unix(last, 0)}
		st.Total += len(all)
	}
	return st, nil
}

func (s *Store) SaveLedger(ctx context.Context, entries []domain.LedgerEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyLedger, string(b), 0).Err()
}

func (s *Store) LoadLedger(ctx context.Context) ([]domain.LedgerEntry, error) {
	raw, err := s.rdb.Get(ctx, s.keyLedger).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []domain.LedgerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ port.CacheStore = (*Store)(nil)
var _ port.LedgerStore = (*Store)(nil)
