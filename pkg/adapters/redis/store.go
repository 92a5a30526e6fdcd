package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store and the locker.
const DefaultPrefix = "parley:"

// Store implements ports.StateStore using Redis.
// Each record is a hash whose fields are the record's top-level keys (values JSON encoded),
// so a diff only touches the fields it changes.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration of records. Every commit refreshes it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client returns the underlying client (shared with the Locker).
func (s *Store) Client() *backend.Client { return s.client }

func (s *Store) key(id string) string {
	return s.prefix + "state:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Load retrieves the record from Redis.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrStateNotFound
	}

	rec := make(domain.Record, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s.%s: %w", id, k, err)
		}
		rec[k] = v
	}
	return rec, nil
}

// Commit applies every diff inside one MULTI/EXEC transaction.
func (s *Store) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	type encoded struct {
		id     string
		fields map[string]any
		del    []string
	}
	batch := make([]encoded, 0, len(diffs))
	for _, d := range diffs {
		e := encoded{id: d.ID, fields: make(map[string]any, len(d.Set)), del: d.Deleted}
		for k, v := range d.Set {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal %s.%s: %w", d.ID, k, err)
			}
			e.fields[k] = string(raw)
		}
		batch = append(batch, e)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for _, e := range batch {
			key := s.key(e.id)
			if len(e.del) > 0 {
				pipe.HDel(ctx, key, e.del...)
			}
			if len(e.fields) > 0 {
				pipe.HSet(ctx, key, e.fields)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: e.id})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit to redis: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, backend.Nil) {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns the ids of live records. Expired entries are pruned from the index lazily.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired records: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
