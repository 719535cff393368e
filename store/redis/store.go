package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/codec"
	"github.com/xraph/runqueue/concurrency"
	"github.com/xraph/runqueue/keys"
)

// Compile-time interface checks.
var (
	_ batch.Store       = (*Store)(nil)
	_ concurrency.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeys sets the key producer. Defaults to keys.New("").
func WithKeys(p keys.Producer) Option {
	return func(s *Store) { s.keys = p }
}

// WithCodec sets the codec for meta, items and failures. Defaults to JSON.
// Every process sharing a Redis must use the same codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	owned  io.Closer
	keys   keys.Producer
	codec  codec.Codec
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys.New(""),
		codec:  codec.JSON{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to the Redis server at url (redis:// or rediss://) and
// returns a store that owns the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("runqueue/redis: parse url: %w", err)
	}
	client := goredis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("runqueue/redis: ping: %w", err)
	}

	s := New(client, opts...)
	s.owned = client
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Keys returns the key producer in use.
func (s *Store) Keys() keys.Producer { return s.keys }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection when the store opened it, and is a no-op
// otherwise.
func (s *Store) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}
