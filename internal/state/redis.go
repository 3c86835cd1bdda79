package state

import (
	"context"
	"errors"
	"log"

	backend "github.com/redis/go-redis/v9"

	"github.com/coachpo/stockwatch/errs"
)

// DefaultRedisKey holds the snapshot document when no key is configured.
const DefaultRedisKey = "stockwatch:state"

// RedisStore keeps the snapshot document under a single Redis key.
type RedisStore struct {
	client *backend.Client
	key    string
	logger *log.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *backend.Client, key string, logger *log.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// NewRedisStoreFromURL parses a redis:// URL. When url is empty addr, password and
// db are used instead.
func NewRedisStoreFromURL(url, addr, password string, db int, key string, logger *log.Logger) (*RedisStore, error) {
	if url != "" {
		opts, err := backend.ParseURL(url)
		if err != nil {
			return nil, errs.New("state/redis", errs.CodeInvalid, errs.WithMessage("parse redis url"), errs.WithCause(err))
		}
		return NewRedisStore(backend.NewClient(opts), key, logger), nil
	}
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(client, key, logger), nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errs.New("state/redis", errs.CodeUnavailable, errs.WithMessage("ping"), errs.WithCause(err))
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }

// Load reads the snapshot. A missing key yields an empty snapshot.
func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return decodeLogged(data, s.logger)
}

// Save overwrites the key with snap.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.WriteRaw(ctx, data)
}

// ReadRaw returns the stored document, or nil when the key is absent.
func (s *RedisStore) ReadRaw(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, errs.New("state/redis", errs.CodeUnavailable, errs.WithMessage("get "+s.key), errs.WithCause(err))
	}
	return data, nil
}

// WriteRaw stores data without expiry.
func (s *RedisStore) WriteRaw(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return errs.New("state/redis", errs.CodeUnavailable, errs.WithMessage("set "+s.key), errs.WithCause(err))
	}
	return nil
}
