package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"sentinel/core"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxCollectionSize caps a single encoded collection
const maxCollectionSize = 64 * 1024 * 1024

// RedisOptions configures the Redis repository
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// RedisRepository keeps each collection as one msgpack blob under its own
// key, so a Save is a single atomic SET.
type RedisRepository struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisRepository connects to Redis. The connection is verified lazily;
// call Ping to fail fast.
func NewRedisRepository(opts RedisOptions, logger *zap.SugaredLogger) *RedisRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "sentinel_"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return &RedisRepository{client: client, prefix: prefix, logger: logger}
}

// Key returns the Redis key holding a collection
func (r *RedisRepository) Key(collection string) string {
	switch collection {
	case CollectionNotes:
		return r.prefix + "notes"
	default:
		return r.prefix + collection
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) LoadAlerts(ctx context.Context) ([]core.Alert, error) {
	alerts := make([]core.Alert, 0)
	if err := r.load(ctx, CollectionAlerts, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *RedisRepository) SaveAlerts(ctx context.Context, alerts []core.Alert) error {
	return r.save(ctx, CollectionAlerts, alerts)
}

func (r *RedisRepository) LoadNotes(ctx context.Context) ([]core.CaseNote, error) {
	notes := make([]core.CaseNote, 0)
	if err := r.load(ctx, CollectionNotes, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *RedisRepository) SaveNotes(ctx context.Context, notes []core.CaseNote) error {
	return r.save(ctx, CollectionNotes, notes)
}

func (r *RedisRepository) LoadArtifacts(ctx context.Context) ([]core.Artifact, error) {
	artifacts := make([]core.Artifact, 0)
	if err := r.load(ctx, CollectionArtifacts, &artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *RedisRepository) SaveArtifacts(ctx context.Context, artifacts []core.Artifact) error {
	return r.save(ctx, CollectionArtifacts, artifacts)
}

func (r *RedisRepository) load(ctx context.Context, collection string, dest interface{}) error {
	key := r.Key(collection)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(dest); err != nil {
		r.logger.Errorw("Corrupt collection in Redis", "key", key, "error", err)
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) save(ctx context.Context, collection string, value interface{}) error {
	key := r.Key(collection)

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if buf.Len() > maxCollectionSize {
		return fmt.Errorf("collection %s size %d bytes exceeds maximum %d bytes", key, buf.Len(), maxCollectionSize)
	}

	if err := r.client.Set(ctx, key, buf.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

var _ CaseRepository = (*RedisRepository)(nil)
