package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/suhailsaqan/mdk/storage"
)

// RedisStore is a Store backed by Redis: one hash per group holding
// epoch -> serialized EpochSnapshot, plus a sorted set keyed by epoch
// so PruneSnapshots and DeleteSnapshotsAfter can trim by range without
// reading every member back. It lets several core processes share one
// group's race-resolution history instead of each keeping its own.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an already-configured *redis.Client. prefix
// namespaces keys (e.g. "mdk:snap:") so the store can share a Redis
// instance with unrelated data.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mdk:snapshot:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) hashKey(nostrGroupID [32]byte) string {
	return fmt.Sprintf("%s%x:data", s.prefix, nostrGroupID)
}

func (s *RedisStore) indexKey(nostrGroupID [32]byte) string {
	return fmt.Sprintf("%s%x:epochs", s.prefix, nostrGroupID)
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap storage.EpochSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	field := fmt.Sprintf("%d", snap.Epoch)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.hashKey(snap.NostrGroupID), field, data)
	pipe.ZAdd(ctx, s.indexKey(snap.NostrGroupID), redis.Z{Score: float64(snap.Epoch), Member: field})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetSnapshot(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (storage.EpochSnapshot, bool, error) {
	field := fmt.Sprintf("%d", epoch)
	data, err := s.rdb.HGet(ctx, s.hashKey(nostrGroupID), field).Bytes()
	if err == redis.Nil {
		return storage.EpochSnapshot{}, false, nil
	}
	if err != nil {
		return storage.EpochSnapshot{}, false, err
	}
	var snap storage.EpochSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return storage.EpochSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *RedisStore) DeleteSnapshotsAfter(ctx context.Context, nostrGroupID [32]byte, epoch uint64) error {
	fields, err := s.rdb.ZRangeByScore(ctx, s.indexKey(nostrGroupID), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", epoch), // exclusive lower bound
		Max: "+inf",
	}).Result()
	if err != nil || len(fields) == 0 {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.hashKey(nostrGroupID), fields...)
	members := make([]interface{}, len(fields))
	for i, f := range fields {
		members[i] = f
	}
	pipe.ZRem(ctx, s.indexKey(nostrGroupID), members...)
	_, err = pipe.Exec(ctx)
	return err
}

// PruneSnapshots keeps only the keep most recent epochs for
// nostrGroupID, evicting the oldest first.
func (s *RedisStore) PruneSnapshots(ctx context.Context, nostrGroupID [32]byte, keep int) error {
	if keep <= 0 {
		return nil
	}
	total, err := s.rdb.ZCard(ctx, s.indexKey(nostrGroupID)).Result()
	if err != nil {
		return err
	}
	excess := total - int64(keep)
	if excess <= 0 {
		return nil
	}
	stale, err := s.rdb.ZRange(ctx, s.indexKey(nostrGroupID), 0, excess-1).Result()
	if err != nil || len(stale) == 0 {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.hashKey(nostrGroupID), stale...)
	members := make([]interface{}, len(stale))
	for i, f := range stale {
		members[i] = f
	}
	pipe.ZRem(ctx, s.indexKey(nostrGroupID), members...)
	_, err = pipe.Exec(ctx)
	return err
}

var _ Store = (*RedisStore)(nil)
