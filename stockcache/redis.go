package stockcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps client. Entries expire after ttl; zero keeps them
// until invalidated.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func positionKey(materialID int64) string {
	return fmt.Sprintf("stockcore:material:%d:position", materialID)
}

const allMaterialsKey = "stockcore:materials"

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) SetPosition(ctx context.Context, pos *Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, positionKey(pos.MaterialID), data, r.ttl)
	pipe.SAdd(ctx, allMaterialsKey, pos.MaterialID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetPosition returns nil without error on a miss.
func (r *RedisStore) GetPosition(ctx context.Context, materialID int64) (*Position, error) {
	data, err := r.client.Get(ctx, positionKey(materialID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pos Position
	return &pos, json.Unmarshal(data, &pos)
}

func (r *RedisStore) DeletePositions(ctx context.Context, materialIDs ...int64) error {
	if len(materialIDs) == 0 {
		return nil
	}
	keys := make([]string, len(materialIDs))
	members := make([]any, len(materialIDs))
	for i, id := range materialIDs {
		keys[i] = positionKey(id)
		members[i] = id
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, allMaterialsKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) CachedMaterialIDs(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, allMaterialsKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.CachedMaterialIDs(ctx)
	if err != nil {
		return err
	}
	if err := r.DeletePositions(ctx, ids...); err != nil {
		return err
	}
	return r.client.Del(ctx, allMaterialsKey).Err()
}
