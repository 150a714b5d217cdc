package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kishor-kashid/collabcanvas/models"
)

type RedisCanvasCache struct {
	client redis.UniversalClient
}

func NewRedisCanvasCache(ctx context.Context, devMode bool, redis_endpoint string) (*RedisCanvasCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisCanvasCache{client: client}, nil
}

func (redisCache *RedisCanvasCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisCanvasCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Helper functions to generate Redis keys with hash tags for cluster compatibility
func buildDocKey(canvasId string) string {
	return "canvas:{" + canvasId + "}:doc"
}

func buildPresenceKey(canvasId string) string {
	return "canvas:{" + canvasId + "}:presence"
}

func buildPresenceDataKey(canvasId string) string {
	return "canvas:{" + canvasId + "}:presence:data"
}

const cacheTTL = 10 * time.Minute

// Presence TTL is generous on purpose: the reaper removes stale sessions by
// lastSeen score long before the keys themselves expire. The key TTL only
// guards against a canvas whose reaper watch was lost entirely.
const presenceKeyTTL = 30 * time.Minute

func (redisCache *RedisCanvasCache) SetShapeDoc(ctx context.Context, canvasId string, doc []byte) error {
	return redisCache.client.Set(ctx, buildDocKey(canvasId), doc, cacheTTL).Err()
}

func (redisCache *RedisCanvasCache) GetShapeDoc(ctx context.Context, canvasId string) ([]byte, error) {
	key := buildDocKey(canvasId)
	val, err := redisCache.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss, not an error
		}
		return nil, err
	}

	// Refresh TTL on read
	redisCache.client.Expire(ctx, key, cacheTTL)

	return val, nil
}

func (redisCache *RedisCanvasCache) InvalidateCanvases(ctx context.Context, canvasIds []string) error {
	if len(canvasIds) == 0 {
		return nil
	}

	// In Redis Cluster, keys with different hash tags hash to different slots.
	// We must delete each canvas separately, but the keys within one canvas
	// share a hash tag and can go in one DEL.
	for _, canvasId := range canvasIds {
		docKey := buildDocKey(canvasId)
		presenceKey := buildPresenceKey(canvasId)
		presenceDataKey := buildPresenceDataKey(canvasId)

		if err := redisCache.client.Del(ctx, docKey, presenceKey, presenceDataKey).Err(); err != nil {
			return err
		}
	}

	return nil
}

// Design Choice: Split Index/Data Pattern
// Presence uses two Redis structures per canvas:
// 1. ZSet ("canvas:{id}:presence"): UserIDs ordered by LastSeen (Score).
//   - Purpose: the reaper finds stale sessions with one ZRANGEBYSCORE
//     instead of scanning every session blob.
//
// 2. Hash ("canvas:{id}:presence:data"): UserID -> JSON session blob.
//   - Purpose: fast O(1) retrieval (HGETALL / HGET) for the roster fan-out.
func (redisCache *RedisCanvasCache) SetPresence(ctx context.Context, canvasId string, userId string, lastSeen int64, data []byte) error {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(lastSeen), Member: userId})
	pipe.HSet(ctx, dataKey, userId, data)
	pipe.Expire(ctx, key, presenceKeyTTL)
	pipe.Expire(ctx, dataKey, presenceKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisCanvasCache) MergeCursor(ctx context.Context, canvasId string, userId string, x float64, y float64, lastSeen int64) error {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	raw, err := redisCache.client.HGet(ctx, dataKey, userId).Bytes()
	if err != nil {
		if err == redis.Nil {
			// No session to merge into; the cursor move is dropped
			return nil
		}
		return err
	}

	var session models.PresenceSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}
	session.CursorX = x
	session.CursorY = y
	session.LastSeen = lastSeen

	updated, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(lastSeen), Member: userId})
	pipe.HSet(ctx, dataKey, userId, updated)
	pipe.Expire(ctx, key, presenceKeyTTL)
	pipe.Expire(ctx, dataKey, presenceKeyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (redisCache *RedisCanvasCache) RemovePresence(ctx context.Context, canvasId string, userId string) error {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, key, userId)
	pipe.HDel(ctx, dataKey, userId)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisCanvasCache) ListPresence(ctx context.Context, canvasId string) ([][]byte, error) {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	// 1. Get IDs from ZSet ordered by LastSeen
	ids, err := redisCache.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	// 2. Fetch session blobs from Hash
	dataMap, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	// 3. Assemble result
	sessions := make([][]byte, 0, len(ids))
	for _, item := range dataMap {
		if item == nil {
			continue // Should not happen if consistency is maintained
		}
		if s, ok := item.(string); ok {
			sessions = append(sessions, []byte(s))
		}
	}

	return sessions, nil
}

func (redisCache *RedisCanvasCache) ReapStalePresence(ctx context.Context, canvasId string, olderThan int64) ([]string, error) {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	stale, err := redisCache.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, key, members...)
	pipe.HDel(ctx, dataKey, stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return stale, nil
}
