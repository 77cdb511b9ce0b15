// Package redis keeps response caches in Redis.
//
// Layout under the namespace ns:
//
//	ns:caches              set of cache names
//	ns:cache:<name>        hash: key -> JSON response
//	ns:cache:<name>:order  sorted set: key scored by insertion sequence
//	ns:cache:<name>:seq    insertion counter
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage"
	"github.com/tophergates/mws-restaurant-reviews/pkg/database"
)

const system = "redis"

// DefaultNamespace separates proxy caches from the application store.
const DefaultNamespace = "restaurant-reviews-cache"

// Storage implements storage.Storage on Redis.
type Storage struct {
	client    redis.UniversalClient
	namespace string
}

// New creates a storage. An empty namespace uses DefaultNamespace.
func New(client redis.UniversalClient, namespace string) *Storage {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Storage{client: client, namespace: namespace}
}

func (s *Storage) namesKey() string             { return s.namespace + ":caches" }
func (s *Storage) entriesKey(name string) string { return s.namespace + ":cache:" + name }
func (s *Storage) orderKey(name string) string   { return s.entriesKey(name) + ":order" }
func (s *Storage) seqKey(name string) string     { return s.entriesKey(name) + ":seq" }

func (s *Storage) Open(ctx context.Context, name string) (err error) {
	ctx, end := database.TraceOp(ctx, system, "open", name)
	defer func() { end(err) }()

	if err = s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return fmt.Errorf("redis sadd cache %s: %w", name, err)
	}
	return nil
}

func (s *Storage) exists(ctx context.Context, name string) error {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return fmt.Errorf("redis sismember cache %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNoCache, name)
	}
	return nil
}

func (s *Storage) Caches(ctx context.Context) (names []string, err error) {
	ctx, end := database.TraceOp(ctx, system, "list", "caches")
	defer func() { end(err) }()

	names, err = s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) DeleteCache(ctx context.Context, name string) (err error) {
	ctx, end := database.TraceOp(ctx, system, "delete_cache", name)
	defer func() { end(err) }()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entriesKey(name), s.orderKey(name), s.seqKey(name))
		pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete cache %s: %w", name, err)
	}
	return nil
}

func (s *Storage) Put(ctx context.Context, name, key string, resp storage.Response) (err error) {
	ctx, end := database.TraceOp(ctx, system, "put", name)
	defer func() { end(err) }()

	if err = s.exists(ctx, name); err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.seqKey(name)).Result()
	if err != nil {
		return fmt.Errorf("redis incr %s: %w", s.seqKey(name), err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(name), key, data)
		pipe.ZAddNX(ctx, s.orderKey(name), redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", name, err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, name, key string) (resp storage.Response, found bool, err error) {
	ctx, end := database.TraceOp(ctx, system, "get", name)
	defer func() { end(err) }()

	data, err := s.client.HGet(ctx, s.entriesKey(name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.Response{}, false, nil
	}
	if err != nil {
		return storage.Response{}, false, fmt.Errorf("redis hget %s: %w", name, err)
	}
	if err = json.Unmarshal(data, &resp); err != nil {
		return storage.Response{}, false, fmt.Errorf("unmarshal cached response: %w", err)
	}
	return resp, true, nil
}

func (s *Storage) Keys(ctx context.Context, name string) (keys []string, err error) {
	ctx, end := database.TraceOp(ctx, system, "keys", name)
	defer func() { end(err) }()

	keys, err = s.client.ZRange(ctx, s.orderKey(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", name, err)
	}
	return keys, nil
}

func (s *Storage) Delete(ctx context.Context, name, key string) (err error) {
	ctx, end := database.TraceOp(ctx, system, "delete", name)
	defer func() { end(err) }()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.entriesKey(name), key)
		pipe.ZRem(ctx, s.orderKey(name), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", name, err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return database.RedisChecker(s.client)(ctx)
}
