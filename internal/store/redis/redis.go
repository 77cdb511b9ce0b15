// Package redis is the Redis store backend.
//
// Layout under the namespace ns, per collection col:
//
//	ns:schema                    hash: version, collection:<name> -> index list
//	ns:col                       hash: key -> JSON document
//	ns:col:seq                   key generator of auto-keyed collections
//	ns:col:idx:<index>:<value>   set of keys filed under value
//	ns:col:idxval:<index>        hash: key -> indexed value
package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	"github.com/tophergates/mws-restaurant-reviews/pkg/database"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
)

const (
	system = "redis"

	// DefaultNamespace matches the database name used by the browser client.
	DefaultNamespace = "restaurant-reviews"

	maxTxAttempts = 5
)

// Backend implements store.Backend on Redis hashes and sets.
type Backend struct {
	client    redis.UniversalClient
	namespace string
	opened    atomic.Bool
}

// New creates a backend. An empty namespace uses DefaultNamespace.
func New(client redis.UniversalClient, namespace string) *Backend {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Backend{client: client, namespace: namespace}
}

func (b *Backend) key(parts ...string) string {
	return b.namespace + ":" + strings.Join(parts, ":")
}

func (b *Backend) dataKey(col string) string { return b.key(col) }

func (b *Backend) indexKey(col, index, value string) string {
	return b.key(col, "idx", index, value)
}

func (b *Backend) indexValuesKey(col, index string) string {
	return b.key(col, "idxval", index)
}

func (b *Backend) schema(name string) (store.CollectionSchema, error) {
	if !b.opened.Load() {
		return store.CollectionSchema{}, store.ErrNotOpen
	}
	return store.Lookup(name)
}

// Open records the schema at version. Concurrent opens are serialized with
// WATCH on the schema key; reopening at the same version is a no-op.
func (b *Backend) Open(ctx context.Context, version int) (err error) {
	if version < 1 {
		return fmt.Errorf("invalid store version %d", version)
	}

	ctx, end := database.TraceOp(ctx, system, "open", "schema")
	defer func() { end(err) }()

	key := b.key("schema")
	open := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read schema version: %w", err)
		}
		if current > version {
			return fmt.Errorf("%w: have %d, requested %d", store.ErrVersion, current, version)
		}
		if current == version {
			return nil
		}

		fields := []any{"version", version}
		for _, s := range store.Schema {
			fields = append(fields, "collection:"+s.Name, strings.Join(s.Indexes, ","))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields...)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = b.client.Watch(ctx, open, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return err
	}

	b.opened.Store(true)
	return nil
}

// NextKey increments the collection's key generator.
func (b *Backend) NextKey(ctx context.Context, name string) (key int64, err error) {
	s, err := b.schema(name)
	if err != nil {
		return 0, err
	}
	if !s.AutoKey {
		return 0, fmt.Errorf("%w: %s is not auto-keyed", store.ErrMissingKey, name)
	}

	ctx, end := database.TraceOp(ctx, system, "next_key", name)
	defer func() { end(err) }()

	key, err = b.client.Incr(ctx, b.key(name, "seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s seq: %w", name, err)
	}
	return key, nil
}

// Put upserts each entry in its own transaction, keeping index sets in step.
func (b *Backend) Put(ctx context.Context, name string, entries ...store.Entry) (err error) {
	s, err := b.schema(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}

	ctx, end := database.TraceOp(ctx, system, "put", name)
	defer func() { end(err) }()

	for _, e := range entries {
		if e.Key == 0 {
			return apperrors.StoreWriteError(name, store.ErrMissingKey)
		}
		if err = b.putOne(ctx, s, e); err != nil {
			return apperrors.StoreWriteError(name, err)
		}
	}
	return nil
}

func (b *Backend) putOne(ctx context.Context, s store.CollectionSchema, e store.Entry) error {
	field := strconv.FormatInt(e.Key, 10)
	return b.withIndexes(ctx, s, field, func(pipe redis.Pipeliner, old map[string]string) {
		for _, ix := range s.Indexes {
			if v, ok := old[ix]; ok {
				pipe.SRem(ctx, b.indexKey(s.Name, ix, v), field)
			}
			v, ok := e.Indexes[ix]
			if !ok {
				pipe.HDel(ctx, b.indexValuesKey(s.Name, ix), field)
				continue
			}
			value := strconv.FormatInt(v, 10)
			pipe.SAdd(ctx, b.indexKey(s.Name, ix, value), field)
			pipe.HSet(ctx, b.indexValuesKey(s.Name, ix), field, value)
		}
		pipe.HSet(ctx, b.dataKey(s.Name), field, e.Value)
	})
}

// withIndexes reads the current index values of field under WATCH and runs
// write inside MULTI/EXEC, retrying when a concurrent writer interferes.
func (b *Backend) withIndexes(ctx context.Context, s store.CollectionSchema, field string, write func(redis.Pipeliner, map[string]string)) error {
	watched := make([]string, 0, len(s.Indexes))
	for _, ix := range s.Indexes {
		watched = append(watched, b.indexValuesKey(s.Name, ix))
	}

	txf := func(tx *redis.Tx) error {
		old := make(map[string]string, len(s.Indexes))
		for _, ix := range s.Indexes {
			v, err := tx.HGet(ctx, b.indexValuesKey(s.Name, ix), field).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return fmt.Errorf("read %s index %s: %w", s.Name, ix, err)
			}
			old[ix] = v
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe, old)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = b.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Get reads one entry.
func (b *Backend) Get(ctx context.Context, name string, key int64) (entry store.Entry, found bool, err error) {
	if _, err = b.schema(name); err != nil {
		return store.Entry{}, false, err
	}

	ctx, end := database.TraceOp(ctx, system, "get", name)
	defer func() { end(err) }()

	data, err := b.client.HGet(ctx, b.dataKey(name), strconv.FormatInt(key, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("redis hget %s: %w", name, err)
	}
	return store.Entry{Key: key, Value: data}, true, nil
}

// GetAll reads every entry in key order.
func (b *Backend) GetAll(ctx context.Context, name string) (entries []store.Entry, err error) {
	if _, err = b.schema(name); err != nil {
		return nil, err
	}

	ctx, end := database.TraceOp(ctx, system, "get_all", name)
	defer func() { end(err) }()

	all, err := b.client.HGetAll(ctx, b.dataKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", name, err)
	}

	entries = make([]store.Entry, 0, len(all))
	for field, value := range all {
		key, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt key %q in %s: %w", field, name, err)
		}
		entries = append(entries, store.Entry{Key: key, Value: []byte(value)})
	}
	sortEntries(entries)
	return entries, nil
}

// GetByIndex reads the entries filed under value.
func (b *Backend) GetByIndex(ctx context.Context, name, index string, value int64) (entries []store.Entry, err error) {
	s, err := b.schema(name)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(s.Indexes, index) {
		return nil, fmt.Errorf("collection %s has no index %q", name, index)
	}

	ctx, end := database.TraceOp(ctx, system, "get_by_index", name)
	defer func() { end(err) }()

	fields, err := b.client.SMembers(ctx, b.indexKey(name, index, strconv.FormatInt(value, 10))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s.%s: %w", name, index, err)
	}
	if len(fields) == 0 {
		return []store.Entry{}, nil
	}

	values, err := b.client.HMGet(ctx, b.dataKey(name), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget %s: %w", name, err)
	}

	entries = make([]store.Entry, 0, len(fields))
	for i, v := range values {
		doc, ok := v.(string)
		if !ok {
			continue
		}
		key, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt key %q in %s: %w", fields[i], name, err)
		}
		entries = append(entries, store.Entry{
			Key:     key,
			Indexes: map[string]int64{index: value},
			Value:   []byte(doc),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes one entry and its index memberships.
func (b *Backend) Delete(ctx context.Context, name string, key int64) (err error) {
	s, err := b.schema(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}

	ctx, end := database.TraceOp(ctx, system, "delete", name)
	defer func() { end(err) }()

	field := strconv.FormatInt(key, 10)
	err = b.withIndexes(ctx, s, field, func(pipe redis.Pipeliner, old map[string]string) {
		for ix, v := range old {
			pipe.SRem(ctx, b.indexKey(name, ix, v), field)
			pipe.HDel(ctx, b.indexValuesKey(name, ix), field)
		}
		pipe.HDel(ctx, b.dataKey(name), field)
	})
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}
	return nil
}

// Clear removes every entry of a collection. The key generator is kept.
func (b *Backend) Clear(ctx context.Context, name string) (err error) {
	s, err := b.schema(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}

	ctx, end := database.TraceOp(ctx, system, "clear", name)
	defer func() { end(err) }()

	keys := []string{b.dataKey(name)}
	for _, ix := range s.Indexes {
		keys = append(keys, b.indexValuesKey(name, ix))
	}
	iter := b.client.Scan(ctx, 0, b.key(name, "idx", "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err = iter.Err(); err != nil {
		return apperrors.StoreWriteError(name, fmt.Errorf("scan index keys: %w", err))
	}

	if err = b.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.StoreWriteError(name, fmt.Errorf("redis del: %w", err))
	}
	return nil
}

func sortEntries(entries []store.Entry) {
	slices.SortFunc(entries, func(a, b store.Entry) int { return cmp.Compare(a.Key, b.Key) })
}
