// Package store is the local persistent store: three keyed collections of
// JSON documents with a secondary index on restaurant id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
)

// Collection names.
const (
	Restaurants    = "restaurants"
	Reviews        = "reviews"
	PendingReviews = "pending-reviews"
)

// SchemaVersion is the version the application opens the store with.
const SchemaVersion = 3

var (
	ErrNotOpen           = errors.New("store is not open")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrMissingKey        = errors.New("record has no key")
	ErrVersion           = errors.New("store version is newer than requested")
)

// CollectionSchema describes one collection.
type CollectionSchema struct {
	Name    string
	AutoKey bool
	Indexes []string
}

// Schema lists the collections created by Open.
var Schema = []CollectionSchema{
	{Name: Restaurants},
	{Name: Reviews, Indexes: []string{domain.IndexRestaurant}},
	{Name: PendingReviews, AutoKey: true, Indexes: []string{domain.IndexRestaurant}},
}

// Lookup returns the schema for a collection name.
func Lookup(name string) (CollectionSchema, error) {
	for _, c := range Schema {
		if c.Name == name {
			return c, nil
		}
	}
	return CollectionSchema{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// Entry is one stored document.
type Entry struct {
	Key     int64
	Indexes map[string]int64
	Value   []byte
}

// Backend is a storage engine for the collections in Schema. Reads of absent
// keys return no entry and no error. Delete and Clear are idempotent.
type Backend interface {
	Open(ctx context.Context, version int) error
	NextKey(ctx context.Context, collection string) (int64, error)
	Put(ctx context.Context, collection string, entries ...Entry) error
	Get(ctx context.Context, collection string, key int64) (Entry, bool, error)
	GetAll(ctx context.Context, collection string) ([]Entry, error)
	GetByIndex(ctx context.Context, collection, index string, value int64) ([]Entry, error)
	Delete(ctx context.Context, collection string, key int64) error
	Clear(ctx context.Context, collection string) error
}

// Record is a document with a primary key.
type Record interface {
	Key() int64
}

// Keyed records accept a generated key.
type Keyed interface {
	SetKey(id int64)
}

// Indexed records are filed under secondary index values.
type Indexed interface {
	IndexValues() map[string]int64
}

// PutRecords upserts records into a collection. Records without a key get the
// next generated key, which is written back into the returned copies.
func PutRecords[T Record](ctx context.Context, b Backend, collection string, records ...T) ([]T, error) {
	out := make([]T, 0, len(records))
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		if rec.Key() == 0 {
			k, ok := any(&rec).(Keyed)
			if !ok {
				return nil, fmt.Errorf("put %s: %w", collection, ErrMissingKey)
			}
			key, err := b.NextKey(ctx, collection)
			if err != nil {
				return nil, err
			}
			k.SetKey(key)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record: %w", collection, err)
		}
		entry := Entry{Key: rec.Key(), Value: data}
		if ix, ok := any(rec).(Indexed); ok {
			entry.Indexes = ix.IndexValues()
		}
		entries = append(entries, entry)
		out = append(out, rec)
	}

	if err := b.Put(ctx, collection, entries...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecord reads one record. ok is false when the key is absent.
func GetRecord[T any](ctx context.Context, b Backend, collection string, key int64) (T, bool, error) {
	var rec T
	entry, ok, err := b.Get(ctx, collection, key)
	if err != nil || !ok {
		return rec, false, err
	}
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return rec, false, fmt.Errorf("unmarshal %s record %d: %w", collection, key, err)
	}
	return rec, true, nil
}

// AllRecords reads every record in key order.
func AllRecords[T any](ctx context.Context, b Backend, collection string) ([]T, error) {
	entries, err := b.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, entries)
}

// RecordsByIndex reads the records filed under an index value, in key order.
func RecordsByIndex[T any](ctx context.Context, b Backend, collection, index string, value int64) ([]T, error) {
	entries, err := b.GetByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, entries)
}

func decodeAll[T any](collection string, entries []Entry) ([]T, error) {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var rec T
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal %s record %d: %w", collection, e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
