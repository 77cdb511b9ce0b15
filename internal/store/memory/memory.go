// Package memory is an in-process store backend for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
)

type collection struct {
	schema  store.CollectionSchema
	entries map[int64]store.Entry
	seq     int64
}

// Backend keeps collections in maps guarded by one mutex.
type Backend struct {
	mu          sync.RWMutex
	version     int
	collections map[string]*collection
}

// New creates an empty, unopened backend.
func New() *Backend {
	return &Backend{collections: make(map[string]*collection)}
}

// Open creates any missing collections and records the version.
func (b *Backend) Open(_ context.Context, version int) error {
	if version < 1 {
		return fmt.Errorf("invalid store version %d", version)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.version > version {
		return fmt.Errorf("%w: have %d, requested %d", store.ErrVersion, b.version, version)
	}
	for _, s := range store.Schema {
		if _, ok := b.collections[s.Name]; !ok {
			b.collections[s.Name] = &collection{schema: s, entries: make(map[int64]store.Entry)}
		}
	}
	b.version = version
	return nil
}

// Version returns the opened version, 0 before Open.
func (b *Backend) Version() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *Backend) lookup(name string) (*collection, error) {
	if b.version == 0 {
		return nil, store.ErrNotOpen
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownCollection, name)
	}
	return c, nil
}

// NextKey returns the next generated key of an auto-keyed collection.
func (b *Backend) NextKey(_ context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.lookup(name)
	if err != nil {
		return 0, err
	}
	if !c.schema.AutoKey {
		return 0, fmt.Errorf("%w: %s is not auto-keyed", store.ErrMissingKey, name)
	}
	c.seq++
	return c.seq, nil
}

// Put upserts entries by key.
func (b *Backend) Put(_ context.Context, name string, entries ...store.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.lookup(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}
	for _, e := range entries {
		if e.Key == 0 {
			return apperrors.StoreWriteError(name, store.ErrMissingKey)
		}
		e.Value = slices.Clone(e.Value)
		c.entries[e.Key] = e
	}
	return nil
}

// Get returns the entry stored under key.
func (b *Backend) Get(_ context.Context, name string, key int64) (store.Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.lookup(name)
	if err != nil {
		return store.Entry{}, false, err
	}
	e, ok := c.entries[key]
	return e, ok, nil
}

// GetAll returns every entry in key order.
func (b *Backend) GetAll(_ context.Context, name string) ([]store.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	return sorted(c.entries, func(store.Entry) bool { return true }), nil
}

// GetByIndex returns the entries filed under value, in key order.
func (b *Backend) GetByIndex(_ context.Context, name, index string, value int64) ([]store.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(c.schema.Indexes, index) {
		return nil, fmt.Errorf("collection %s has no index %q", name, index)
	}
	return sorted(c.entries, func(e store.Entry) bool {
		v, ok := e.Indexes[index]
		return ok && v == value
	}), nil
}

// Delete removes one entry.
func (b *Backend) Delete(_ context.Context, name string, key int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.lookup(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}
	delete(c.entries, key)
	return nil
}

// Clear removes every entry. The key generator keeps counting.
func (b *Backend) Clear(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.lookup(name)
	if err != nil {
		return apperrors.StoreWriteError(name, err)
	}
	clear(c.entries)
	return nil
}

func sorted(entries map[int64]store.Entry, keep func(store.Entry) bool) []store.Entry {
	out := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b store.Entry) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
