// Package memory keeps response caches in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage"
)

type cache struct {
	entries map[string]storage.Response
	order   []string
}

// Storage implements storage.Storage with maps.
type Storage struct {
	mu     sync.RWMutex
	caches map[string]*cache
}

// New creates an empty storage.
func New() *Storage {
	return &Storage{caches: make(map[string]*cache)}
}

func (s *Storage) Open(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		s.caches[name] = &cache{entries: make(map[string]storage.Response)}
	}
	return nil
}

func (s *Storage) Caches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) DeleteCache(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, name)
	return nil
}

func (s *Storage) lookup(name string) (*cache, error) {
	c, ok := s.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoCache, name)
	}
	return c, nil
}

func (s *Storage) Put(_ context.Context, name, key string, resp storage.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	resp.Body = slices.Clone(resp.Body)
	resp.Header = resp.Header.Clone()
	c.entries[key] = resp
	return nil
}

func (s *Storage) Get(_ context.Context, name, key string) (storage.Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[name]
	if !ok {
		return storage.Response{}, false, nil
	}
	resp, ok := c.entries[key]
	return resp, ok, nil
}

func (s *Storage) Keys(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[name]
	if !ok {
		return []string{}, nil
	}
	return slices.Clone(c.order), nil
}

func (s *Storage) Delete(_ context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return nil
	}
	if _, ok := c.entries[key]; !ok {
		return nil
	}
	delete(c.entries, key)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
	return nil
}

func (s *Storage) Ping(context.Context) error { return nil }
