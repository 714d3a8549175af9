// Package kv is a small key-value repository with pluggable backends. Business
// state that is stored as whole JSON documents (report history, settings,
// integration config) lives here.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// Repository stores opaque values by key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Memory is an in-process Repository used in tests and single-node setups.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// JSON reads and writes one JSON document of type T under a fixed key.
type JSON[T any] struct {
	repo Repository
	key  string
}

func NewJSON[T any](repo Repository, key string) *JSON[T] {
	return &JSON[T]{repo: repo, key: key}
}

func (j *JSON[T]) Key() string {
	return j.key
}

// Load returns the stored document, or the zero value and ok=false when the key
// is absent.
func (j *JSON[T]) Load(ctx context.Context) (T, bool, error) {
	var v T
	data, err := j.repo.Get(ctx, j.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, false, nil
		}
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w", j.key, err)
	}
	return v, true, nil
}

func (j *JSON[T]) Save(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", j.key, err)
	}
	return j.repo.Put(ctx, j.key, data)
}

func (j *JSON[T]) Clear(ctx context.Context) error {
	return j.repo.Delete(ctx, j.key)
}
