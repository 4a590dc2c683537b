package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"battle-session/internal/domain"
)

// Memory is an in-process Store with the same contract as SQLite. Updates
// are serialized under one mutex, so conflicts cannot occur; used by tests
// and available as a throwaway backend.
type Memory struct {
	mu       sync.Mutex
	docs     map[string][]byte
	watchers map[string]map[int]func([]byte)
	nextID   int
}

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string][]byte),
		watchers: make(map[string]map[int]func([]byte)),
	}
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (m *Memory) Update(_ context.Context, path string, fn UpdateFn) ([]byte, error) {
	m.mu.Lock()
	current := m.docs[path]

	next, err := fn(current)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if next == nil {
		m.mu.Unlock()
		return current, nil
	}

	buf, err := json.Marshal(next)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("marshal document %s: %w", path, err)
	}
	m.docs[path] = buf

	fns := make([]func([]byte), 0, len(m.watchers[path]))
	for _, w := range m.watchers[path] {
		fns = append(fns, w)
	}
	m.mu.Unlock()

	for _, w := range fns {
		w(buf)
	}
	return buf, nil
}

func (m *Memory) Subscribe(path string, fn func(doc []byte)) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	if m.watchers[path] == nil {
		m.watchers[path] = make(map[int]func([]byte))
	}
	m.watchers[path][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers[path], id)
	}
}

func (m *Memory) Append(ctx context.Context, path, field string, value any) error {
	_, err := m.Update(ctx, path, func(current []byte) (any, error) {
		if current == nil {
			return nil, domain.ErrNotFound
		}
		var doc map[string]any
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", path, err)
		}
		list, _ := doc[field].([]any)
		doc[field] = append(list, value)
		return doc, nil
	})
	return err
}
