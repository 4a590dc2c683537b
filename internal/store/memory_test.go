package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"battle-session/internal/domain"
)

type counterDoc struct {
	Count int      `json:"count"`
	Log   []string `json:"log"`
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpdateCreatesAndReadsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Update(ctx, "sessions/s1", func(current []byte) (any, error) {
		if current != nil {
			t.Fatal("expected absent document on first update")
		}
		return counterDoc{Count: 1}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	raw, err := m.Get(ctx, "sessions/s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var doc counterDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Count != 1 {
		t.Fatalf("count = %d, want 1", doc.Count)
	}
}

func TestMemoryUpdateSkipWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	calls := 0
	stop := m.Subscribe("doc", func([]byte) { calls++ })
	defer stop()

	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return counterDoc{}, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("no-op update should not notify, got %d notifications", calls)
	}
}

func TestMemorySubscribeAndStop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got [][]byte
	stop := m.Subscribe("doc", func(doc []byte) { got = append(got, doc) })

	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return counterDoc{Count: 1}, nil }); err != nil {
		t.Fatalf("update: %v", err)
	}
	stop()
	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return counterDoc{Count: 2}, nil }); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 notification before stop, got %d", len(got))
	}
}

func TestMemoryAppend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, "doc", "log", "first"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("append to missing doc should surface ErrNotFound, got %v", err)
	}

	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return counterDoc{}, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := m.Append(ctx, "doc", "log", "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append(ctx, "doc", "log", "second"); err != nil {
		t.Fatalf("append: %v", err)
	}

	raw, _ := m.Get(ctx, "doc")
	var doc counterDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Log) != 2 || doc.Log[0] != "first" || doc.Log[1] != "second" {
		t.Fatalf("unexpected log: %v", doc.Log)
	}
}

func TestMemoryConcurrentUpdatesLoseNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Update(ctx, "doc", func([]byte) (any, error) { return counterDoc{}, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := m.Update(ctx, "doc", func(current []byte) (any, error) {
					var doc counterDoc
					if err := json.Unmarshal(current, &doc); err != nil {
						return nil, err
					}
					doc.Count++
					return doc, nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	raw, _ := m.Get(ctx, "doc")
	var doc counterDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Count != workers*perWorker {
		t.Fatalf("count = %d, want %d (lost updates)", doc.Count, workers*perWorker)
	}
}
