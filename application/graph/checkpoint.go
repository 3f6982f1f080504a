package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Checkpointer stores the full state of a thread.
type Checkpointer[S any] interface {
	Get(ctx context.Context, thread string) (S, bool, error)
	Put(ctx context.Context, thread string, state S) error
}

// MemorySaver keeps checkpoints in process memory. State does not survive a restart.
// Values are stored serialized so callers never share slices with the saver.
type MemorySaver[S any] struct {
	mu      sync.RWMutex
	threads map[string][]byte
}

func NewMemorySaver[S any]() *MemorySaver[S] {
	return &MemorySaver[S]{threads: make(map[string][]byte)}
}

func (m *MemorySaver[S]) Get(_ context.Context, thread string) (S, bool, error) {
	var state S

	m.mu.RLock()
	raw, ok := m.threads[thread]
	m.mu.RUnlock()
	if !ok {
		return state, false, nil
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return state, false, fmt.Errorf("decode checkpoint %q: %w", thread, err)
	}
	return state, true, nil
}

func (m *MemorySaver[S]) Put(_ context.Context, thread string, state S) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %q: %w", thread, err)
	}

	m.mu.Lock()
	m.threads[thread] = raw
	m.mu.Unlock()
	return nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
