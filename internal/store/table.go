package store

import (
	"sort"
	"sync"
)

// Table is a concurrency safe in-memory map used for short lived negotiation state
// (ongoing requests, pending offers, ongoing negotiations, pending modifications).
type Table[T any] struct {
	mu   sync.RWMutex
	rows map[string]T
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{rows: make(map[string]T)}
}

// Insert adds a row and fails with ErrExists if the key is taken
func (t *Table[T]) Insert(key string, v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows[key]; ok {
		return ErrExists
	}
	t.rows[key] = v
	return nil
}

// Put adds or replaces a row
func (t *Table[T]) Put(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[key] = v
}

func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok
}

// Pop removes and returns a row. Only one caller can pop a given row.
func (t *Table[T]) Pop(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.rows[key]
	if ok {
		delete(t.rows, key)
	}
	return v, ok
}

func (t *Table[T]) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, key)
}

// DeleteFunc removes every row for which fn returns true and returns the removed keys
func (t *Table[T]) DeleteFunc(fn func(key string, v T) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for k, v := range t.rows {
		if fn(k, v) {
			delete(t.rows, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// Update applies fn to an existing row; it returns false when the key is absent
func (t *Table[T]) Update(key string, fn func(T) T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.rows[key]
	if !ok {
		return false
	}
	t.rows[key] = fn(v)
	return true
}

// Entry is a key/value pair returned by List
type Entry[T any] struct {
	Key   string
	Value T
}

// List returns all rows ordered by key
func (t *Table[T]) List() []Entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry[T], 0, len(t.rows))
	for k, v := range t.rows {
		out = append(out, Entry[T]{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
