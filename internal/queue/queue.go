// Package queue provides a concurrency-safe insertion-ordered map used for the
// scheduler's pending, in-flight, success and failure collections.
package queue

import (
	"container/list"
	"sync"
)

// Ordered is a map that remembers insertion order. Keys are unique: pushing
// an existing key is rejected rather than replacing the entry.
type Ordered[V any] struct {
	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

type entry[V any] struct {
	key string
	val V
}

// New creates an empty Ordered map.
func New[V any]() *Ordered[V] {
	return &Ordered[V]{order: list.New(), index: make(map[string]*list.Element)}
}

// Push appends v under key. Returns false if key is already present.
func (q *Ordered[V]) Push(key string, v V) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[key]; ok {
		return false
	}
	q.index[key] = q.order.PushBack(&entry[V]{key: key, val: v})
	return true
}

// Put inserts or replaces the value under key. A replaced entry keeps its
// position.
func (q *Ordered[V]) Put(key string, v V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if el, ok := q.index[key]; ok {
		el.Value.(*entry[V]).val = v
		return
	}
	q.index[key] = q.order.PushBack(&entry[V]{key: key, val: v})
}

// Get returns the value stored under key.
func (q *Ordered[V]) Get(key string) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if el, ok := q.index[key]; ok {
		return el.Value.(*entry[V]).val, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (q *Ordered[V]) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[key]
	return ok
}

// Remove deletes key and returns its value.
func (q *Ordered[V]) Remove(key string) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	q.order.Remove(el)
	delete(q.index, key)
	return el.Value.(*entry[V]).val, true
}

// Len returns the number of entries.
func (q *Ordered[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// Values returns a snapshot of all values in insertion order.
func (q *Ordered[V]) Values() []V {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]V, 0, len(q.index))
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[V]).val)
	}
	return out
}

// Take walks entries in insertion order and atomically removes every entry
// for which visit returns take=true, stopping early when visit returns
// stop=true. No other operation on q can interleave with the walk, so an
// entry is handed to at most one caller.
func (q *Ordered[V]) Take(visit func(key string, v V) (take, stop bool)) []V {
	q.mu.Lock()
	defer q.mu.Unlock()
	var taken []V
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[V])
		take, stop := visit(e.key, e.val)
		if take {
			q.order.Remove(el)
			delete(q.index, e.key)
			taken = append(taken, e.val)
		}
		if stop {
			break
		}
		el = next
	}
	return taken
}

// RemoveIf deletes every entry matching pred and returns the removed values.
func (q *Ordered[V]) RemoveIf(pred func(key string, v V) bool) []V {
	return q.Take(func(key string, v V) (bool, bool) { return pred(key, v), false })
}
