package dedupe

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

// Unbounded disables eviction; the seen set grows for the life of the filter.
const Unbounded = 0

// ErrInvalidCapacity is returned when a bounded filter is requested with a
// non-positive capacity.
var ErrInvalidCapacity = errors.New("dedupe: capacity must be positive")

// AcceptOnce passes each identifier through at most once while it remains in
// the seen set. A bounded filter forgets the oldest-inserted identifier when
// full, so an evicted identifier is admitted again if it reappears.
type AcceptOnce[K comparable] struct {
	mu       sync.Mutex
	seen     map[K]*list.Element
	order    *list.List // oldest at front
	capacity int
}

// New creates a filter that keeps every identifier it ever admits.
func New[K comparable]() *AcceptOnce[K] {
	return &AcceptOnce[K]{
		seen:     make(map[K]*list.Element),
		order:    list.New(),
		capacity: Unbounded,
	}
}

// NewBounded creates a filter holding at most capacity identifiers, evicting
// the oldest-inserted one when a new identifier arrives at capacity.
func NewBounded[K comparable](capacity int) (*AcceptOnce[K], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	f := New[K]()
	f.capacity = capacity
	return f, nil
}

// NewWithCapacity builds an unbounded filter when capacity is nil and a
// bounded one otherwise.
func NewWithCapacity[K comparable](capacity *int) (*AcceptOnce[K], error) {
	if capacity == nil {
		return New[K](), nil
	}
	return NewBounded[K](*capacity)
}

// Filter returns the candidates not seen before, in input order, and records
// them. Duplicates within the same batch are admitted once.
func (f *AcceptOnce[K]) Filter(candidates []K) []K {
	accepted := make([]K, 0, len(candidates))
	for _, candidate := range candidates {
		if f.Accept(candidate) {
			accepted = append(accepted, candidate)
		}
	}
	return accepted
}

// Accept reports whether key is new and records it if so.
func (f *AcceptOnce[K]) Accept(key K) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[key]; ok {
		return false
	}
	if f.capacity != Unbounded && f.order.Len() >= f.capacity {
		f.evictOldestLocked()
	}
	f.seen[key] = f.order.PushBack(key)
	return true
}

// Len returns the number of identifiers currently remembered.
func (f *AcceptOnce[K]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// Capacity returns the configured bound, or Unbounded.
func (f *AcceptOnce[K]) Capacity() int {
	return f.capacity
}

// Contains reports whether key is in the seen set without recording it.
// Membership does not refresh the key's eviction position.
func (f *AcceptOnce[K]) Contains(key K) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[key]
	return ok
}

// Snapshot returns the remembered identifiers, oldest first.
func (f *AcceptOnce[K]) Snapshot() []K {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]K, 0, f.order.Len())
	for e := f.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(K))
	}
	return keys
}

// evictOldestLocked removes the front of the queue. Must be called with mu held.
func (f *AcceptOnce[K]) evictOldestLocked() {
	front := f.order.Front()
	if front == nil {
		return
	}
	f.order.Remove(front)
	delete(f.seen, front.Value.(K))
}
