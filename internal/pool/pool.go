// Package pool implements a fixed-capacity slot pool with O(1)
// acquire/release and stable slot addresses. Unlike sync.Pool, slots here
// are identity-bearing (a peer) and reused deterministically rather than
// being GC-reclaimable scratch memory.
package pool

import "fmt"

// Pool hands out indices into a preallocated slice of T, backed by a
// free-list. T is expected to be a peer value type; the pool itself never
// inspects T's fields.
type Pool[T any] struct {
	slots []T
	free  []int32
	inUse []bool
}

// New creates a pool with capacity slots, all initially free.
func New[T any](capacity int) *Pool[T] {
	p := &Pool[T]{
		slots: make([]T, capacity),
		free:  make([]int32, capacity),
		inUse: make([]bool, capacity),
	}
	for i := range p.free {
		// Fill the free-list back-to-front so the first Acquire hands out
		// slot 0, which keeps iteration order (and therefore event
		// ordering in tests) stable and easy to reason about.
		p.free[i] = int32(capacity - 1 - i)
	}
	return p
}

// Acquire returns the index of a free slot and a pointer to it, or
// ok=false if the pool is exhausted.
func (p *Pool[T]) Acquire() (idx int32, slot *T, ok bool) {
	if len(p.free) == 0 {
		var zero T
		return 0, &zero, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	p.slots[idx] = *new(T)
	return idx, &p.slots[idx], true
}

// Release returns idx to the free-list. Releasing an index that is not
// currently in use is a programming error and panics, since it indicates
// the engine has lost track of a peer's lifecycle.
func (p *Pool[T]) Release(idx int32) {
	if !p.inUse[idx] {
		panic(fmt.Sprintf("pool: release of free slot %d", idx))
	}
	p.inUse[idx] = false
	p.free = append(p.free, idx)
}

// Get returns a pointer to the slot at idx, regardless of whether it is
// currently in use.
func (p *Pool[T]) Get(idx int32) *T {
	return &p.slots[idx]
}

// InUse reports whether idx currently holds a live value.
func (p *Pool[T]) InUse(idx int32) bool {
	return p.inUse[idx]
}

// Len returns the number of slots currently in use.
func (p *Pool[T]) Len() int {
	return len(p.slots) - len(p.free)
}

// Cap returns the pool's total capacity.
func (p *Pool[T]) Cap() int {
	return len(p.slots)
}

// Each calls fn once for every slot currently in use, in slot-index
// order. fn must not Acquire or Release slots.
func (p *Pool[T]) Each(fn func(idx int32, slot *T)) {
	for i := range p.slots {
		if p.inUse[i] {
			fn(int32(i), &p.slots[i])
		}
	}
}
