// Package ringbuf provides a fixed-capacity FIFO buffer used for every
// "keep the last N" sequence in a conversation flow record.
package ringbuf

import (
	"encoding/json"
	"slices"
)

// Ring is a bounded FIFO sequence. Pushing onto a full ring evicts the
// oldest element. The zero value has no capacity and must be sized with
// New or SetCap before use; pushing onto a zero-capacity ring is a no-op.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// New creates an empty ring holding at most capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Cap returns the maximum number of elements the ring can hold.
func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.items)
}

// Len returns the number of elements currently stored.
func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.size
}

// Push appends v as the newest element and returns the evicted oldest
// element, if any.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r == nil || len(r.items) == 0 {
		return evicted, false
	}
	if r.size == len(r.items) {
		evicted = r.items[r.start]
		r.items[r.start] = v
		r.start = (r.start + 1) % len(r.items)
		return evicted, true
	}
	r.items[(r.start+r.size)%len(r.items)] = v
	r.size++
	return evicted, false
}

// At returns the i-th element, oldest first.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.Len() {
		panic("ringbuf: index out of range")
	}
	return r.items[(r.start+i)%len(r.items)]
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.Len())
	for i := 0; i < r.Len(); i++ {
		out = append(out, r.At(i))
	}
	return out
}

// Last returns a copy of the newest n elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.Len() {
		n = r.Len()
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, 0, n)
	for i := r.Len() - n; i < r.Len(); i++ {
		out = append(out, r.At(i))
	}
	return out
}

// RemoveFunc drops every element for which del returns true, preserving
// the order of the rest. It returns the number of removed elements.
func (r *Ring[T]) RemoveFunc(del func(T) bool) int {
	kept := slices.DeleteFunc(r.Items(), del)
	removed := r.Len() - len(kept)
	if removed > 0 {
		r.reset(kept)
	}
	return removed
}

// SetCap resizes the ring. Shrinking keeps the newest elements.
func (r *Ring[T]) SetCap(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	kept := r.Items()
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}
	r.items = make([]T, capacity)
	r.reset(kept)
}

// Clone returns an independent copy with the same capacity and contents.
func (r *Ring[T]) Clone() *Ring[T] {
	c := New[T](r.Cap())
	for _, v := range r.Items() {
		c.Push(v)
	}
	return c
}

func (r *Ring[T]) reset(items []T) {
	clear(r.items)
	r.start = 0
	r.size = 0
	for _, v := range items {
		r.Push(v)
	}
}

// MarshalJSON encodes the contents as a plain array, oldest first.
func (r *Ring[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Items())
}

// UnmarshalJSON decodes a plain array. The capacity becomes the larger of
// the current capacity and the decoded length; callers restoring a record
// should call SetCap with their configured bound afterwards.
func (r *Ring[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	capacity := max(r.Cap(), len(items))
	r.items = make([]T, capacity)
	r.reset(items)
	return nil
}
