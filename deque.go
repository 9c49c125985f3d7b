package netframe

import "sync"

// Deque is a concurrent double-ended queue for items of any type. A single
// mutex guards every operation; Pop on an empty deque reports ok=false
// rather than blocking. PopFrontWait is the blocking variant used by
// consumers that would otherwise spin on Empty.
type Deque[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewDeque creates an empty deque.
func NewDeque[T any]() *Deque[T] {
	d := &Deque[T]{}
	d.cond = sync.NewCond(&d.mu)

	return d
}

// PushFront inserts an item at the head.
func (d *Deque[T]) PushFront(item T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append([]T{item}, d.items...)
	d.cond.Signal()
}

// PushBack appends an item at the tail.
func (d *Deque[T]) PushBack(item T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append(d.items, item)
	d.cond.Signal()
}

// PopFront removes and returns the head item. It returns false if the
// deque is empty.
func (d *Deque[T]) PopFront() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.popFrontLocked()
}

// PopBack removes and returns the tail item. It returns false if the
// deque is empty.
func (d *Deque[T]) PopBack() (T, bool) {
	var zero T

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.items) == 0 {
		return zero, false
	}

	item := d.items[len(d.items)-1]
	d.items = d.items[:len(d.items)-1]

	return item, true
}

// PopFrontWait blocks until an item is available or the deque is closed.
// It returns false only after Close once the deque has drained.
func (d *Deque[T]) PopFrontWait() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.items) == 0 && !d.closed {
		d.cond.Wait()
	}

	return d.popFrontLocked()
}

func (d *Deque[T]) popFrontLocked() (T, bool) {
	var zero T

	if len(d.items) == 0 {
		return zero, false
	}

	item := d.items[0]
	d.items = d.items[1:]

	return item, true
}

// Front returns the head item without removing it.
func (d *Deque[T]) Front() (T, bool) {
	var zero T

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.items) == 0 {
		return zero, false
	}

	return d.items[0], true
}

// Back returns the tail item without removing it.
func (d *Deque[T]) Back() (T, bool) {
	var zero T

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.items) == 0 {
		return zero, false
	}

	return d.items[len(d.items)-1], true
}

// Len returns the number of items held.
func (d *Deque[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.items)
}

// Empty reports whether the deque holds no items.
func (d *Deque[T]) Empty() bool {
	return d.Len() == 0
}

// Clear drops every item.
func (d *Deque[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = nil
}

// Close wakes every blocked PopFrontWait. Items already queued can still
// be popped; pushing after Close is allowed but pointless.
func (d *Deque[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.cond.Broadcast()
}
