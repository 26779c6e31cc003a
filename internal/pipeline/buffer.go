package pipeline

import "sync"

// Buffer is an unbounded FIFO queue safe for concurrent producers and drainers.
// Every Enqueue fires the onEnqueue hook once, after the item is queued.
type Buffer[T any] struct {
	mu        sync.Mutex
	items     []T
	onEnqueue func(T)
}

// NewBuffer creates an empty buffer
func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// OnEnqueue sets the hook fired by Enqueue. The hook runs on the caller's
// goroutine and must not block; start drain work in a new goroutine.
func (b *Buffer[T]) OnEnqueue(fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEnqueue = fn
}

// Enqueue appends item to the tail
func (b *Buffer[T]) Enqueue(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	hook := b.onEnqueue
	b.mu.Unlock()

	if hook != nil {
		hook(item)
	}
}

// TryDequeue removes the head item. It never waits: ok is false when empty.
func (b *Buffer[T]) TryDequeue() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return item, false
	}
	item = b.items[0]
	var zero T
	b.items[0] = zero
	b.items = b.items[1:]
	if len(b.items) == 0 {
		b.items = nil
	}
	return item, true
}

// Len returns the number of queued items
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
