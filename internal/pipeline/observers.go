package pipeline

import (
	"sync"
	"sync/atomic"
)

type observer[T any] struct {
	id uint64
	fn func(T)
}

// Observers is a copy-on-write subscriber registry.
// Emit reads one immutable snapshot, so it never takes a lock and never
// sees a half-updated list.
type Observers[T any] struct {
	mu     sync.Mutex // serializes writers
	nextID uint64
	list   atomic.Pointer[[]observer[T]]
}

// Subscribe registers fn and returns a function removing it again
func (o *Observers[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID

	var cur []observer[T]
	if p := o.list.Load(); p != nil {
		cur = *p
	}
	next := make([]observer[T], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, observer[T]{id: id, fn: fn})
	o.list.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *Observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.list.Load()
	if p == nil {
		return
	}
	next := make([]observer[T], 0, len(*p))
	for _, ob := range *p {
		if ob.id != id {
			next = append(next, ob)
		}
	}
	o.list.Store(&next)
}

// Emit calls every subscriber in registration order
func (o *Observers[T]) Emit(v T) {
	p := o.list.Load()
	if p == nil {
		return
	}
	for _, ob := range *p {
		ob.fn(v)
	}
}

// Len returns the number of subscribers
func (o *Observers[T]) Len() int {
	if p := o.list.Load(); p != nil {
		return len(*p)
	}
	return 0
}
