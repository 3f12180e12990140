package plugin

import (
	"math"
	"sync"
)

// arena maps handles to values of one resource kind.
type arena[T any] struct {
	mu    sync.Mutex
	next  Handle
	items map[Handle]T
}

func newArena[T any]() *arena[T] {
	return &arena[T]{items: make(map[Handle]T)}
}

// insert stores v under a fresh handle. Handles are not reused while live.
func (a *arena[T]) insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if a.next == math.MaxInt32 {
			a.next = NoHandle
		}
		a.next++
		if _, taken := a.items[a.next]; !taken {
			a.items[a.next] = v
			return a.next
		}
	}
}

func (a *arena[T]) get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.items[h]
	return v, ok
}

func (a *arena[T]) remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.items[h]
	if ok {
		delete(a.items, h)
	}
	return v, ok
}

func (a *arena[T]) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
