// Package observable provides a latest-value broadcast cell: readers can
// poll the current value or subscribe to be told about every change.
package observable

import "sync"

// Value holds the latest value of T and fans changes out to subscribers.
// Subscribers that fall behind only ever see the most recent value.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	nextID int
	subs   map[int]chan T
}

// New returns a Value initialised with initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores next and notifies all subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = next
	for _, ch := range v.subs {
		offer(ch, next)
	}
}

// Subscribe returns a channel that immediately receives the current value
// and then every subsequent one. Call cancel to stop and close the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	ch <- v.cur
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func offer[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	// drop the stale value the subscriber has not read yet
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}
