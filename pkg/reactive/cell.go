// Package reactive provides the small set of reactive primitives FetchState is
// built on: observable cells, schedulers that decide where subscribers run, and
// effects that re-run when their dependency list changes by value.
package reactive

import "sync"

// Readable exposes read-only reactive state.
type Readable[T any] interface {
	Get() T
	Subscribe(fn func(T)) func()
	SubscribeWithScheduler(scheduler Scheduler, fn func(T)) func()
}

// Writable exposes read/write reactive state.
type Writable[T any] interface {
	Readable[T]
	Set(value T)
	Update(fn func(T) T) T
}

// subscription delivers one subscriber's notifications in write order. Writes
// are queued under the cell lock; whichever goroutine finds the queue idle
// drains it, so a subscriber never sees an older value after a newer one and a
// write made from inside fn is delivered once fn returns.
type subscription[T any] struct {
	scheduler Scheduler
	fn        func(T)

	mu       sync.Mutex
	queue    []T
	draining bool
	closed   bool
}

func (s *subscription[T]) push(value T) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, value)
	}
	s.mu.Unlock()
}

func (s *subscription[T]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.closed {
		value := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		deliver(s, value)

		s.mu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// Cell holds a value and notifies subscribers after every write.
// Subscribers are invoked after the internal lock is released, so they may
// read or write the cell again. Each subscriber sees writes in the order they
// were applied; when a notification is already running for it, later ones
// are handed to that goroutine instead of running concurrently.
type Cell[T any] struct {
	mu    sync.Mutex
	value T
	next  uint64
	subs  map[uint64]*subscription[T]
}

var _ Writable[int] = (*Cell[int])(nil)

// NewCell returns a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value: initial,
		subs:  make(map[uint64]*subscription[T]),
	}
}

// Declare is the hook-style form of NewCell: it returns a getter and a setter.
func Declare[T any](initial T) (get func() T, set func(T)) {
	c := NewCell(initial)
	return c.Get, c.Set
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores value and notifies subscribers.
func (c *Cell[T]) Set(value T) {
	c.UpdateIf(func(T) (T, bool) { return value, true })
}

// Update applies fn to the current value, stores and returns the result.
func (c *Cell[T]) Update(fn func(T) T) T {
	var out T
	c.UpdateIf(func(cur T) (T, bool) {
		out = fn(cur)
		return out, true
	})
	return out
}

// UpdateIf runs fn under the cell lock. The value is replaced, and subscribers
// notified, only when fn reports true.
func (c *Cell[T]) UpdateIf(fn func(T) (T, bool)) bool {
	c.mu.Lock()
	next, ok := fn(c.value)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.value = next
	subs := make([]*subscription[T], 0, len(c.subs))
	for _, s := range c.subs {
		// queued under the cell lock so every queue follows write order
		s.push(next)
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
	return true
}

// Subscribe registers fn to run after each write, on the writing goroutine
// unless another notification for fn is still in progress.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	return c.SubscribeWithScheduler(nil, fn)
}

// SubscribeWithScheduler registers fn to run through scheduler after each write.
// A nil scheduler runs fn inline on the writing goroutine.
func (c *Cell[T]) SubscribeWithScheduler(scheduler Scheduler, fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	sub := &subscription[T]{scheduler: scheduler, fn: fn}
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			sub.close()
		})
	}
}

// Subscribers reports how many subscriptions are active.
func (c *Cell[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func deliver[T any](s *subscription[T], value T) {
	if s.scheduler == nil {
		s.fn(value)
		return
	}
	s.scheduler.Schedule(func() { s.fn(value) })
}
