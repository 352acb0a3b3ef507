package transport

import "sync"

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	once bool
}

// Once makes a subscription remove itself after its first invocation.
func Once() SubscribeOption {
	return func(c *subscribeConfig) {
		c.once = true
	}
}

// isOnce reports whether opts request a one-shot subscription.
func isOnce(opts ...SubscribeOption) bool {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.once
}

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// listeners is an observer list with idempotent unsubscribe handles.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []*listener[T]
}

func (l *listeners[T]) add(fn func(T), opts []SubscribeOption) func() {
	once := isOnce(opts...)

	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, &listener[T]{id: id, fn: fn, once: once})
	l.mu.Unlock()

	var done sync.Once
	return func() {
		done.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return true
		}
	}
	return false
}

// emit invokes every subscriber with v. Once subscribers are removed before
// they run so that concurrent emits cannot fire them twice.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := make([]*listener[T], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		if s.once {
			if !l.remove(s.id) {
				continue
			}
		} else if !l.contains(s.id) {
			continue
		}
		s.fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

func (l *listeners[T]) contains(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

func (l *listeners[T]) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Listeners is the observer list used by the transceivers of this package,
// for Transceiver implementations outside it. The zero value is ready to
// use.
type Listeners[T any] struct {
	l listeners[T]
}

// Add registers fn and returns its idempotent unsubscribe function.
func (s *Listeners[T]) Add(fn func(T), opts ...SubscribeOption) func() {
	return s.l.add(fn, opts)
}

// Emit invokes every subscriber with v in subscription order.
func (s *Listeners[T]) Emit(v T) {
	s.l.emit(v)
}

// Clear drops every subscriber.
func (s *Listeners[T]) Clear() {
	s.l.clear()
}

// Len returns the number of subscribers.
func (s *Listeners[T]) Len() int {
	return s.l.count()
}
