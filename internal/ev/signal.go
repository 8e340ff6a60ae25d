package ev

// Handle identifies a subscription to a Signal. The zero Handle is never
// returned by Subscribe.
type Handle uint32

type subscriber[T any] struct {
	handle Handle
	f      func(T)
}

// Signal is a list of subscribers that are notified when an event is
// emitted. Subscribers are stored by handle rather than by reference so
// that they can be invalidated while a notification is in progress.
//
// A Signal is not safe for concurrent use.
type Signal[T any] struct {
	subs []subscriber[T]
	next Handle
}

// Subscribe adds f to the list of functions called by Emit.
func (s *Signal[T]) Subscribe(f func(T)) Handle {
	s.next++
	s.subs = append(s.subs, subscriber[T]{handle: s.next, f: f})
	return s.next
}

// Unsubscribe removes the subscription identified by h. It is safe to
// call from inside of a subscriber, and does nothing if h is unknown.
func (s *Signal[T]) Unsubscribe(h Handle) {
	for i, sub := range s.subs {
		if sub.handle == h {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Signal[T]) Len() int {
	return len(s.subs)
}

// Emit notifies every subscriber. The set of subscribers is collected
// before any of them is called. A subscriber that is removed by an
// earlier one during the same Emit is skipped, and one that is added is
// not called until the next Emit.
func (s *Signal[T]) Emit(v T) {
	if len(s.subs) == 0 {
		return
	}

	collected := make([]subscriber[T], len(s.subs))
	copy(collected, s.subs)
	for _, sub := range collected {
		if !s.has(sub.handle) {
			continue
		}
		sub.f(v)
	}
}

// Clear removes all subscribers.
func (s *Signal[T]) Clear() {
	s.subs = nil
}

func (s *Signal[T]) has(h Handle) bool {
	for _, sub := range s.subs {
		if sub.handle == h {
			return true
		}
	}
	return false
}
