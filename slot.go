package meiliguard

import "sync/atomic"

// Slot holds at most one value that can be extracted exactly once. Put and
// Take are safe to race from a signal-handling goroutine and a normal exit path.
type Slot[T any] struct {
	p atomic.Pointer[T]
}

// Put stores v if the slot is empty and reports whether it did
func (s *Slot[T]) Put(v *T) bool {
	return s.p.CompareAndSwap(nil, v)
}

// Take removes and returns the value; only one caller ever gets it
func (s *Slot[T]) Take() (*T, bool) {
	v := s.p.Swap(nil)
	return v, v != nil
}

// Occupied reports whether a value is currently held
func (s *Slot[T]) Occupied() bool {
	return s.p.Load() != nil
}
