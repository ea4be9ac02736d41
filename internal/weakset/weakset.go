// Package weakset provides an identity-keyed set of pointers that does not
// keep its members reachable.
package weakset

import (
	"runtime"
	"sync"
	"weak"
)

// Set holds pointers compared by address. An entry disappears once its
// pointee has been garbage collected. The zero value is ready to use.
type Set[T any] struct {
	mu sync.Mutex
	m  map[weak.Pointer[T]]struct{}
}

// Add records p. It reports false when p is nil or already present.
func (s *Set[T]) Add(p *T) bool {
	if p == nil {
		return false
	}
	k := weak.Make(p)
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[weak.Pointer[T]]struct{})
	}
	if _, ok := s.m[k]; ok {
		s.mu.Unlock()
		return false
	}
	s.m[k] = struct{}{}
	s.mu.Unlock()
	runtime.AddCleanup(p, s.remove, k)
	return true
}

// Has reports whether p was added and has not been collected since.
func (s *Set[T]) Has(p *T) bool {
	if p == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[weak.Make(p)]
	return ok
}

// Len returns the number of live entries.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Set[T]) remove(k weak.Pointer[T]) {
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}
