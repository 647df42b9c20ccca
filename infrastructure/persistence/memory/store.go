// Package memory provides the in-memory single-room ElementStore. State is
// volatile: the store is rebuilt from zero on process start.
package memory

import (
	"sync"

	"canvas-backend/domain/element"
)

// Store keeps elements in a map with a side slice preserving insertion
// order. All roomID parameters are accepted and ignored; the store behaves
// as one global room.
type Store struct {
	mu       sync.RWMutex
	elements map[string]element.Element
	order    []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		elements: make(map[string]element.Element),
	}
}

// Get returns the element under id and whether it exists.
func (s *Store) Get(_ string, id string) (element.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[id]
	if !ok {
		return element.Element{}, false
	}
	return el.Clone(), true
}

// GetAll returns every element in insertion order.
func (s *Store) GetAll(_ string) []element.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]element.Element, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.elements[id].Clone())
	}
	return out
}

// Set inserts or replaces the element under id.
func (s *Store) Set(_ string, id string, el element.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.elements[id]; !exists {
		s.order = append(s.order, id)
	}
	s.elements[id] = el.Clone()
}

// Delete removes id and reports whether a record existed.
func (s *Store) Delete(_ string, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.elements[id]; !exists {
		return false
	}
	delete(s.elements, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every element.
func (s *Store) Clear(_ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = make(map[string]element.Element)
	s.order = nil
}

// Count returns the number of stored elements.
func (s *Store) Count(_ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}
