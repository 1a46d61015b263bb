package sandbox

import "sync"

// Storage is a Web Storage area.
type Storage struct {
	mu    sync.Mutex
	keys  []string
	items map[string]string
}

// NewStorage returns an empty storage area.
func NewStorage() *Storage {
	return &Storage{items: map[string]string{}}
}

// Len returns the number of items.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Key returns the i-th key in insertion order.
func (s *Storage) Key(i int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.keys) {
		return "", false
	}
	return s.keys[i], true
}

// Get returns the value stored under key.
func (s *Storage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value under key.
func (s *Storage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.items[key] = value
}

// Remove deletes key.
func (s *Storage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Clear deletes every item.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.items = map[string]string{}
}

// Snapshot copies the items.
func (s *Storage) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// Origins holds one Storage per origin.
type Origins struct {
	mu    sync.Mutex
	areas map[string]*Storage
}

// NewOrigins returns an empty origin map.
func NewOrigins() *Origins {
	return &Origins{areas: map[string]*Storage{}}
}

// For returns the storage area of origin, creating it on first use.
func (o *Origins) For(origin string) *Storage {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.areas[origin]
	if !ok {
		s = NewStorage()
		o.areas[origin] = s
	}
	return s
}
