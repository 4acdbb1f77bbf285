// Package memstore is the in-process (tier 1) cache owned by a single
// service instance. It is unbounded with no expiry unless a Policy says
// otherwise.
package memstore

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Policy struct {
	// MaxEntries bounds the store with LRU eviction; 0 means unbounded.
	MaxEntries int
	// TTL expires entries after they are written; 0 means never.
	TTL time.Duration
	// Sliding restarts the TTL on every successful Get.
	Sliding bool
}

type entry[V any] struct {
	val     V
	expires time.Time
}

type Store[V any] struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[V]
	bounded *lru.Cache[string, *entry[V]]
}

func New[V any](p Policy) *Store[V] {
	s := &Store[V]{policy: p, now: time.Now}
	if p.MaxEntries > 0 {
		c, _ := lru.New[string, *entry[V]](p.MaxEntries)
		s.bounded = c
	} else {
		s.entries = make(map[string]*entry[V])
	}
	return s
}

// WithClock replaces the time source used for expiry.
func (s *Store[V]) WithClock(now func() time.Time) *Store[V] {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.lookup(key)
	if !ok {
		return zero, false
	}
	if s.expired(e) {
		s.remove(key)
		return zero, false
	}
	if s.policy.Sliding && s.policy.TTL > 0 {
		e.expires = s.now().Add(s.policy.TTL)
	}
	return e.val, true
}

func (s *Store[V]) Set(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry[V]{val: v}
	if s.policy.TTL > 0 {
		e.expires = s.now().Add(s.policy.TTL)
	}
	if s.bounded != nil {
		s.bounded.Add(key, e)
		return
	}
	s.entries[key] = e
}

func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	if ok {
		s.remove(key)
	}
	return ok
}

// DeletePrefix removes every key starting with prefix and returns how many.
func (s *Store[V]) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keysLocked() {
		if strings.HasPrefix(k, prefix) {
			s.remove(k)
			n++
		}
	}
	return n
}

func (s *Store[V]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded != nil {
		n := s.bounded.Len()
		s.bounded.Purge()
		return n
	}
	n := len(s.entries)
	clear(s.entries)
	return n
}

// Len counts stored entries, including expired ones not yet collected.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded != nil {
		return s.bounded.Len()
	}
	return len(s.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy.TTL <= 0 {
		return 0
	}
	n := 0
	for _, k := range s.keysLocked() {
		if e, ok := s.lookup(k); ok && s.expired(e) {
			s.remove(k)
			n++
		}
	}
	return n
}

func (s *Store[V]) lookup(key string) (*entry[V], bool) {
	if s.bounded != nil {
		return s.bounded.Get(key)
	}
	e, ok := s.entries[key]
	return e, ok
}

func (s *Store[V]) remove(key string) {
	if s.bounded != nil {
		s.bounded.Remove(key)
		return
	}
	delete(s.entries, key)
}

func (s *Store[V]) keysLocked() []string {
	if s.bounded != nil {
		return s.bounded.Keys()
	}
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

func (s *Store[V]) expired(e *entry[V]) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}
