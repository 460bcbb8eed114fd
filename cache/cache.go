// Package cache deduplicates detection work for bit-identical request
// payloads.
//
// Entries are keyed by the MD5 digest of the raw bytes and evicted in
// least-recently-used order once the configured capacity is reached. Get
// counts as a use. All methods are safe for concurrent use; a Get followed
// by a Put is not atomic, so two concurrent misses for the same payload
// both compute and both store, the second replacing the first.
package cache

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/sirupsen/logrus"
)

const DefaultCapacity = 100

type entry struct {
	key    string
	result *models.Result
}

type Store struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used

	hits      int64
	misses    int64
	evictions int64
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// New returns an empty store. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Key returns the hex MD5 digest identifying raw.
func Key(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the stored result for raw and marks it most
// recently used.
func (s *Store) Get(raw []byte) (*models.Result, bool) {
	key := Key(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		s.misses++
		logger.WithField("key", key[:8]).Debug("Cache miss")
		return nil, false
	}

	s.hits++
	s.order.MoveToFront(el)
	logger.WithField("key", key[:8]).Debug("Cache hit")
	return el.Value.(*entry).result.Clone(), true
}

// Put stores a copy of result for raw. An existing entry for the same key
// is replaced and becomes most recently used without evicting anything.
func (s *Store) Put(raw []byte, result *models.Result) {
	if result == nil {
		return
	}
	key := Key(raw)
	stored := result.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*entry).result = stored
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= s.capacity {
		s.evictOldest()
	}

	s.entries[key] = s.order.PushFront(&entry{key: key, result: stored})
	logger.WithFields(logrus.Fields{
		"key":  key[:8],
		"size": s.order.Len(),
	}).Debug("Cached result")
}

func (s *Store) evictOldest() {
	oldest := s.order.Back()
	if oldest == nil {
		return
	}
	e := s.order.Remove(oldest).(*entry)
	delete(s.entries, e.key)
	s.evictions++
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Size:      s.order.Len(),
		Capacity:  s.capacity,
	}
}

// keys returns keys from most to least recently used.
func (s *Store) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}
