package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// SeenSet tracks the video IDs queued during the current session so that
// refills never re-offer a track the session already played or queued. A
// Bloom filter front-loads the common miss path; the LRU bounds memory and
// picks the eviction victim once the cap is reached.
type SeenSet struct {
	ids               map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewSeenSet creates a seen-set holding at most capacity IDs.
func NewSeenSet(capacity int, falsePositiveRate float64) *SeenSet {
	lruCache, _ := lru.New[string, struct{}](capacity)

	if capacity <= 0 {
		panic("seen set capacity must be positive")
	}

	return &SeenSet{
		ids:               make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		lru:               lruCache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has reports whether the video ID was seen this session.
func (s *SeenSet) Has(videoID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.bloom.TestString(videoID) {
		return false
	}

	_, ok := s.ids[videoID]
	return ok
}

// Add marks a video ID as seen.
func (s *SeenSet) Add(videoID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if videoID == "" {
		return
	}
	if _, ok := s.ids[videoID]; ok {
		return
	}

	s.ids[videoID] = struct{}{}
	s.bloom.AddString(videoID)
	s.lru.Add(videoID, struct{}{})

	if len(s.ids) > s.capacity {
		s.evictOldest()
	}
}

// AddAll marks every ID in the slice as seen.
func (s *SeenSet) AddAll(videoIDs []string) {
	for _, id := range videoIDs {
		s.Add(id)
	}
}

// Size returns the number of IDs currently tracked.
func (s *SeenSet) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.ids)
}

// Reset clears the set for a new session.
func (s *SeenSet) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ids = make(map[string]struct{})
	s.bloom = bloom.NewWithEstimates(uint(s.capacity), s.falsePositiveRate)
	s.lru.Purge()
}

func (s *SeenSet) evictOldest() {
	oldest, _, ok := s.lru.GetOldest()
	if !ok {
		return
	}
	delete(s.ids, oldest)
	s.lru.Remove(oldest)
}
