package cache

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// Priority weights an entry's access count when choosing what to evict.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps a stored name back to a Priority; unknown names are low.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SetOptions control how an entry is stored.
type SetOptions struct {
	// TTL counts from creation. Zero uses the store default.
	TTL      time.Duration
	Priority Priority
	Tags     []string
}

// Entry is a stored value with its bookkeeping.
type Entry[V any] struct {
	Key         string
	Value       V
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int
	TTL         time.Duration
	Priority    Priority
	Tags        []string
}

func (e *Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// score is lowest for the entry that should be evicted first.
func (e *Entry[V]) score(now time.Time) float64 {
	ageMinutes := now.Sub(e.LastAccess).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	return float64(e.AccessCount*int(e.Priority)) / (1 + ageMinutes/60)
}

// Options configure a Store.
type Options struct {
	MaxSize       int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// Now is replaced in tests.
	Now func() time.Time
}

// Stats is a read-only view of the store.
type Stats struct {
	Size       int            `json:"size" yaml:"size"`
	MaxSize    int            `json:"maxSize" yaml:"max_size"`
	Hits       int64          `json:"hits" yaml:"hits"`
	Misses     int64          `json:"misses" yaml:"misses"`
	Evictions  int64          `json:"evictions" yaml:"evictions"`
	Expired    int64          `json:"expired" yaml:"expired"`
	ByPriority map[string]int `json:"byPriority" yaml:"by_priority"`
	ByTag      map[string]int `json:"byTag" yaml:"by_tag"`
}

// Store is a bounded in-memory cache with TTL expiry, tag invalidation and
// priority-weighted eviction. All methods are safe for concurrent use.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]
	opts    Options

	hits, misses, evictions, expired int64

	sweepHooks []func()
}

// New creates a Store.
func New[V any](opts Options) *Store[V] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	return &Store[V]{
		entries: make(map[string]*Entry[V]),
		opts:    opts,
	}
}

// Set stores v under key, replacing any previous entry. When the store is
// full, the entry with the lowest eviction score is removed first.
func (s *Store[V]) Set(key string, v V, o SetOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	if _, exists := s.entries[key]; !exists && s.opts.MaxSize > 0 {
		for len(s.entries) >= s.opts.MaxSize {
			if _, ok := s.evictLocked(now); !ok {
				break
			}
		}
	}

	ttl := o.TTL
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	priority := o.Priority
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityMedium
	}

	s.entries[key] = &Entry[V]{
		Key:         key,
		Value:       v,
		CreatedAt:   now,
		LastAccess:  now,
		AccessCount: 1,
		TTL:         ttl,
		Priority:    priority,
		Tags:        slices.Clone(o.Tags),
	}
}

// Get returns the value for key. Expired entries are removed and reported
// as misses.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	now := s.opts.Now()
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return zero, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		s.expired++
		s.misses++
		return zero, false
	}

	e.AccessCount++
	e.LastAccess = now
	s.hits++
	return e.Value, true
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// ClearByTag removes every entry carrying tag and returns how many were removed.
func (s *Store[V]) ClearByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if slices.Contains(e.Tags, tag) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cache entries cleared by tag", "tag", tag, "count", removed)
	}
	return removed
}

// EvictOne removes the entry with the lowest eviction score.
func (s *Store[V]) EvictOne() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.opts.Now())
}

func (s *Store[V]) evictLocked(now time.Time) (string, bool) {
	var victim *Entry[V]
	var victimScore float64
	for _, e := range s.entries {
		sc := e.score(now)
		if victim == nil || lessEvictable(e, sc, victim, victimScore) {
			victim, victimScore = e, sc
		}
	}
	if victim == nil {
		return "", false
	}

	delete(s.entries, victim.Key)
	s.evictions++
	slog.Debug("Cache entry evicted", "key", victim.Key, "score", victimScore, "priority", victim.Priority)
	return victim.Key, true
}

// lessEvictable orders by score, then older last access, then key.
func lessEvictable[V any](a *Entry[V], aScore float64, b *Entry[V], bScore float64) bool {
	if aScore != bScore {
		return aScore < bScore
	}
	if !a.LastAccess.Equal(b.LastAccess) {
		return a.LastAccess.Before(b.LastAccess)
	}
	return a.Key < b.Key
}

// CleanupExpired removes all expired entries and returns how many were removed.
func (s *Store[V]) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.expired += int64(removed)
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns counters and the composition of the store.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:       len(s.entries),
		MaxSize:    s.opts.MaxSize,
		Hits:       s.hits,
		Misses:     s.misses,
		Evictions:  s.evictions,
		Expired:    s.expired,
		ByPriority: map[string]int{},
		ByTag:      map[string]int{},
	}
	for _, e := range s.entries {
		st.ByPriority[e.Priority.String()]++
		for _, tag := range e.Tags {
			st.ByTag[tag]++
		}
	}
	return st
}

// Snapshot returns copies of all live entries ordered by key.
func (s *Store[V]) Snapshot() []Entry[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	out := make([]Entry[V], 0, len(s.entries))
	for _, e := range s.entries {
		if e.expired(now) {
			continue
		}
		cp := *e
		cp.Tags = slices.Clone(e.Tags)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore loads entries, keeping their bookkeeping. Expired entries are
// skipped and the size bound is enforced. It returns how many were loaded.
func (s *Store[V]) Restore(entries []Entry[V]) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	loaded := 0
	for _, e := range entries {
		if e.Key == "" || e.expired(now) {
			continue
		}
		if _, exists := s.entries[e.Key]; !exists && s.opts.MaxSize > 0 {
			for len(s.entries) >= s.opts.MaxSize {
				if _, ok := s.evictLocked(now); !ok {
					break
				}
			}
		}
		cp := e
		cp.Tags = slices.Clone(e.Tags)
		if cp.AccessCount < 1 {
			cp.AccessCount = 1
		}
		s.entries[e.Key] = &cp
		loaded++
	}
	return loaded
}

// OnSweep registers fn to run after every background sweep.
func (s *Store[V]) OnSweep(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepHooks = append(s.sweepHooks, fn)
}

// Run sweeps expired entries every SweepInterval until ctx is done.
func (s *Store[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CleanupExpired(); n > 0 {
				slog.Debug("Cache sweep removed expired entries", "count", n)
			}
			s.mu.Lock()
			hooks := slices.Clone(s.sweepHooks)
			s.mu.Unlock()
			for _, fn := range hooks {
				fn()
			}
		}
	}
}

// FetchFunc represents a function that fetches data from an external source
type FetchFunc[V any] func() (V, error)

// GetOrFetch returns the cached value for key, or calls fetch and stores the
// result when policy allows it. The boolean reports a cache hit.
func GetOrFetch[V any](s *Store[V], key string, fetch FetchFunc[V], policy func(V) (SetOptions, bool)) (V, bool, error) {
	if v, ok := s.Get(key); ok {
		slog.Debug("Cache hit", "key", key)
		return v, true, nil
	}

	slog.Debug("Cache miss, fetching data", "key", key)
	v, err := fetch()
	if err != nil {
		var zero V
		return zero, false, err
	}

	opts := SetOptions{}
	store := true
	if policy != nil {
		opts, store = policy(v)
	}
	if !store {
		slog.Debug("Skipping cache store per policy", "key", key)
		return v, false, nil
	}
	s.Set(key, v, opts)
	return v, false, nil
}
