package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/matheus3301/inbox/internal/bus"
	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	// GracePeriod keeps an entry after its last consumer leaves.
	// Zero removes it immediately, a negative value keeps it forever.
	GracePeriod time.Duration
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Store holds query results keyed by (query, args). Every read and write is
// an atomic unit under the store mutex; mutators must not block.
type Store struct {
	mu        sync.Mutex
	entries   map[Key]*record
	consumers map[Key]map[int]*Subscription
	nextSub   int

	grace   time.Duration
	retired *ttlcache.Cache[Key, uint64]
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
}

type record struct {
	entry Entry
	// retireGen identifies the pending eviction, 0 when none is scheduled.
	retireGen uint64
}

// New creates a store and starts its eviction loop.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries:   make(map[Key]*record),
		consumers: make(map[Key]map[int]*Subscription),
		grace:     opts.GracePeriod,
		bus:       opts.Bus,
		logger:    logger,
		now:       time.Now,
	}
	if s.grace > 0 {
		s.retired = ttlcache.New[Key, uint64](
			ttlcache.WithTTL[Key, uint64](s.grace),
			ttlcache.WithDisableTouchOnHit[Key, uint64](),
		)
		s.retired.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, uint64]) {
			if reason != ttlcache.EvictionReasonExpired {
				return
			}
			// The callback runs under the ttlcache lock; take the store lock elsewhere.
			go s.evict(item.Key(), item.Value())
		})
		go s.retired.Start()
	}
	return s
}

// Close stops the eviction loop.
func (s *Store) Close() {
	if s.retired != nil {
		s.retired.Stop()
	}
}

// Get returns a snapshot of the entry at key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return r.entry, true
}

// Set stores data as a successful result and publishes it.
func (s *Store) Set(key Key, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordLocked(key)
	r.entry.Status = StatusSuccess
	r.entry.Data = data
	r.entry.Err = nil
	r.entry.Stale = false
	r.entry.UpdatedAt = s.now()
	s.publishLocked(r.entry)
}

// SetStatus records a load state without touching the data.
func (s *Store) SetStatus(key Key, status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordLocked(key)
	r.entry.Status = status
	r.entry.Err = err
	r.entry.UpdatedAt = s.now()
	s.publishLocked(r.entry)
}

// SetStale flags the entry as possibly out of date. Absent keys are ignored.
func (s *Store) SetStale(key Key, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok || r.entry.Stale == stale {
		return
	}
	r.entry.Stale = stale
	s.publishLocked(r.entry)
}

// Update applies fn to the entry's data and publishes the result to every
// consumer of key. fn must be a pure transformation: it must not modify
// the value it receives. Returns ErrKeyNotFound when there is no data.
func (s *Store) Update(key Key, fn func(data any) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok || r.entry.Data == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	data, err := fn(r.entry.Data)
	if err != nil {
		return err
	}
	r.entry.Data = data
	r.entry.UpdatedAt = s.now()
	s.publishLocked(r.entry)
	return nil
}

// Remove drops the entry at key.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// Entries returns a snapshot of every entry.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, r := range s.entries {
		out = append(out, r.entry)
	}
	return out
}

// Consumers returns the number of live subscriptions on key.
func (s *Store) Consumers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers[key])
}

// Subscribe registers a consumer of key. The current entry, if any, is
// delivered right away and every later change follows.
func (s *Store) Subscribe(key Key) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		key:   key,
		id:    s.nextSub,
		ch:    make(chan Entry, 1),
		store: s,
	}
	s.nextSub++
	if s.consumers[key] == nil {
		s.consumers[key] = make(map[int]*Subscription)
	}
	s.consumers[key][sub.id] = sub

	if r, ok := s.entries[key]; ok {
		if r.retireGen != 0 {
			r.retireGen = 0
			if s.retired != nil {
				s.retired.Delete(key)
			}
			s.logger.Debug("cache eviction cancelled", zap.Stringer("key", key))
		}
		sub.ch <- r.entry
	}
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.consumers[sub.key]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) > 0 {
		return
	}
	delete(s.consumers, sub.key)

	r, ok := s.entries[sub.key]
	if !ok {
		return
	}
	// Nothing keeps a retired entry fresh; the next subscriber reloads it.
	r.entry.Stale = true
	switch {
	case s.grace == 0:
		s.removeLocked(sub.key)
	case s.grace > 0:
		s.nextSub++
		r.retireGen = uint64(s.nextSub)
		s.retired.Set(sub.key, r.retireGen, ttlcache.DefaultTTL)
		s.logger.Debug("cache entry retired", zap.Stringer("key", sub.key), zap.Duration("grace", s.grace))
	}
}

func (s *Store) evict(key Key, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok || r.retireGen != gen || len(s.consumers[key]) > 0 {
		return
	}
	s.logger.Debug("cache entry evicted", zap.Stringer("key", key))
	s.removeLocked(key)
}

func (s *Store) recordLocked(key Key) *record {
	r, ok := s.entries[key]
	if !ok {
		r = &record{entry: Entry{Key: key, Status: StatusPending}}
		s.entries[key] = r
	}
	return r
}

func (s *Store) removeLocked(key Key) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindCacheRemoved, Timestamp: s.now(), Payload: key})
	}
}

func (s *Store) publishLocked(e Entry) {
	for _, sub := range s.consumers[e.Key] {
		sub.deliver(e)
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindCacheUpdated, Timestamp: s.now(), Payload: e})
	}
}
