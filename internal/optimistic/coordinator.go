// Package optimistic applies cache patches before a remote mutation
// resolves, then either confirms them or rolls them back.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/cache"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a mutation.
type Outcome string

const (
	Confirmed  Outcome = "confirmed"
	RolledBack Outcome = "rolled_back"
)

// MutationError reports a mutation the remote service rejected or never
// received. Its optimistic patches have been rolled back.
type MutationError struct {
	Name string
	ID   string
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s (%s) rolled back: %v", e.Name, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsRolledBack reports whether err comes from a rolled back mutation.
func IsRolledBack(err error) bool {
	var mutErr *MutationError
	return errors.As(err, &mutErr)
}

// Result is the payload of mutation bus events.
type Result struct {
	ID      string
	Name    string
	Key     cache.Key
	Outcome Outcome
	Err     string
}

// Mutation describes one optimistic mutation of the list at Key.
type Mutation[T Mutable[T], R any] struct {
	Name    string
	Key     cache.Key
	Patches []*Patch[T]
	// Do issues the remote call.
	Do func(ctx context.Context) (R, error)
	// Confirm reconciles the cache with the server result. It runs only
	// after Do succeeded and must re-read the cache rather than rely on
	// anything captured before Do.
	Confirm func(ctx context.Context, result R) error
}

// Coordinator sequences mutations per cache key: a second mutation of the
// same key waits until the first one is confirmed or rolled back.
type Coordinator struct {
	store  *cache.Store
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	locks map[cache.Key]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store *cache.Store, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:  store,
		bus:    b,
		logger: logger,
		locks:  make(map[cache.Key]*keyLock),
	}
}

// Perform runs m: patch the cache, call the remote service, then confirm or
// roll back. Rollback and confirm are exclusive. A failed Do returns a
// *MutationError with outcome RolledBack; a failing Confirm returns its
// error with outcome Confirmed, since the server already accepted the change.
func Perform[T Mutable[T], R any](ctx context.Context, c *Coordinator, m Mutation[T, R]) (R, Outcome, error) {
	var zero R
	id := ulid.Make().String()
	logger := c.logger.With(
		zap.String("mutation", m.Name),
		zap.String("mutation_id", id),
		zap.Stringer("key", m.Key),
	)

	unlock, err := c.lock(ctx, m.Key)
	if err != nil {
		return zero, RolledBack, &MutationError{Name: m.Name, ID: id, Err: err}
	}
	defer unlock()

	patched := applyPatches(c, logger, m.Key, m.Patches)

	result, err := m.Do(ctx)
	if err != nil {
		if patched {
			rollbackPatches(c, logger, m.Key, m.Patches)
		}
		logger.Warn("mutation rolled back", zap.Error(err))
		c.publish(bus.KindMutationRolledBack, Result{ID: id, Name: m.Name, Key: m.Key, Outcome: RolledBack, Err: err.Error()})
		return result, RolledBack, &MutationError{Name: m.Name, ID: id, Err: err}
	}

	logger.Info("mutation confirmed")
	c.publish(bus.KindMutationConfirmed, Result{ID: id, Name: m.Name, Key: m.Key, Outcome: Confirmed})
	if m.Confirm != nil {
		if err := m.Confirm(ctx, result); err != nil {
			logger.Error("mutation reconciliation failed", zap.Error(err))
			return result, Confirmed, fmt.Errorf("%s: reconcile: %w", m.Name, err)
		}
	}
	return result, Confirmed, nil
}

func applyPatches[T Mutable[T]](c *Coordinator, logger *zap.Logger, key cache.Key, patches []*Patch[T]) bool {
	if len(patches) == 0 {
		return false
	}
	err := cache.UpdateList(c.store, key, func(l cache.List[T]) cache.List[T] {
		for _, p := range patches {
			l = p.apply(l)
		}
		return l
	})
	if err != nil {
		// Nothing is cached for key; the mutation proceeds without patches.
		logger.Debug("optimistic patch skipped", zap.Error(err))
		return false
	}
	return true
}

func rollbackPatches[T Mutable[T]](c *Coordinator, logger *zap.Logger, key cache.Key, patches []*Patch[T]) {
	err := cache.UpdateList(c.store, key, func(l cache.List[T]) cache.List[T] {
		for i := len(patches) - 1; i >= 0; i-- {
			l = patches[i].invert(l)
		}
		return l
	})
	if err != nil {
		logger.Warn("rollback target evicted", zap.Error(err))
	}
}

func (c *Coordinator) lock(ctx context.Context, key cache.Key) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

func (c *Coordinator) publish(kind string, r Result) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: r})
}
