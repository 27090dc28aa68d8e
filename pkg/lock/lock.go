// Package lock provides the named, non-blocking locks that serialize the
// per-iteration sweep steps across collector instances.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultPollInterval is how often Acquire retries a held lock.
const DefaultPollInterval = 100 * time.Millisecond

var ErrTimeout = errors.New("timed out waiting for lock")

type Lock interface {
	// TryLock acquires the lock without waiting. It reports false when the
	// lock is held elsewhere.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type Registry interface {
	// Obtain returns a handle for the named lock. Handles are cheap and
	// acquire nothing until TryLock.
	Obtain(name string) Lock
}

func CollectorName(iteration string) string {
	return "collector_" + iteration
}

func TimeoutCollectorName(iteration string) string {
	return "timeout_collector_" + iteration
}

func TaskSchedulerName(task string) string {
	return "taskscheduler_" + task
}

func CompletedIterationName(iteration string) string {
	return "completed_iteration_" + iteration
}

// Acquire polls l until it is acquired, ctx is done or wait elapses.
func Acquire(ctx context.Context, l Lock, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

type registry struct {
	mu   sync.Mutex
	held map[string]*handle
}

// NewRegistry returns a registry whose locks are only visible inside this
// process.
func NewRegistry() Registry {
	return &registry{held: make(map[string]*handle)}
}

func (r *registry) Obtain(name string) Lock {
	return &handle{name: name, registry: r}
}

type handle struct {
	name     string
	registry *registry
}

func (h *handle) TryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	if _, ok := h.registry.held[h.name]; ok {
		return false, nil
	}
	h.registry.held[h.name] = h

	return true, nil
}

func (h *handle) Unlock(_ context.Context) error {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	if owner, ok := h.registry.held[h.name]; ok && owner == h {
		delete(h.registry.held, h.name)
	}

	return nil
}
