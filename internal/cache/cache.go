// Package cache keeps a process-wide registry of Controller instances keyed
// by (destination, queue path), so a workflow that issues several operations
// against the same queue reuses one SSH session instead of reconnecting
// every time (§5: "a small cache of RemoteQueue instances ... is a simple
// map with no eviction; lifetime = process lifetime").
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/vistrails/tej/internal/destination"
	"github.com/vistrails/tej/internal/queue"
	"github.com/vistrails/tej/internal/sshsession"
)

type key struct {
	destination string
	queuePath   string
}

// Cache is a mutex-protected map from (destination, queue) to an open
// Controller. It is safe for concurrent use, though the embedding CLI is
// itself single-threaded per invocation (§5).
type Cache struct {
	mu          sync.Mutex
	controllers map[key]*queue.Controller
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{controllers: make(map[key]*queue.Controller)}
}

// DialFunc dials a fresh session for dest, used only on a cache miss.
type DialFunc func(ctx context.Context, dest destination.Destination) (*sshsession.Session, error)

// Get returns the cached Controller for (dest, opts.QueuePath), dialing and
// constructing one via dial if none exists yet.
func (c *Cache) Get(ctx context.Context, dest destination.Destination, opts queue.ControllerOptions, dial DialFunc) (*queue.Controller, error) {
	k := key{destination: dest.String(), queuePath: opts.QueuePath}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ctrl, ok := c.controllers[k]; ok {
		return ctrl, nil
	}

	sess, err := dial(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", dest.String(), err)
	}
	ctrl := queue.NewController(sess, opts)
	c.controllers[k] = ctrl
	return ctrl, nil
}

// TeardownAll closes every cached Controller's SSH session and empties the
// cache. Errors from individual closes are collected, not short-circuited,
// so one stuck session doesn't prevent tearing down the rest.
func (c *Cache) TeardownAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for k, ctrl := range c.controllers {
		if err := ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s/%s: %w", k.destination, k.queuePath, err))
		}
	}
	c.controllers = make(map[key]*queue.Controller)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d controller(s) failed to close: %v", len(errs), errs)
}
