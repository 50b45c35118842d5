package sshsession

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RestartPolicy bounds how hard DialWithRetry tries before giving up on a
// destination, and how long it remembers a destination as quarantined.
//
// Adapted from the teacher's internal/tunnel.Manager restart/backoff fields
// (RestartMaxAttempts, RestartBackoffSeconds, RestartStableWindowSeconds),
// here applied to retrying a stale SSH transport before the next C6 call
// instead of supervising a long-lived background process.
type RestartPolicy struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	QuarantineWindow time.Duration
}

// DefaultRestartPolicy mirrors the teacher's defaults in spirit: a handful
// of quick retries, then leave the destination alone for a while.
var DefaultRestartPolicy = RestartPolicy{
	MaxAttempts:      3,
	BackoffBase:      500 * time.Millisecond,
	QuarantineWindow: 30 * time.Second,
}

// quarantine tracks destinations that recently exhausted their retry budget,
// keyed by the destination's canonical string form, so repeated callers
// within the window fail fast instead of re-paying the dial timeout.
type quarantine struct {
	mu     sync.Mutex
	until  map[string]time.Time
	policy RestartPolicy
}

func newQuarantine(policy RestartPolicy) *quarantine {
	return &quarantine{until: make(map[string]time.Time), policy: policy}
}

func (q *quarantine) check(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.until[key]; ok && time.Now().Before(t) {
		return fmt.Errorf("destination %s is quarantined until %s after repeated connection failures", key, t.Format(time.RFC3339))
	}
	return nil
}

func (q *quarantine) markFailed(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.until[key] = time.Now().Add(q.policy.QuarantineWindow)
}

func (q *quarantine) clear(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.until, key)
}

// globalQuarantine is process-wide: once a destination exhausts its retry
// budget from one Controller, other Controllers in the same process (e.g.
// from internal/cache) should also fail fast rather than hammering a host
// that's down.
var globalQuarantine = newQuarantine(DefaultRestartPolicy)

// DialWithRetry dials key (the destination's canonical string, used only as
// the quarantine map key) with exponential backoff across policy.MaxAttempts
// attempts, short-circuiting if key is currently quarantined from a previous
// exhausted run.
func DialWithRetry(ctx context.Context, key string, policy RestartPolicy, dial func(context.Context) (*Session, error)) (*Session, error) {
	if err := globalQuarantine.check(key); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.BackoffBase * time.Duration(1<<uint(attempt-1))):
			}
		}
		sess, err := dial(ctx)
		if err == nil {
			globalQuarantine.clear(key)
			return sess, nil
		}
		lastErr = err
	}

	globalQuarantine.markFailed(key)
	return nil, fmt.Errorf("dial %s: exhausted %d attempts: %w", key, policy.MaxAttempts, lastErr)
}
