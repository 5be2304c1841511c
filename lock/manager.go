// Package lock implements a path-keyed advisory mutual-exclusion service
// used to serialize filesystem-mutating tool actions across concurrently
// running execution units. Locks are advisory at the process level: the
// manager's in-memory map is the source of truth, waiters are queued FIFO
// per path and woken by the releasing call rather than by polling.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/telemetry"
)

// ErrLockTimeout is returned by Acquire when the lock was not granted
// before the caller's timeout elapsed.
var ErrLockTimeout = errors.New("lock: acquisition timed out")

// FileLock records a granted lock. Exactly one live FileLock exists per
// path at any time.
type FileLock struct {
	Path        string    `json:"path"`
	LockID      string    `json:"lock_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	OwnerCallID string    `json:"owner_call_id"`
}

// waiter is one queued acquisition request. The manager grants the lock by
// sending the FileLock on grant and closing nothing else; a waiter that
// times out flips abandoned under the manager mutex so a concurrent grant
// cannot be lost.
type waiter struct {
	callID    string
	grant     chan *FileLock
	abandoned bool
}

// Options configures a Manager.
type Options struct {
	// Telemetry receives lock acquired/released hook events. Defaults to
	// the no-op hook.
	Telemetry telemetry.Hook
}

// Manager is a path-keyed lock service with FIFO queueing and per-request
// timeouts. All state is owned by the instance; construct one per engine.
// Public methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	locks     map[string]*FileLock // live locks by path
	queues    map[string][]*waiter // FIFO waiters by path
	byID      map[string]string    // lock id -> path, for Release
	telemetry telemetry.Hook
}

// NewManager creates an empty lock manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{Telemetry: telemetry.NoOpHook{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		locks:     make(map[string]*FileLock),
		queues:    make(map[string][]*waiter),
		byID:      make(map[string]string),
		telemetry: opts.Telemetry,
	}
}

// Acquire grants the lock on path to callID, blocking the calling goroutine
// (never the process) until the lock is free, the timeout elapses or ctx is
// cancelled. Queued requests are served in arrival order.
func (m *Manager) Acquire(ctx context.Context, path, callID string, timeout time.Duration) (*FileLock, error) {
	m.mu.Lock()
	if _, held := m.locks[path]; !held {
		fl := m.grantLocked(path, callID)
		m.mu.Unlock()
		return fl, nil
	}

	w := &waiter{callID: callID, grant: make(chan *FileLock, 1)}
	m.queues[path] = append(m.queues[path], w)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fl := <-w.grant:
		return fl, nil
	case <-timer.C:
		return nil, m.abandon(path, w, ErrLockTimeout)
	case <-ctx.Done():
		return nil, m.abandon(path, w, ctx.Err())
	}
}

// abandon removes a timed-out or cancelled waiter from its queue. If the
// grant raced ahead of the timeout the lock is already ours and must be
// handed back, otherwise a released lock would leak to a dead waiter.
func (m *Manager) abandon(path string, w *waiter, cause error) error {
	m.mu.Lock()
	select {
	case fl := <-w.grant:
		m.releaseLocked(fl.LockID)
		m.mu.Unlock()
		return cause
	default:
	}

	w.abandoned = true
	q := m.queues[path]
	for i, qw := range q {
		if qw == w {
			m.queues[path] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(m.queues[path]) == 0 {
		delete(m.queues, path)
	}
	m.mu.Unlock()
	return cause
}

// Release frees the lock identified by lockID and grants it to the queue
// head, if any. Releasing an unknown or already-released id is a no-op.
func (m *Manager) Release(lockID string) {
	m.mu.Lock()
	m.releaseLocked(lockID)
	m.mu.Unlock()
}

// ReleaseAll frees every lock currently owned by callID. Used by execution
// units on terminal transitions and by engine shutdown as best-effort
// cleanup.
func (m *Manager) ReleaseAll(callID string) {
	m.mu.Lock()
	var ids []string
	for _, fl := range m.locks {
		if fl.OwnerCallID == callID {
			ids = append(ids, fl.LockID)
		}
	}
	for _, id := range ids {
		m.releaseLocked(id)
	}
	m.mu.Unlock()
}

// IsLocked reports whether path is currently locked. Non-blocking.
func (m *Manager) IsLocked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[path]
	return held
}

// LockInfo returns a copy of the live lock on path, if any. Non-blocking.
func (m *Manager) LockInfo(path string) (*FileLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl, held := m.locks[path]
	if !held {
		return nil, false
	}
	cp := *fl
	return &cp, true
}

// grantLocked records a new live lock for path. Caller holds m.mu.
func (m *Manager) grantLocked(path, callID string) *FileLock {
	fl := &FileLock{
		Path:        path,
		LockID:      core.NewID(),
		AcquiredAt:  time.Now().UTC(),
		OwnerCallID: callID,
	}
	m.locks[path] = fl
	m.byID[fl.LockID] = path
	m.telemetry.LockAcquired(path, callID)
	return fl
}

// releaseLocked frees a lock and wakes the next waiter. Caller holds m.mu.
func (m *Manager) releaseLocked(lockID string) {
	path, ok := m.byID[lockID]
	if !ok {
		return
	}
	fl := m.locks[path]
	delete(m.byID, lockID)
	delete(m.locks, path)
	m.telemetry.LockReleased(path, fl.OwnerCallID)

	// Pop abandoned waiters until a live one accepts the grant.
	for len(m.queues[path]) > 0 {
		w := m.queues[path][0]
		m.queues[path] = m.queues[path][1:]
		if w.abandoned {
			continue
		}
		w.grant <- m.grantLocked(path, w.callID)
		break
	}
	if len(m.queues[path]) == 0 {
		delete(m.queues, path)
	}
}
