package acebase

import (
	"sync"
	"time"
)

// lockState is the lifecycle state of one queued or granted lock request.
// Grounded on the teacher's explicit state-machine enums (Types.go's
// transaction status constants) rather than ad-hoc booleans.
type lockState int

const (
	lockPending lockState = iota
	lockGranted
	lockExpired
	lockDone
)

func (s lockState) String() string {
	switch s {
	case lockPending:
		return "pending"
	case lockGranted:
		return "locked"
	case lockExpired:
		return "expired"
	case lockDone:
		return "done"
	default:
		return "unknown"
	}
}

// lockRequest is one entry in the lock manager's queue: a tid's claim on a
// path, for reading or writing, with an optional comment for diagnostics.
type lockRequest struct {
	path       string
	tid        string
	forWriting bool
	priority   bool
	noTimeout  bool
	comment    string

	state   lockState
	granted chan struct{}
	timer   *time.Timer

	mu sync.Mutex
}

func (r *lockRequest) setState(s lockState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *lockRequest) getState() lockState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// lockManager grants and queues path locks by transaction id (tid),
// enforcing read/write compatibility and ancestor/descendant conflicts.
// Single coarse mutex, matching SPEC_FULL.md's concurrency model: AceBase is
// single-writer/many-reader, not the teacher's lock-free CAS trie, so a
// straightforward mutex-guarded queue is the idiomatic fit here rather than
// reusing the teacher's atomic CAS retry loop.
//
// Conflict checking is global, not per-path: a write lock on path P must
// conflict with any granted lock (of a different tid) on P or on any
// ancestor or descendant of P, per the spec's lock-compatibility invariant.
// Requests are therefore kept in one arrival-ordered queue (priority
// requests spliced to the front of the pending segment) rather than one
// queue per exact path string, so granting always considers the whole
// hierarchy.
type lockManager struct {
	mu sync.Mutex

	timeout time.Duration
	clock   clock

	// queue holds every request not yet fully released, granted or
	// pending, in the order priority/FIFO rules dictate they should be
	// considered for granting.
	queue []*lockRequest

	// poisoned marks a tid whose lock expired; any further use of that
	// tid must fail until the caller starts a fresh transaction.
	poisoned map[string]bool
}

func newLockManager(timeout time.Duration) *lockManager {
	return &lockManager{
		timeout:  timeout,
		clock:    realClock{},
		poisoned: make(map[string]bool),
	}
}

// lockOptions customizes one lock() call.
type lockOptions struct {
	Priority  bool
	NoTimeout bool
	Comment   string
}

// lock requests path for tid, blocking until granted (a conflicting lock
// that expires is removed from the queue, which can let this request
// through); a pending request has no wait timeout of its own. Only
// path-migration callers (moveToParent/moveTo) may set Priority; it places
// the new request ahead of every other pending request in the queue,
// whatever its path, per the spec's resolved open question restricting
// priority to migration.
func (m *lockManager) lock(path, tid string, forWriting bool, opts lockOptions) (*lockRequest, error) {
	m.mu.Lock()
	if m.poisoned[tid] {
		m.mu.Unlock()
		return nil, &LockExpiredError{Path: path, Tid: tid}
	}

	req := &lockRequest{
		path:       path,
		tid:        tid,
		forWriting: forWriting,
		priority:   opts.Priority,
		noTimeout:  opts.NoTimeout,
		comment:    opts.Comment,
		state:      lockPending,
		granted:    make(chan struct{}),
	}

	if opts.Priority {
		// splice ahead of every other still-pending request, but behind
		// whatever is already granted (a priority request still has to
		// wait out a conflicting in-flight grant).
		inserted := false
		next := make([]*lockRequest, 0, len(m.queue)+1)
		for _, q := range m.queue {
			if !inserted && q.getState() == lockPending {
				next = append(next, req)
				inserted = true
			}
			next = append(next, q)
		}
		if !inserted {
			next = append(next, req)
		}
		m.queue = next
	} else {
		m.queue = append(m.queue, req)
	}

	m.tryGrantLocked()
	waitForGrant := req.getState() != lockGranted
	m.mu.Unlock()

	if waitForGrant {
		<-req.granted
	}

	if req.getState() == lockExpired {
		return nil, &LockExpiredError{Path: path, Tid: tid}
	}
	return req, nil
}

// tryGrantLocked scans the whole queue in order, granting every pending
// request that does not conflict with anything already granted (by another
// tid, on an overlapping path). Must be called with m.mu held.
//
// Unlike the per-path queue this replaced, compatibility here is checked
// against every currently-granted request regardless of its exact path,
// since a write lock on path P must exclude readers and writers anywhere
// from P's root down through its descendants, per the spec's hierarchical
// lock-compatibility invariant.
func (m *lockManager) tryGrantLocked() {
	var granted []*lockRequest
	for _, r := range m.queue {
		if r.getState() == lockGranted {
			granted = append(granted, r)
		}
	}

	for _, r := range m.queue {
		if r.getState() != lockPending {
			continue
		}
		if m.conflictsWithGranted(r, granted) {
			// path overlap is unrelated to queue position, so a blocked
			// request here simply waits; it doesn't stop a later,
			// disjoint-path request from being granted in the same pass.
			continue
		}

		r.setState(lockGranted)
		granted = append(granted, r)
		m.armTimeoutLocked(r)
		close(r.granted)
	}
}

// conflictsWithGranted reports whether r (still pending) conflicts with any
// already-granted request from a different tid whose path overlaps r's,
// i.e. is r's path, an ancestor of it, or a descendant of it. Same-tid
// requests never conflict with each other (a transaction can hold nested
// locks against itself), matching the spec's reentrant-by-tid model.
func (m *lockManager) conflictsWithGranted(r *lockRequest, granted []*lockRequest) bool {
	for _, g := range granted {
		if g.tid == r.tid {
			continue
		}
		if !pathsOverlap(r.path, g.path) {
			continue
		}
		if r.forWriting || g.forWriting {
			return true
		}
	}
	return false
}

// pathsOverlap reports whether a and b are the same path or one is a
// descendant of the other.
func pathsOverlap(a, b string) bool {
	return isDescendantOrEqual(a, b) || isDescendantOrEqual(b, a)
}

func (m *lockManager) armTimeoutLocked(r *lockRequest) {
	if r.noTimeout || m.timeout <= 0 {
		return
	}
	r.timer = time.AfterFunc(m.timeout, func() { m.expire(r) })
}

// expire poisons r's tid and releases its slot, unblocking anything queued
// behind it.
func (m *lockManager) expire(r *lockRequest) {
	m.mu.Lock()
	if r.getState() != lockGranted {
		m.mu.Unlock()
		return
	}
	r.setState(lockExpired)
	m.poisoned[r.tid] = true
	m.removeFromQueueLocked(r)
	m.tryGrantLocked()
	m.mu.Unlock()
}

// release frees r's slot once the caller is done with path, running the
// next compatible queued request(s).
func (m *lockManager) release(r *lockRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	if r.getState() == lockGranted {
		r.setState(lockDone)
	}
	m.removeFromQueueLocked(r)
	m.tryGrantLocked()
}

func (m *lockManager) removeFromQueueLocked(r *lockRequest) {
	for i, q := range m.queue {
		if q == r {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// moveToParent atomically migrates r's lock from its current path to the
// path's parent, with priority, so a recursive parent patch never waits
// behind unrelated requests queued for the parent.
func (m *lockManager) moveToParent(r *lockRequest) (*lockRequest, error) {
	return m.moveTo(r, pathParent(r.path), r.forWriting)
}

// moveTo migrates r's lock to otherPath, releasing the old slot only after
// the new one is granted so the tid is never momentarily unlocked.
func (m *lockManager) moveTo(r *lockRequest, otherPath string, forWriting bool) (*lockRequest, error) {
	next, err := m.lock(otherPath, r.tid, forWriting, lockOptions{Priority: true, NoTimeout: r.noTimeout, Comment: r.comment})
	if err != nil {
		return nil, err
	}
	m.release(r)
	return next, nil
}

// LockStats is a read-only snapshot of lock manager activity.
type LockStats struct {
	QueuedPaths  int
	PendingCount int
	GrantedCount int
	PoisonedTids int
}

func (m *lockManager) stats() LockStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make(map[string]struct{}, len(m.queue))
	stats := LockStats{PoisonedTids: len(m.poisoned)}
	for _, r := range m.queue {
		paths[r.path] = struct{}{}
		switch r.getState() {
		case lockPending:
			stats.PendingCount++
		case lockGranted:
			stats.GrantedCount++
		}
	}
	stats.QueuedPaths = len(paths)
	return stats
}
