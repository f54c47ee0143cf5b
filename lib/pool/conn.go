package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/metrics"
)

// Conn is a pooled session. The pool owns it; callers hold it between Acquire and Release.
type Conn struct {
	ID      uuid.UUID
	Session Session

	created time.Time

	lastUsed time.Time
	status   guard.Status
	state    metrics.ConnState
	since    time.Time
	mu       sync.Mutex
}

func newConn(session Session) *Conn {
	now := time.Now()
	return &Conn{
		ID:      uuid.New(),
		Session: session,

		created:  now,
		lastUsed: now,
		state:    metrics.ConnStateActive,
		since:    now,
	}
}

func (T *Conn) Created() time.Time {
	return T.created
}

func (T *Conn) LastUsed() time.Time {
	T.mu.Lock()
	defer T.mu.Unlock()

	return T.lastUsed
}

// Status returns the transaction status probed when the session was last released.
func (T *Conn) Status() guard.Status {
	T.mu.Lock()
	defer T.mu.Unlock()

	return T.status
}

// IsClosed reports whether the pool has closed this session.
func (T *Conn) IsClosed() bool {
	T.mu.Lock()
	defer T.mu.Unlock()

	return T.state == metrics.ConnStateClosed
}

func (T *Conn) GetState() (time.Time, metrics.ConnState) {
	T.mu.Lock()
	defer T.mu.Unlock()

	return T.since, T.state
}

func (T *Conn) setState(state metrics.ConnState) {
	T.mu.Lock()
	defer T.mu.Unlock()

	T.setStateL(time.Now(), state)
}

func (T *Conn) setStateL(now time.Time, state metrics.ConnState) {
	T.state = state
	T.since = now
}

// beginRelease moves an active session to guarding. It returns false if the session is not
// checked out, which makes a second Release a no-op.
func (T *Conn) beginRelease() bool {
	T.mu.Lock()
	defer T.mu.Unlock()

	if T.state != metrics.ConnStateActive {
		return false
	}

	now := time.Now()
	T.lastUsed = now
	T.setStateL(now, metrics.ConnStateGuarding)
	return true
}

func (T *Conn) setStatus(status guard.Status) {
	T.mu.Lock()
	defer T.mu.Unlock()

	T.status = status
}

func (T *Conn) ReadMetrics(m *metrics.Conn) {
	T.mu.Lock()
	defer T.mu.Unlock()

	m.Time = time.Now()
	m.State = T.state
	m.Since = T.since
	m.Created = T.created
	m.LastUsed = T.lastUsed
	m.TxStatus = T.status
}
