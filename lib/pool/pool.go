package pool

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/instrumentation/prom"
	"github.com/ardentperf/pg-idle-test/lib/metrics"
)

const minReapInterval = 10 * time.Millisecond

// close causes, in addition to guard.Reason values
const (
	causeMaxIdle     = "max-idle"
	causeIdleTimeout = "idle-timeout"
	causeMaxLifetime = "max-lifetime"
	causePoolClosed  = "pool-closed"
)

// Pool hands out sessions and runs every released session through the guard before it can be
// handed out again. Idle sessions are reused most recently released first. Waiters are served in
// arrival order.
type Pool struct {
	config Config
	labels prom.PoolLabels

	closed chan struct{}
	done   sync.WaitGroup

	conns map[uuid.UUID]*Conn
	idle  []*Conn
	// waiters receive a session, or nil which grants them a dial slot
	waiters  []chan *Conn
	size     int
	isClosed bool
	stats    Stats
	mu       sync.Mutex
}

func NewPool(config Config) *Pool {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Guard == nil {
		config.Guard = guard.New(guard.Config{
			Name:   config.Name,
			Logger: config.Logger,
		})
	}

	p := &Pool{
		config: config,
		labels: prom.PoolLabels{
			Pool: config.Name,
		},

		closed: make(chan struct{}),

		conns: make(map[uuid.UUID]*Conn),
		stats: Stats{
			Discarded: make(map[guard.Reason]int64),
		},
	}

	if interval := p.reapInterval(); interval != 0 {
		p.done.Add(1)
		go p.reapLoop(interval)
	}

	return p
}

func (T *Pool) Name() string {
	return T.config.Name
}

// Acquire returns an idle session, dials a new one, or waits for one to be released.
func (T *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()

	for {
		conn, wait, dial, err := T.tryAcquire()
		if err != nil {
			return nil, err
		}

		if wait != nil {
			conn, err = T.wait(ctx, wait)
			if err != nil {
				return nil, err
			}
			dial = conn == nil
		}

		if dial {
			conn, err = T.dial(ctx)
			if err != nil {
				return nil, err
			}
		}

		if conn != nil {
			prom.Pool.Acquire(T.labels).Observe(float64(time.Since(start)) / float64(time.Millisecond))
			return conn, nil
		}
	}
}

func (T *Pool) tryAcquire() (conn *Conn, wait chan *Conn, dial bool, err error) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if T.isClosed {
		return nil, nil, false, ErrClosed
	}

	if n := len(T.idle); n > 0 {
		conn = T.idle[n-1]
		T.idle[n-1] = nil
		T.idle = T.idle[:n-1]
		conn.setState(metrics.ConnStateActive)
		return conn, nil, false, nil
	}

	if T.config.MaxConns == 0 || T.size < T.config.MaxConns {
		T.size++
		return nil, nil, true, nil
	}

	wait = make(chan *Conn, 1)
	T.waiters = append(T.waiters, wait)
	T.stats.WaitCount++
	return nil, wait, false, nil
}

func (T *Pool) wait(ctx context.Context, wait chan *Conn) (*Conn, error) {
	start := time.Now()

	waiting := prom.Pool.Waiting(T.labels)
	waiting.Inc()
	defer func() {
		waiting.Dec()

		T.mu.Lock()
		defer T.mu.Unlock()
		T.stats.WaitDuration += time.Since(start)
	}()

	select {
	case conn, ok := <-wait:
		if !ok {
			return nil, ErrClosed
		}
		return conn, nil
	case <-ctx.Done():
		T.cancelWait(wait)
		return nil, ctx.Err()
	}
}

// cancelWait removes wait from the queue. If a session or slot was already handed to it, that is
// passed on.
func (T *Pool) cancelWait(wait chan *Conn) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if i := slices.Index(T.waiters, wait); i != -1 {
		T.waiters = slices.Delete(T.waiters, i, i+1)
		return
	}

	// handoffs happen under mu, so anything sent is already buffered
	conn, ok := <-wait
	if !ok {
		return
	}
	if conn == nil {
		T.freeSlotL()
		return
	}
	if T.handoffL(conn) {
		return
	}
	conn.setState(metrics.ConnStateIdle)
	T.idle = append(T.idle, conn)
}

func (T *Pool) dial(ctx context.Context) (*Conn, error) {
	session, err := T.config.Dialer.Dial(ctx)
	if err != nil {
		T.mu.Lock()
		defer T.mu.Unlock()

		T.freeSlotL()
		T.config.Logger.Debug("failed to dial session", zap.String("pool", T.config.Name), zap.Error(err))
		return nil, err
	}

	conn := newConn(session)

	T.mu.Lock()
	defer T.mu.Unlock()

	if T.isClosed {
		T.size--
		_ = session.Close()
		return nil, ErrClosed
	}

	T.conns[conn.ID] = conn
	prom.Pool.Dialed(T.labels).Inc()
	return conn, nil
}

// Release returns a session to the pool. The guard decides, before the session is visible to any
// other caller, whether it goes back to the idle set or is closed. Releasing a session that is not
// checked out does nothing.
func (T *Pool) Release(conn *Conn) {
	if conn == nil || !conn.beginRelease() {
		return
	}

	decision := T.config.Guard.Evaluate(conn.Session)
	conn.setStatus(decision.Status())

	T.mu.Lock()
	defer T.mu.Unlock()

	if !decision.IsReuse() {
		T.stats.Discarded[decision.Reason()]++
		T.removeL(conn, string(decision.Reason()))
		return
	}

	if T.isClosed {
		T.removeL(conn, causePoolClosed)
		return
	}

	if T.handoffL(conn) {
		T.stats.Reused++
		return
	}

	if T.config.MaxIdle != 0 && len(T.idle) >= T.config.MaxIdle {
		T.stats.MaxIdleClosed++
		T.removeL(conn, causeMaxIdle)
		return
	}

	T.stats.Reused++
	conn.setState(metrics.ConnStateIdle)
	T.idle = append(T.idle, conn)
}

// handoffL gives conn, or a dial slot if conn is nil, to the oldest waiter.
func (T *Pool) handoffL(conn *Conn) bool {
	if len(T.waiters) == 0 {
		return false
	}

	wait := T.waiters[0]
	T.waiters = slices.Delete(T.waiters, 0, 1)

	if conn != nil {
		conn.setState(metrics.ConnStateActive)
	}
	wait <- conn
	return true
}

func (T *Pool) freeSlotL() {
	if T.isClosed || !T.handoffL(nil) {
		T.size--
	}
}

func (T *Pool) removeL(conn *Conn, cause string) {
	delete(T.conns, conn.ID)
	conn.setState(metrics.ConnStateClosed)
	T.freeSlotL()

	prom.Pool.Closed(T.labels.ToClose(cause)).Inc()

	if T.isClosed {
		T.closeSession(conn, cause)
		return
	}

	T.done.Add(1)
	go func() {
		defer T.done.Done()
		T.closeSession(conn, cause)
	}()
}

func (T *Pool) closeSession(conn *Conn, cause string) {
	if err := conn.Session.Close(); err != nil {
		T.config.Logger.Debug(
			"error closing session",
			zap.String("pool", T.config.Name),
			zap.String("cause", cause),
			zap.Error(err),
		)
	}
}

func (T *Pool) reapInterval() time.Duration {
	var interval time.Duration
	for _, d := range []time.Duration{T.config.IdleTimeout, T.config.MaxLifetime} {
		if d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}
	if interval == 0 {
		return 0
	}
	return max(interval/2, minReapInterval)
}

func (T *Pool) reapLoop(interval time.Duration) {
	defer T.done.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			T.reap(now)
		case <-T.closed:
			return
		}
	}
}

// reap closes idle sessions past IdleTimeout or MaxLifetime.
func (T *Pool) reap(now time.Time) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if T.isClosed {
		return
	}

	T.idle = slices.DeleteFunc(T.idle, func(conn *Conn) bool {
		switch {
		case T.config.MaxLifetime > 0 && now.Sub(conn.Created()) >= T.config.MaxLifetime:
			T.stats.MaxLifetimeClosed++
			T.removeL(conn, causeMaxLifetime)
			return true
		case T.config.IdleTimeout > 0 && now.Sub(conn.LastUsed()) >= T.config.IdleTimeout:
			T.stats.MaxIdleTimeClosed++
			T.removeL(conn, causeIdleTimeout)
			return true
		default:
			return false
		}
	})
}

// Idle returns a snapshot of the idle set.
func (T *Pool) Idle() []*Conn {
	T.mu.Lock()
	defer T.mu.Unlock()

	return slices.Clone(T.idle)
}

func (T *Pool) Stats() Stats {
	T.mu.Lock()
	defer T.mu.Unlock()

	stats := T.stats.clone()
	stats.MaxOpen = T.config.MaxConns
	stats.Open = T.size
	stats.Idle = len(T.idle)
	stats.InUse = T.size - len(T.idle)
	return stats
}

func (T *Pool) ReadMetrics(m *metrics.Pool) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if m.Conns == nil {
		m.Conns = make(map[uuid.UUID]metrics.Conn)
	}
	for id, conn := range T.conns {
		var c metrics.Conn
		conn.ReadMetrics(&c)
		m.Conns[id] = c
	}
}

// Close closes idle sessions and fails pending and future Acquire calls. Sessions still checked out
// are closed when they are released. Close waits for in-flight closes to finish.
func (T *Pool) Close() {
	T.mu.Lock()
	if T.isClosed {
		T.mu.Unlock()
		return
	}

	for _, conn := range T.idle {
		T.removeL(conn, causePoolClosed)
	}
	T.idle = nil

	for _, wait := range T.waiters {
		close(wait)
	}
	T.waiters = nil

	T.isClosed = true
	close(T.closed)
	T.mu.Unlock()

	T.done.Wait()
}
