package conduit

import (
	"context"
	"sync"
	"time"

	"github.com/dotindustries/conduit/types"
)

// Pool owns up to MaxConnections protocol sessions and hands each one to a
// single caller at a time.
//
// Checkout prefers idle sessions, creates a new one under the cap (the full
// handshake runs inside checkout, so checkout can fail with an
// authentication error), and fails fast with *types.PoolExhaustedError when
// the cap is reached. There is no queueing; callers needing backpressure
// retry externally.
//
// A session that fails a query is discarded, never returned to the idle
// set, since an error may leave its protocol framing mid-stream.
type Pool struct {
	cfg   types.Config
	copts *ClientConfig

	mu       sync.Mutex
	sessions []*pooledSession
	closed   bool
}

// pooledSession is a tracked session plus its idle flag. Both fields are
// guarded by the pool mutex.
type pooledSession struct {
	session *Session
	idle    bool
}

// NewPool creates a session pool in sandbox mode.
//
// Parameters:
//   - cfg: Connection parameters; MaxConnections caps the pool
//   - opts: Options; WithTransport is required
//
// Returns:
//   - *Pool: An empty pool (sessions are created on demand)
//   - error: ErrNilTransport or a config validation error
func NewPool(cfg types.Config, opts ...Option) (*Pool, error) {
	cc := DefaultClientConfig()
	for _, opt := range opts {
		opt(cc)
	}
	applyClientDefaults(cc)

	if cc.Transport == nil {
		return nil, types.ErrNilTransport
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Pool{cfg: cfg, copts: cc}, nil
}

// Query checks out a session, runs one query, and returns the session to
// the idle set on success or discards it on any failure.
//
// Parameters:
//   - ctx: Context for the handshake (on fresh sessions) and the exchange
//   - sql: The SQL statement
//   - params: Optional bind parameters (presence selects the extended protocol)
//
// Returns:
//   - *types.QueryResult: Decoded result
//   - error: ErrPoolClosed, *types.PoolExhaustedError, or any session error
func (p *Pool) Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error) {
	ps, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := ps.session.Query(ctx, sql, params...)
	p.copts.Metrics.IncQueryTotal()
	p.copts.Metrics.ObserveQueryDuration(time.Since(start).Seconds())

	if err != nil {
		p.discard(ps)

		return nil, err
	}

	p.release(ps)

	return result, nil
}

// checkout returns the first idle session, or creates and authenticates a
// new one when under the cap.
func (p *Pool) checkout(ctx context.Context) (*pooledSession, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil, types.ErrPoolClosed
	}

	for _, ps := range p.sessions {
		if ps.idle {
			ps.idle = false
			p.mu.Unlock()

			return ps, nil
		}
	}

	if len(p.sessions) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		p.copts.Metrics.IncPoolExhausted()

		return nil, &types.PoolExhaustedError{Max: p.cfg.MaxConnections}
	}

	// Reserve the slot before the handshake so two concurrent callers can
	// each create a session without overshooting the cap.
	session, err := NewSession(p.copts.Transport, p.cfg,
		WithLogger(p.copts.Logger),
		WithMetrics(p.copts.Metrics),
		WithReadChunkSize(p.copts.ReadChunkSize),
		WithMaxEmptyReads(p.copts.MaxEmptyReads),
	)
	if err != nil {
		p.mu.Unlock()

		return nil, err
	}
	ps := &pooledSession{session: session}
	p.sessions = append(p.sessions, ps)
	p.publishGaugesLocked()
	p.mu.Unlock()

	if err := session.Connect(ctx); err != nil {
		p.remove(ps)
		p.copts.Logger.Warn("session handshake failed",
			"session", session.ID(),
			"error", err.Error(),
		)

		return nil, err
	}

	p.copts.Logger.Debug("session created", "session", session.ID(), "pool_size", p.Size())

	return ps, nil
}

// release marks a session idle again.
func (p *Pool) release(ps *pooledSession) {
	p.mu.Lock()
	ps.idle = true
	p.publishGaugesLocked()
	p.mu.Unlock()
}

// discard removes a failed session from the pool and closes it. Its state
// may be inconsistent, so it is never returned to the idle set.
func (p *Pool) discard(ps *pooledSession) {
	p.remove(ps)
	_ = ps.session.Close()
	p.copts.Metrics.IncSessionDiscarded()
	p.copts.Logger.Debug("session discarded", "session", ps.session.ID())
}

// remove drops the entry from the tracked set.
func (p *Pool) remove(target *pooledSession) {
	p.mu.Lock()
	for i, ps := range p.sessions {
		if ps == target {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			break
		}
	}
	p.publishGaugesLocked()
	p.mu.Unlock()
}

// End closes the pool: every tracked session gets a best-effort Terminate
// and capability close, and the tracked set is cleared. Safe to call when
// empty or already ended.
func (p *Pool) End() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = nil
	p.publishGaugesLocked()
	p.mu.Unlock()

	for _, ps := range sessions {
		_ = ps.session.Close()
	}
	p.copts.Logger.Debug("pool ended", "closed_sessions", len(sessions))

	return nil
}

// Close ends the pool. It exists so *Pool satisfies the Client interface.
func (p *Pool) Close() error {
	return p.End()
}

// Ping verifies connectivity by running a trivial query on a pooled session.
//
// Parameters:
//   - ctx: Context for the exchange
//
// Returns:
//   - error: nil if a session answered
func (p *Pool) Ping(ctx context.Context) error {
	_, err := p.Query(ctx, "SELECT 1")

	return err
}

// Size returns the number of tracked sessions (idle + checked out).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.sessions)
}

// IdleCount returns the number of idle sessions.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, ps := range p.sessions {
		if ps.idle {
			n++
		}
	}

	return n
}

// publishGaugesLocked refreshes the pool gauges; callers hold p.mu.
func (p *Pool) publishGaugesLocked() {
	p.copts.Metrics.SetPoolSize(len(p.sessions))
	idle := 0
	for _, ps := range p.sessions {
		if ps.idle {
			idle++
		}
	}
	p.copts.Metrics.SetPoolIdle(idle)
}
