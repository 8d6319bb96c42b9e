package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/HimanshuParihar99/Inboxly/internal/config"
	"github.com/HimanshuParihar99/Inboxly/internal/imap"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

var (
	// ErrInvalidConfig is returned when a connection config is missing
	// required fields. No network attempt is made in that case.
	ErrInvalidConfig = errors.New("invalid connection config")
	// ErrNotFound is returned when a connection key is unknown to the pool.
	ErrNotFound = errors.New("connection not found")
	// ErrReconnectFailed is returned when the connect retry budget is
	// exhausted.
	ErrReconnectFailed = errors.New("reconnect failed")
	// ErrPoolClosed is returned after CloseAll.
	ErrPoolClosed = errors.New("pool is closed")
)

// State is the lifecycle state of one pooled connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Key identifies a pooled connection.
type Key struct {
	User string
	Host string
	Port int
}

// KeyFor derives the pool key of a connection config.
func KeyFor(cfg *config.ConnectionConfig) Key {
	return Key{User: cfg.User, Host: cfg.Host, Port: cfg.Port}
}

// String formats the key for logging.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Dialer establishes an authenticated session for a connection config.
type Dialer func(cfg *config.ConnectionConfig) (imap.Session, error)

// Options tunes the pool.
type Options struct {
	Capacity          int
	RetryMaxAttempts  int
	RetryBase         time.Duration
	RetryFactor       float64
	HealthInterval    time.Duration
	IdleSweepInterval time.Duration
	IdleTimeout       time.Duration
}

// DefaultOptions returns the pool defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:          20,
		RetryMaxAttempts:  5,
		RetryBase:         2 * time.Second,
		RetryFactor:       1.5,
		HealthInterval:    30 * time.Second,
		IdleSweepInterval: 60 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// entry is one pooled connection. Mutated only under the pool mutex; the
// settled channel is closed when a connect cycle reaches connected or error.
type entry struct {
	key          Key
	cfg          *config.ConnectionConfig
	session      imap.Session
	state        State
	lastActivity time.Time
	lastErr      error
	settled      chan struct{}
}

// Pool owns a bounded set of live IMAP sessions keyed by (user, host, port).
// A single mutex guards the entry map and the admission queue so state
// transitions and queue updates stay atomic.
type Pool struct {
	mu      sync.Mutex
	entries map[Key]*entry
	queue   []Key // recency of successful use, most recent at the tail
	dial    Dialer
	logger  *logrus.Logger
	opts    Options
	closed  bool
}

// New creates a pool. Zero option fields fall back to DefaultOptions.
func New(dial Dialer, logger *logrus.Logger, opts Options) *Pool {
	def := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.RetryMaxAttempts <= 0 {
		opts.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.RetryFactor < 1 {
		opts.RetryFactor = def.RetryFactor
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = def.HealthInterval
	}
	if opts.IdleSweepInterval <= 0 {
		opts.IdleSweepInterval = def.IdleSweepInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}

	return &Pool{
		entries: make(map[Key]*entry),
		dial:    dial,
		logger:  logger,
		opts:    opts,
	}
}

// Acquire returns the key of a live connection for the config, reusing an
// existing entry in state connected or connecting, and establishing a new one
// otherwise. Establishing blocks through the retry budget; on exhaustion the
// entry is left in state error and the last error is surfaced.
func (p *Pool) Acquire(ctx context.Context, cfg *config.ConnectionConfig) (Key, error) {
	if err := cfg.Validate(); err != nil {
		return Key{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	key := KeyFor(cfg)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Key{}, ErrPoolClosed
	}

	if e, ok := p.entries[key]; ok {
		switch e.state {
		case StateConnected, StateConnecting:
			e.lastActivity = time.Now()
			p.mu.Unlock()
			return key, nil
		default:
			e.state = StateConnecting
			e.settled = make(chan struct{})
			p.mu.Unlock()
			return key, p.connectWithRetry(ctx, e)
		}
	}

	if len(p.entries) >= p.opts.Capacity {
		p.evictLocked()
	}

	e := &entry{
		key:          key,
		cfg:          cfg,
		state:        StateConnecting,
		lastActivity: time.Now(),
		settled:      make(chan struct{}),
	}
	p.entries[key] = e
	p.mu.Unlock()

	return key, p.connectWithRetry(ctx, e)
}

// Get returns the live session for a key, transparently reconnecting an
// entry in state disconnected or error.
func (p *Pool) Get(ctx context.Context, key Key) (imap.Session, error) {
	for {
		p.mu.Lock()
		e, ok := p.entries[key]
		if !ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		switch e.state {
		case StateConnected:
			e.lastActivity = time.Now()
			p.touchQueueLocked(key)
			session := e.session
			p.mu.Unlock()
			return session, nil

		case StateConnecting:
			settled := e.settled
			p.mu.Unlock()
			if settled == nil {
				continue
			}
			select {
			case <-settled:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default: // disconnected or error
			e.state = StateConnecting
			e.settled = make(chan struct{})
			p.mu.Unlock()
			if err := p.connectWithRetry(ctx, e); err != nil {
				return nil, err
			}
		}
	}
}

// Close ends the session for a key and removes the entry. Closing an unknown
// key is a no-op.
func (p *Pool) Close(key Key) error {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, key)
	p.removeFromQueueLocked(key)
	session := e.session
	p.mu.Unlock()

	if session != nil {
		if err := session.Logout(); err != nil {
			p.logger.WithError(err).WithField("connection", key.String()).Warn("Failed to close connection cleanly")
			return err
		}
	}
	return nil
}

// CloseAll ends every pooled session, best-effort in parallel, and marks the
// pool closed. One connection failing to close never blocks the others.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[Key]*entry)
	p.queue = nil
	p.closed = true
	p.mu.Unlock()

	g := new(errgroup.Group)
	for _, e := range entries {
		if e.session == nil {
			continue
		}
		session := e.session
		key := e.key
		g.Go(func() error {
			if err := session.Logout(); err != nil {
				p.logger.WithError(err).WithField("connection", key.String()).Warn("Failed to close connection cleanly")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// ListStatuses returns a snapshot of all pooled connections.
func (p *Pool) ListStatuses() []types.ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]types.ConnectionStatus, 0, len(p.entries))
	for _, e := range p.entries {
		status := types.ConnectionStatus{
			User:         e.key.User,
			Host:         e.key.Host,
			Port:         e.key.Port,
			State:        string(e.state),
			LastActivity: e.lastActivity,
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Size returns the number of pooled entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// connectWithRetry dials the entry's endpoint with exponential backoff. On
// success the entry becomes connected and moves to the tail of the admission
// queue; after the retry budget it becomes error and the last error is
// returned wrapped in ErrReconnectFailed.
func (p *Pool) connectWithRetry(ctx context.Context, e *entry) error {
	var lastErr error

	for attempt := 1; attempt <= p.opts.RetryMaxAttempts; attempt++ {
		session, err := p.dialOnce(ctx, e.cfg)
		if err == nil {
			p.mu.Lock()
			if p.entries[e.key] != e {
				// Evicted or closed while connecting.
				p.mu.Unlock()
				session.Logout() //nolint:errcheck
				return fmt.Errorf("%w: %s", ErrNotFound, e.key)
			}
			e.session = session
			e.state = StateConnected
			e.lastActivity = time.Now()
			e.lastErr = nil
			p.touchQueueLocked(e.key)
			settled := e.settled
			e.settled = nil
			p.mu.Unlock()
			if settled != nil {
				close(settled)
			}
			return nil
		}

		lastErr = err
		p.logger.WithError(err).WithFields(logrus.Fields{
			"connection": e.key.String(),
			"attempt":    attempt,
		}).Warn("Connect attempt failed")

		if attempt == p.opts.RetryMaxAttempts {
			break
		}
		select {
		case <-time.After(p.delayFor(attempt)):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	p.mu.Lock()
	if p.entries[e.key] == e {
		e.state = StateError
		e.lastErr = lastErr
	}
	settled := e.settled
	e.settled = nil
	p.mu.Unlock()
	if settled != nil {
		close(settled)
	}

	return fmt.Errorf("%w: %w", ErrReconnectFailed, lastErr)
}

// dialOnce races the dial against context cancellation. When the context
// wins, the late session (if any) is logged out so nothing leaks.
func (p *Pool) dialOnce(ctx context.Context, cfg *config.ConnectionConfig) (imap.Session, error) {
	type dialResult struct {
		session imap.Session
		err     error
	}
	ch := make(chan dialResult, 1)
	go func() {
		session, err := p.dial(cfg)
		ch <- dialResult{session: session, err: err}
	}()

	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.session != nil {
				r.session.Logout() //nolint:errcheck
			}
		}()
		return nil, ctx.Err()
	}
}

// delayFor returns the backoff delay before the next attempt: base *
// factor^(attempt-1).
func (p *Pool) delayFor(attempt int) time.Duration {
	mult := math.Pow(p.opts.RetryFactor, float64(attempt-1))
	return time.Duration(float64(p.opts.RetryBase) * mult)
}

// evictLocked frees one slot. Entries already in error or disconnected state
// go first, then the least recently used entry by admission order, then an
// arbitrary one. Availability over fairness: a full pool never rejects a new
// request.
func (p *Pool) evictLocked() {
	for key, e := range p.entries {
		if e.state == StateError || e.state == StateDisconnected {
			p.removeLocked(key, "evicted idle entry")
			return
		}
	}
	for _, key := range p.queue {
		if _, ok := p.entries[key]; ok {
			p.removeLocked(key, "evicted least recently used entry")
			return
		}
	}
	for key := range p.entries {
		p.removeLocked(key, "evicted arbitrary entry")
		return
	}
}

// removeLocked removes an entry and logs the session out in the background.
func (p *Pool) removeLocked(key Key, reason string) {
	e := p.entries[key]
	delete(p.entries, key)
	p.removeFromQueueLocked(key)
	if e != nil && e.session != nil {
		session := e.session
		go func() {
			session.Logout() //nolint:errcheck
		}()
	}
	p.logger.WithField("connection", key.String()).Debug(reason)
}

// touchQueueLocked moves a key to the tail of the admission queue.
func (p *Pool) touchQueueLocked(key Key) {
	p.removeFromQueueLocked(key)
	p.queue = append(p.queue, key)
}

// removeFromQueueLocked drops a key from the admission queue if present.
func (p *Pool) removeFromQueueLocked(key Key) {
	for i, k := range p.queue {
		if k == key {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}
