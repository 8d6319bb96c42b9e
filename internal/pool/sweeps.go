package pool

import (
	"context"
	"time"

	"github.com/HimanshuParihar99/Inboxly/internal/imap"
)

// Start launches the health check and idle cleanup sweeps. Both stop when
// the context is canceled.
func (p *Pool) Start(ctx context.Context) {
	go p.healthLoop(ctx)
	go p.idleLoop(ctx)
}

func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.healthSweep(ctx)
		}
	}
}

// healthSweep verifies liveness of every entry not in error or connecting
// state and reconnects the ones whose session no longer answers. Failures
// are logged, never surfaced to callers.
func (p *Pool) healthSweep(ctx context.Context) {
	type candidate struct {
		e       *entry
		state   State
		session imap.Session
	}

	p.mu.Lock()
	candidates := make([]candidate, 0, len(p.entries))
	for _, e := range p.entries {
		if e.state == StateError || e.state == StateConnecting {
			continue
		}
		candidates = append(candidates, candidate{e: e, state: e.state, session: e.session})
	}
	p.mu.Unlock()

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		e := c.e

		needsReconnect := c.state == StateDisconnected || c.session == nil
		if !needsReconnect {
			if err := c.session.Noop(); err != nil {
				p.logger.WithError(err).WithField("connection", e.key.String()).Warn("Health check failed")
				needsReconnect = true
			}
		}
		if !needsReconnect {
			continue
		}

		p.mu.Lock()
		if p.entries[e.key] != e || e.state == StateConnecting {
			p.mu.Unlock()
			continue
		}
		e.state = StateConnecting
		e.settled = make(chan struct{})
		p.mu.Unlock()

		if err := p.connectWithRetry(ctx, e); err != nil {
			p.logger.WithError(err).WithField("connection", e.key.String()).Warn("Health check reconnect failed")
		}
	}
}

func (p *Pool) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.idleSweep()
		}
	}
}

// idleSweep force-closes every entry idle longer than the timeout,
// regardless of connection count.
func (p *Pool) idleSweep() {
	now := time.Now()

	p.mu.Lock()
	for key, e := range p.entries {
		if e.state == StateConnecting {
			continue
		}
		if now.Sub(e.lastActivity) > p.opts.IdleTimeout {
			p.removeLocked(key, "closed idle connection")
		}
	}
	p.mu.Unlock()
}
