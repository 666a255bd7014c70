package engine

import (
	"context"
	"sync"
	"time"
)

// pageAuthPoll is the interval at which a blocked acquirer re-checks the
// flag, mirroring the cooperative busy-wait of the page-auth protocol.
const pageAuthPoll = 750 * time.Millisecond

// PageAuth is the cooperative non-reentrant mutex that keeps navigation
// handlers from racing the in-flight task's page input. Acquirers poll
// rather than park so a handler abandoned mid-section cannot deadlock a
// waiter holding no other resources.
type PageAuth struct {
	mu   sync.Mutex
	held bool
}

// Lock waits until the flag clears, then takes it. It honors ctx.
func (p *PageAuth) Lock(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.held {
			p.held = true
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pageAuthPoll):
		}
	}
}

// TryLock takes the flag iff it is clear.
func (p *PageAuth) TryLock() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held {
		return false
	}
	p.held = true
	return true
}

// Unlock clears the flag. Must be called on all exit paths of the
// critical section.
func (p *PageAuth) Unlock() {
	p.mu.Lock()
	p.held = false
	p.mu.Unlock()
}

// Held reports the current flag state, for status introspection.
func (p *PageAuth) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}
