package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"browserd/internal/adapters"
	"browserd/internal/config"
)

// Pool owns the worker set and the dispatch strategy. Worker order is
// configuration order; strategies permute it per request without ever
// mutating the base slice.
type Pool struct {
	strategy string
	workers  []*Worker
	rr       uint64
	log      zerolog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewPool wires the configured workers under the given strategy. seed
// feeds the random strategy; tests pin it for determinism.
func NewPool(strategy string, workers []*Worker, seed int64, log zerolog.Logger) *Pool {
	if strategy == "" {
		strategy = config.DefaultStrategy
	}
	return &Pool{
		strategy: strategy,
		workers:  workers,
		log:      log.With().Str("module", "pool").Logger(),
		rand:     rand.New(rand.NewSource(seed)),
	}
}

func (p *Pool) Strategy() string { return p.strategy }

// Workers returns the pool's workers in configuration order.
func (p *Pool) Workers() []*Worker { return append([]*Worker(nil), p.workers...) }

// Size is the worker count, the basis of the admission capacity bound.
func (p *Pool) Size() int { return len(p.workers) }

// BusyCount reports how many workers currently hold a task.
func (p *Pool) BusyCount() int {
	n := 0
	for _, w := range p.workers {
		if w.Busy() {
			n++
		}
	}
	return n
}

// SupportsModel reports whether any pool worker serves key.
func (p *Pool) SupportsModel(key string) bool {
	for _, w := range p.workers {
		if w.Supports(key) {
			return true
		}
	}
	return false
}

// Candidates builds the ordered failover list for key, filtered by the
// request's image shape. A request carrying images needs a worker whose
// policy admits them; a bare-text request must not land on a worker
// whose only route for key requires images.
func (p *Pool) Candidates(key string, hasImages bool) []Candidate {
	eligible := p.eligible(key, hasImages)
	if len(eligible) == 0 {
		return nil
	}
	ordered := p.order(eligible)
	out := make([]Candidate, len(ordered))
	for i, w := range ordered {
		out[i] = Candidate{Worker: w, ModelKey: key}
	}
	return out
}

func (p *Pool) eligible(key string, hasImages bool) []*Worker {
	var out []*Worker
	for _, w := range p.workers {
		if !w.Supports(key) {
			continue
		}
		pol := w.ImagePolicy(key)
		if hasImages && pol == adapters.ImagesForbidden {
			continue
		}
		if !hasImages && pol == adapters.ImagesRequired {
			continue
		}
		out = append(out, w)
	}
	return out
}

// order applies the strategy to the eligible slice. least_busy is a
// stable partition (idle first) preserving configuration order within
// each class; round_robin rotates the start point; random shuffles.
func (p *Pool) order(ws []*Worker) []*Worker {
	switch p.strategy {
	case "round_robin":
		n := len(ws)
		start := int(atomic.AddUint64(&p.rr, 1)-1) % n
		out := make([]*Worker, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, ws[(start+i)%n])
		}
		return out
	case "random":
		out := append([]*Worker(nil), ws...)
		p.randMu.Lock()
		p.rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		p.randMu.Unlock()
		return out
	default: // least_busy
		out := make([]*Worker, 0, len(ws))
		var busy []*Worker
		for _, w := range ws {
			if w.Busy() {
				busy = append(busy, w)
			} else {
				out = append(out, w)
			}
		}
		return append(out, busy...)
	}
}

// Reserve picks the first idle candidate for key and takes its busy
// flag. ok is false when every eligible worker is occupied; the caller
// queues and retries on the next release.
func (p *Pool) Reserve(key string, hasImages bool) (*Worker, bool) {
	for _, c := range p.Candidates(key, hasImages) {
		if c.Worker.TryReserve() {
			return c.Worker, true
		}
	}
	return nil, false
}

// String implements fmt.Stringer for startup logging.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(strategy=%s workers=%d)", p.strategy, len(p.workers))
}
