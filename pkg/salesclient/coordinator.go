package salesclient

import (
	"context"
	"sync"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

// DefaultQuietPeriod is how long the coordinator waits for the viewport to
// settle before issuing a fetch.
const DefaultQuietPeriod = 250 * time.Millisecond

// Fetcher issues viewport searches. *Client satisfies it.
type Fetcher interface {
	SearchViewport(ctx context.Context, box geo.BBox, filters SearchFilters) ([]domain.Sale, error)
}

// ResolveFunc receives the result of the fetch that survived debouncing.
type ResolveFunc func(sales []domain.Sale, err error)

// Coordinator serializes viewport fetches for a map that pans and zooms
// faster than the network. Each Request cancels whatever fetch is still in
// flight, waits out a quiet period, then issues at most one SearchViewport
// call. Results from superseded requests are dropped, so the resolve
// callback only ever sees the latest viewport.
type Coordinator struct {
	fetcher Fetcher
	quiet   time.Duration

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool

	root       context.Context
	rootCancel context.CancelFunc
}

// NewCoordinator builds a coordinator around a fetcher. A non-positive
// quiet period falls back to DefaultQuietPeriod.
func NewCoordinator(fetcher Fetcher, quiet time.Duration) *Coordinator {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	root, rootCancel := context.WithCancel(context.Background())
	return &Coordinator{
		fetcher:    fetcher,
		quiet:      quiet,
		root:       root,
		rootCancel: rootCancel,
	}
}

// Request schedules a fetch for the given viewport, superseding any request
// still debouncing or in flight. resolve runs on the coordinator's goroutine
// once the fetch finishes, and only if no newer request arrived meanwhile.
func (c *Coordinator) Request(box geo.BBox, filters SearchFilters, resolve ResolveFunc) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.root)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, gen, box, filters, resolve)
}

func (c *Coordinator) run(ctx context.Context, gen uint64, box geo.BBox, filters SearchFilters, resolve ResolveFunc) {
	timer := time.NewTimer(c.quiet)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	sales, err := c.fetcher.SearchViewport(ctx, box, filters)
	if ctx.Err() != nil {
		// Superseded or closed while the fetch was running. Whatever came
		// back describes a viewport the map has already left.
		return
	}
	if !c.current(gen) {
		return
	}
	if resolve != nil {
		resolve(sales, err)
	}
}

func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

// Close cancels any in-flight fetch and drops all future requests.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.rootCancel()
}
