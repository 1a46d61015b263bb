package sandbox

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("sandbox pool is closed")

// Pool keeps warm runtimes so a page load does not pay for VM setup.
// Acquire never blocks: an empty pool builds a new runtime.
type Pool struct {
	config Config
	idle   chan *Runtime
	size   int
	built  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// PoolStats describes the pool at one instant.
type PoolStats struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	Built     int64 `json:"built"`
	Closed    bool  `json:"closed"`
}

// NewPool prewarms size runtimes (4 when size is not positive).
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	p := &Pool{
		config: config,
		idle:   make(chan *Runtime, size),
		size:   size,
	}
	for i := 0; i < size; i++ {
		rt, err := p.build()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.idle <- rt
	}
	return p, nil
}

func (p *Pool) build() (*Runtime, error) {
	rt, err := New(p.config)
	if err != nil {
		return nil, err
	}
	p.built.Add(1)
	return rt, nil
}

// Acquire takes a warm runtime or builds one.
func (p *Pool) Acquire() (*Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case rt := <-p.idle:
		return rt, nil
	default:
		return p.build()
	}
}

// Release resets rt and keeps it warm, or closes it when the pool is full
// or already closed. A page's globals never survive into the next page.
func (p *Pool) Release(rt *Runtime) error {
	if rt == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return rt.Close()
	}

	if err := rt.Reset(); err != nil {
		_ = rt.Close()
		return err
	}
	select {
	case p.idle <- rt:
		return nil
	default:
		return rt.Close()
	}
}

// Close closes every idle runtime. Runtimes still held by surfaces are
// closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)

	var errs []error
	for rt := range p.idle {
		if err := rt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats reports pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PoolStats{
		Size:      p.size,
		Available: len(p.idle),
		Built:     p.built.Load(),
		Closed:    p.closed,
	}
}
