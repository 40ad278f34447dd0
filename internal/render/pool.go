package render

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPoolDisabled is returned by NewPool for a non-positive size.
	ErrPoolDisabled = errors.New("render pool disabled")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("render pool closed")
)

// Pool bounds the number of renders running at once. Rendering is CPU and
// memory heavy (GIFs in particular), so requests queue for a slot instead of
// all decoding at the same time.
type Pool struct {
	sem chan struct{}

	mu        sync.Mutex
	closed    bool
	served    uint64
	failed    uint64
	createdAt time.Time
}

// Slot is a held render permit.
type Slot struct {
	acquiredAt time.Time
}

// Held is the time since the slot was acquired.
func (s *Slot) Held() time.Duration {
	return time.Since(s.acquiredAt)
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Enabled  bool      `json:"enabled"`
	Capacity int       `json:"capacity"`
	Idle     int       `json:"idle"`
	InUse    int       `json:"in_use"`
	Served   uint64    `json:"served"`
	Failed   uint64    `json:"failed"`
	Since    time.Time `json:"since"`
}

// NewPool returns a pool with size slots.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, ErrPoolDisabled
	}
	p := &Pool{sem: make(chan struct{}, size), createdAt: time.Now()}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	return p, nil
}

// Acquire waits for a free slot or for ctx to end.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.sem:
		return &Slot{acquiredAt: time.Now()}, nil
	}
}

// Release returns the slot and records the outcome of the render it guarded.
func (p *Pool) Release(s *Slot, renderErr error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if renderErr != nil {
		p.failed++
	} else {
		p.served++
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Stats reports capacity and current usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Stats{Served: p.served, Failed: p.failed, Since: p.createdAt}
	}
	idle := len(p.sem)
	return Stats{
		Enabled:  true,
		Capacity: cap(p.sem),
		Idle:     idle,
		InUse:    cap(p.sem) - idle,
		Served:   p.served,
		Failed:   p.failed,
		Since:    p.createdAt,
	}
}

// Close marks the pool closed; later Acquire calls fail. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
