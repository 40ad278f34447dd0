package render

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewPool_Disabled(t *testing.T) {
	if _, err := NewPool(0); !errors.Is(err, ErrPoolDisabled) {
		t.Fatalf("expected disabled pool error, got %v", err)
	}
}

func TestPoolAcquireReleaseAndClose(t *testing.T) {
	p, err := NewPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	slot, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected acquire success, got %v", err)
	}
	if slot == nil {
		t.Fatalf("expected non-nil slot")
	}
	if len(p.sem) != 0 {
		t.Fatalf("expected token consumed after acquire")
	}
	if slot.Held() < 0 {
		t.Fatalf("held duration must not be negative")
	}

	p.Release(slot, nil)
	if len(p.sem) != 1 {
		t.Fatalf("expected token returned after release")
	}

	p.Close()
	p.Close() // idempotent
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected acquire to fail when pool is closed, got %v", err)
	}
}

func TestPoolAcquireContextCanceled(t *testing.T) {
	p := &Pool{sem: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPoolAcquireTimesOutWhenNoCapacity(t *testing.T) {
	p, _ := NewPool(1)
	held, _ := p.Acquire(context.Background())
	defer p.Release(held, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire deadline exceeded, got %v", err)
	}
}

func TestPoolStats(t *testing.T) {
	p, _ := NewPool(2)

	st := p.Stats()
	if !st.Enabled || st.Capacity != 2 || st.Idle != 2 || st.InUse != 0 {
		t.Fatalf("unexpected stats before acquire: %+v", st)
	}

	a, _ := p.Acquire(context.Background())
	st = p.Stats()
	if st.InUse != 1 {
		t.Fatalf("expected one in use, got %+v", st)
	}
	p.Release(a, errors.New("boom"))
	b, _ := p.Acquire(context.Background())
	p.Release(b, nil)
	p.Release(nil, nil)

	st = p.Stats()
	if st.Served != 1 || st.Failed != 1 || st.Idle != 2 {
		t.Fatalf("unexpected counters: %+v", st)
	}

	p.Close()
	if p.Stats().Enabled {
		t.Fatalf("expected stats disabled after close")
	}
}
