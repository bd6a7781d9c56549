// internal/chaos/faults.go
package chaos

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"bookrental/internal/store"
)

// ErrInjected is the cause of every fault FaultyDB injects.
var ErrInjected = errors.New("injected fault")

// FaultyDB wraps a storage backend and injects latency and failures into
// its units of work and health checks. With no faults set it is a
// transparent pass-through.
type FaultyDB struct {
	store.DB

	mu          sync.RWMutex
	latency     time.Duration
	failureRate float64
}

func NewFaultyDB(db store.DB) *FaultyDB {
	return &FaultyDB{DB: db}
}

// SetLatency delays every unit of work by d.
func (f *FaultyDB) SetLatency(d time.Duration) {
	f.mu.Lock()
	f.latency = d
	f.mu.Unlock()
}

// SetFailureRate makes a fraction p (0..1) of units of work fail with a
// storage fault before they touch the backend.
func (f *FaultyDB) SetFailureRate(p float64) {
	f.mu.Lock()
	f.failureRate = min(max(p, 0), 1)
	f.mu.Unlock()
}

// Heal removes every injected fault.
func (f *FaultyDB) Heal() {
	f.mu.Lock()
	f.latency, f.failureRate = 0, 0
	f.mu.Unlock()
}

func (f *FaultyDB) inject(ctx context.Context, op string) error {
	f.mu.RLock()
	latency, rate := f.latency, f.failureRate
	f.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return store.Fault(op, ctx.Err())
		case <-t.C:
		}
	}
	if rate > 0 && rand.Float64() < rate {
		return store.Fault(op, ErrInjected)
	}
	return nil
}

func (f *FaultyDB) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := f.inject(ctx, "chaos.tx"); err != nil {
		return err
	}
	return f.DB.InTx(ctx, fn)
}

func (f *FaultyDB) Ping(ctx context.Context) error {
	if err := f.inject(ctx, "chaos.ping"); err != nil {
		return err
	}
	return f.DB.Ping(ctx)
}
