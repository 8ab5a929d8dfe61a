// Package admission implements the weighted concurrency limiter bounding how
// many orchestration workflows run at once system-wide. It is the only
// cross-workflow-instance backpressure mechanism in the system.
package admission

import (
	"context"
	"sync"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// DefaultPool is the pool workflows are admitted through unless configured
// otherwise.
const DefaultPool = "default"

// pool is one named capacity pool. held never exceeds capacity.
type pool struct {
	capacity int
	held     int
	cond     *sync.Cond
}

// Gate is a set of named weighted pools constructed from configuration at
// process bootstrap. Each workflow type carries a fixed weight; acquisition
// happens once at workflow entry and release is guaranteed via Do's deferred
// release, so a failure inside the workflow body cannot leak capacity.
type Gate struct {
	mu    sync.Mutex
	pools map[string]*pool
}

// NewGate constructs a Gate with the configured pools.
func NewGate(cfg config.AdmissionConfig) *Gate {
	g := &Gate{pools: make(map[string]*pool)}
	for _, pc := range cfg.Pools {
		p := &pool{capacity: pc.Capacity}
		p.cond = sync.NewCond(&g.mu)
		g.pools[pc.Name] = p
	}
	return g
}

func (g *Gate) poolByName(name string) (*pool, error) {
	p, ok := g.pools[name]
	if !ok {
		return nil, exception.NewOrchestrationErrorf("admission", "admission pool '%s' is not configured", name)
	}
	return p, nil
}

// Acquire blocks until weight units of capacity are free in the named pool,
// then reserves them. It returns early if the context is cancelled, and
// ErrPoolCapacityExceeded if the weight can never fit.
func (g *Gate) Acquire(ctx context.Context, poolName string, weight int) error {
	g.mu.Lock()
	p, err := g.poolByName(poolName)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if weight > p.capacity {
		g.mu.Unlock()
		return exception.ErrPoolCapacityExceeded
	}

	// Wake waiters on cancellation so the cond wait below can observe it.
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		p.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	for p.held+weight > p.capacity {
		if ctx.Err() != nil {
			g.mu.Unlock()
			return ctx.Err()
		}
		p.cond.Wait()
	}
	p.held += weight
	logger.Debugf("AdmissionGate: acquired %d from pool '%s' (%d/%d held).", weight, poolName, p.held, p.capacity)
	g.mu.Unlock()
	return nil
}

// Release returns weight units of capacity to the named pool.
func (g *Gate) Release(poolName string, weight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pools[poolName]
	if !ok {
		logger.Warnf("AdmissionGate: release on unknown pool '%s' ignored.", poolName)
		return
	}
	p.held -= weight
	if p.held < 0 {
		logger.Warnf("AdmissionGate: pool '%s' released below zero; clamping.", poolName)
		p.held = 0
	}
	p.cond.Broadcast()
}

// Held reports the currently reserved weight in the named pool.
func (g *Gate) Held(poolName string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pools[poolName]; ok {
		return p.held
	}
	return 0
}

// Do acquires, runs fn, and releases on every exit path including panics.
func (g *Gate) Do(ctx context.Context, poolName string, weight int, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx, poolName, weight); err != nil {
		return err
	}
	defer g.Release(poolName, weight)
	return fn(ctx)
}
