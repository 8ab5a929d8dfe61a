package admission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
)

func newTestGate(capacity int) *admission.Gate {
	return admission.NewGate(config.AdmissionConfig{
		Pools: []config.PoolConfig{{Name: admission.DefaultPool, Capacity: capacity}},
	})
}

func TestGate_AcquireRelease(t *testing.T) {
	g := newTestGate(4)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, admission.DefaultPool, 3))
	assert.Equal(t, 3, g.Held(admission.DefaultPool))

	g.Release(admission.DefaultPool, 3)
	assert.Equal(t, 0, g.Held(admission.DefaultPool))
}

func TestGate_WeightExceedsCapacity(t *testing.T) {
	g := newTestGate(2)
	err := g.Acquire(context.Background(), admission.DefaultPool, 3)
	assert.ErrorIs(t, err, exception.ErrPoolCapacityExceeded)
}

func TestGate_UnknownPool(t *testing.T) {
	g := newTestGate(2)
	err := g.Acquire(context.Background(), "nope", 1)
	assert.Error(t, err)
}

func TestGate_BlocksUntilReleased(t *testing.T) {
	g := newTestGate(2)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, admission.DefaultPool, 2))

	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx, admission.DefaultPool, 1); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release(admission.DefaultPool, 2)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestGate_AcquireCancelled(t *testing.T) {
	g := newTestGate(1)
	require.NoError(t, g.Acquire(context.Background(), admission.DefaultPool, 1))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Acquire(ctx, admission.DefaultPool, 1)
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
}

func TestGate_DoReleasesOnError(t *testing.T) {
	g := newTestGate(2)
	wantErr := errors.New("workflow failed")

	err := g.Do(context.Background(), admission.DefaultPool, 2, func(ctx context.Context) error {
		assert.Equal(t, 2, g.Held(admission.DefaultPool))
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, g.Held(admission.DefaultPool), "capacity must not leak on error")
}

func TestGate_ConcurrentDoNeverOvershoots(t *testing.T) {
	g := newTestGate(3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), admission.DefaultPool, 1, func(ctx context.Context) error {
				held := g.Held(admission.DefaultPool)
				assert.LessOrEqual(t, held, 3)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, g.Held(admission.DefaultPool))
}
