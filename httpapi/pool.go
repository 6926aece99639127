// Package httpapi implements the HTTP request façade in front of the LSM
// coordinator: three CRUD verbs plus liveness and metrics endpoints.
package httpapi

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// dispatcher runs handler bodies on a bounded goroutine pool so that a
// blocking Insert/Get/Delete call never occupies the server's own
// accept-loop goroutine. Unlike the per-database round-robin scheduler
// a sibling project builds on top of ants, the façade has no notion of
// multiple databases to fan out across, so this is a plain
// submit-and-block wrapper: run blocks the calling goroutine (the HTTP
// handler) until the submitted work has completed.
type dispatcher struct {
	pool *ants.Pool
}

// newDispatcher builds a dispatcher backed by a fixed-size ants pool.
// In ants a size <= 0 means an unbounded pool, which is never what callers
// want for a store fronting disk I/O, so a non-positive size is rejected.
func newDispatcher(size int) (*dispatcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("httpapi: dispatcher pool size must be positive, got %d", size)
	}
	pool, err := ants.NewPool(size, ants.WithPreAlloc(false), ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("httpapi: creating worker pool: %w", err)
	}
	return &dispatcher{pool: pool}, nil
}

// run submits fn to the pool and blocks until it has finished, returning
// any error fn produced. Submission itself only fails if the pool has
// already been released.
func (d *dispatcher) run(fn func() error) error {
	done := make(chan error, 1)
	err := d.pool.Submit(func() {
		done <- fn()
	})
	if err != nil {
		return fmt.Errorf("httpapi: submitting to worker pool: %w", err)
	}
	return <-done
}

// release tears down the underlying ants pool, waiting for in-flight work
// to drain.
func (d *dispatcher) release() {
	d.pool.Release()
}
