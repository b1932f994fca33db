// Package flush implements the Background Flusher: a fixed-size worker
// pool draining a bounded job queue, with submission blocking once the
// queue is full. Callers identify jobs by a column key so at most one
// flush per column is ever in flight; later triggers for a column already
// flushing are dropped rather than queued.
package flush

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers and DefaultQueueSize match the engine's stated defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 200
)

type job struct {
	col string
	run func()
}

// Pool is a fixed-size worker pool over a bounded job queue.
type Pool struct {
	jobs chan job

	inFlight sync.Map // col string -> struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool starts workers goroutines draining a queue of size queueSize.
// Call Close to stop the pool once no more jobs will be submitted.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &Pool{jobs: make(chan job, queueSize), group: g, cancel: cancel}

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j, ok := <-p.jobs:
					if !ok {
						return nil
					}
					j.run()
					p.inFlight.Delete(j.col)
				}
			}
		})
	}
	return p
}

// Submit enqueues a flush job for col, blocking if the queue is full. If a
// flush for col is already enqueued or running, the submission is dropped
// rather than queued behind it.
func (p *Pool) Submit(col string, run func()) {
	if _, already := p.inFlight.LoadOrStore(col, struct{}{}); already {
		return
	}
	p.jobs <- job{col: col, run: run}
}

// Close stops accepting new jobs and waits for in-flight workers to drain.
func (p *Pool) Close() error {
	close(p.jobs)
	err := p.group.Wait()
	p.cancel()
	return err
}

// InlineFlusher runs every submitted job synchronously on the calling
// goroutine, for tests that need deterministic flush timing.
type InlineFlusher struct{}

func (InlineFlusher) Submit(_ string, run func()) { run() }
