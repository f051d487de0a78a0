// Package dispatcher owns the fetch queue and the small, fixed worker pool
// draining it.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   media.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue media.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// in-flight job has completed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue appends job to the queue and returns its completion handle. It
// never waits for the job itself. The ticket is held: no worker starts the
// job until the caller releases it.
func (d *Dispatcher) Enqueue(ctx context.Context, job media.FetchJob) (*media.Ticket, error) {
	ticket := media.NewHeldTicket(job.ID)
	if err := d.queue.Enqueue(ctx, media.QueueItem{Job: job, Ticket: ticket}); err != nil {
		return nil, fmt.Errorf("queue enqueue: %w", err)
	}
	return ticket, nil
}

// Drain resolves every job still waiting in a closed queue as failed with
// cause, so callers holding tickets are not left waiting. It returns the
// number of jobs resolved.
func (d *Dispatcher) Drain(ctx context.Context, cause error) int {
	drained := 0
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			return drained
		}
		item.Ticket.Resolve(media.Outcome{
			JobID:  item.Job.ID,
			Status: media.JobStatusFailed,
			Err:    &media.FetchError{JobID: item.Job.ID, Err: cause},
		})
		drained++
	}
}
