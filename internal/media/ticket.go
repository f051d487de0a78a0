package media

import (
	"sync"
)

var releasedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Ticket is the completion handle returned when a job is enqueued. It is
// resolved exactly once by the worker that ran the job.
type Ticket struct {
	jobID    string
	done     chan struct{}
	once     sync.Once
	outcome  Outcome
	released chan struct{}
	release  sync.Once
}

// NewTicket creates an unresolved ticket for jobID whose job may start at once.
func NewTicket(jobID string) *Ticket {
	t := NewHeldTicket(jobID)
	t.Release()
	return t
}

// NewHeldTicket creates a ticket whose job must not start until Release is
// called, so the submitter can speak to the requester first.
func NewHeldTicket(jobID string) *Ticket {
	return &Ticket{
		jobID:    jobID,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
}

// JobID returns the job the ticket tracks.
func (t *Ticket) JobID() string {
	return t.jobID
}

// Release lets a worker start the job. Later calls are ignored.
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.release.Do(func() {
		close(t.released)
	})
}

// Released is closed once the job may start.
func (t *Ticket) Released() <-chan struct{} {
	if t == nil {
		return releasedChan
	}
	return t.released
}

// Done is closed once the job reached a terminal outcome.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the terminal outcome. It is only meaningful after Done is closed.
func (t *Ticket) Outcome() Outcome {
	<-t.done
	return t.outcome
}

// Resolve records the terminal outcome. Later calls are ignored.
func (t *Ticket) Resolve(outcome Outcome) {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.outcome = outcome
		close(t.done)
	})
}
