// Package worker runs admitted fetch jobs one at a time off the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/artifact"
	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// ArtifactManager owns fetched files until delivery is attempted.
type ArtifactManager interface {
	Deliver(ctx context.Context, a media.Artifact, fn artifact.DeliverFunc) error
	Discard(jobID string)
}

// Config controls Worker behavior.
type Config struct {
	Topic string
}

// Event is the payload published after every job.
type Event struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	RequesterID string `json:"requester_id"`
	Status      string `json:"status"`
	SizeBytes   int64  `json:"size_bytes"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Worker consumes queue items and executes fetch, delivery, and cleanup.
type Worker struct {
	queue     media.Queue
	fetcher   media.Fetcher
	artifacts ArtifactManager
	messenger media.Messenger
	publisher media.Publisher
	clock     media.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue media.Queue,
	fetcher media.Fetcher,
	artifacts ArtifactManager,
	messenger media.Messenger,
	publisher media.Publisher,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		fetcher:   fetcher,
		artifacts: artifacts,
		messenger: messenger,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed. A job that has been dequeued always runs to completion.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, media.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.Job.ID))
		<-item.Ticket.Released()
		w.processJob(context.WithoutCancel(ctx), item)
	}
}

func (w *Worker) processJob(ctx context.Context, item media.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	job := item.Job
	start := w.clock.Now()
	outcome := media.Outcome{JobID: job.ID, Status: media.JobStatusSucceeded}

	if err := w.runJob(ctx, job, &outcome); err != nil {
		outcome.Status = media.JobStatusFailed
		outcome.Err = err
		w.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Error(err))
	} else {
		w.logger.Info("job delivered",
			zap.String("job_id", job.ID),
			zap.String("user_id", job.RequesterID),
			zap.Int64("size_bytes", outcome.Artifact.SizeBytes),
		)
	}
	outcome.Finished = w.clock.Now()

	metrics.ObserveJob(string(outcome.Status), outcome.Finished.Sub(start), outcome.Artifact.SizeBytes)
	w.publishOutcome(ctx, job, outcome)
	item.Ticket.Resolve(outcome)
}

func (w *Worker) runJob(ctx context.Context, job media.FetchJob, outcome *media.Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.artifacts.Discard(job.ID)
			err = &media.FetchError{JobID: job.ID, Err: fmt.Errorf("fetch panicked: %v", r)}
		}
	}()

	if w.messenger != nil {
		if err := w.messenger.SendText(ctx, job.ChatID, "Downloading..."); err != nil {
			w.logger.Warn("progress notice failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	a, err := w.fetcher.Fetch(ctx, job)
	if err != nil {
		w.artifacts.Discard(job.ID)
		var fetchErr *media.FetchError
		if !errors.As(err, &fetchErr) {
			err = &media.FetchError{JobID: job.ID, Err: err}
		}
		return err
	}
	if a.OwningJob == "" {
		a.OwningJob = job.ID
	}
	outcome.Artifact = a
	// A fetch may leave more than the reported file under the job prefix.
	defer w.artifacts.Discard(job.ID)

	return w.artifacts.Deliver(ctx, a, func(ctx context.Context, a media.Artifact) error {
		return w.messenger.SendFile(ctx, job.ChatID, a.Path, job.Title)
	})
}

func (w *Worker) publishOutcome(ctx context.Context, job media.FetchJob, outcome media.Outcome) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := Event{
		JobID:       job.ID,
		URL:         job.URL,
		RequesterID: job.RequesterID,
		Status:      string(outcome.Status),
		SizeBytes:   outcome.Artifact.SizeBytes,
		Timestamp:   outcome.Finished.Format(time.RFC3339),
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("publish outcome failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Debug("outcome published", zap.String("job_id", job.ID), zap.String("message_id", id))
}
