package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	ackTimeout     = 5 * time.Second
	receiveBackoff = time.Second
)

// Runner executes one ingestion job to a terminal status.
type Runner interface {
	Run(ctx context.Context, job queue.Job) (models.Status, error)
}

// Worker consumes ingestion jobs one at a time.
type Worker struct {
	Queue  queue.Consumer
	Runner Runner
}

func New(q queue.Consumer, r Runner) *Worker {
	return &Worker{Queue: q, Runner: r}
}

// Run blocks until ctx is done. A job in flight when ctx is cancelled fails
// through its own blocking calls and is still acknowledged.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("worker started")
	for {
		d, err := w.Queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("worker stopped")
				return nil
			}
			log.Error().Err(err).Msg("receive failed")
			select {
			case <-time.After(receiveBackoff):
				continue
			case <-ctx.Done():
				log.Info().Msg("worker stopped")
				return nil
			}
		}
		w.Handle(ctx, d)
	}
}

// Handle processes a single delivery and acknowledges it. Undecodable
// deliveries are dropped.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) {
	if d.Err != nil {
		log.Warn().Err(d.Err).Msg("dropping invalid ingestion job")
		w.ack(ctx, d)
		return
	}

	logger := log.With().Str("project_id", d.Job.ProjectID).Str("repo_url", d.Job.RepoURL).Logger()
	start := time.Now()
	status, err := w.Runner.Run(ctx, d.Job)
	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Dur("dur", time.Since(start)).Msg("job finished with error")
	} else {
		logger.Info().Str("status", string(status)).Dur("dur", time.Since(start)).Msg("job finished")
	}
	w.ack(ctx, d)
}

func (w *Worker) ack(ctx context.Context, d queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := w.Queue.Ack(ctx, d); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge job")
	}
}
