package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/openctemio/membership/internal/config"
	"github.com/openctemio/membership/pkg/logger"
)

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a new background job worker delivering mail through sender.
func NewWorker(redisCfg *config.RedisConfig, cfg config.WorkerConfig, sender MailSender, log *logger.Logger) *Worker {
	server := asynq.NewServer(
		RedisOpt(redisCfg),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueMail: 5,
				"default": 1,
			},
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
	)

	mux := asynq.NewServeMux()
	NewMailTaskHandler(sender, NewMailLimiter(cfg), log).RegisterHandlers(mux)

	return &Worker{
		server: server,
		mux:    mux,
		logger: log.With("component", "job_worker"),
	}
}

// NewMailLimiter builds the outgoing mail limiter. A non-positive rate
// disables throttling.
func NewMailLimiter(cfg config.WorkerConfig) *rate.Limiter {
	if cfg.EmailRatePerSecond <= 0 {
		return nil
	}
	burst := cfg.EmailBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.EmailRatePerSecond), burst)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
