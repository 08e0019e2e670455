package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Server runs the asynq worker inside the API process.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(opt asynq.RedisConnOpt, concurrency int, handler RedeliverHandler, logger *slog.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{NotificationsQ: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.WarnContext(ctx, "asynq task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskRedeliver, handler)
	return &Server{server: srv, mux: mux}
}

// Run blocks until ctx is cancelled, then shuts the worker down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
