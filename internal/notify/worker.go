package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Worker wraps the Asynq server consuming notification tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) *Worker {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeNotify, handleNotifyTask(cfg.Logger))
	return &Worker{server: srv, mux: mux, logger: cfg.Logger}
}

// Run starts the server and blocks until shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the server gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func handleNotifyTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload Payload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		// Delivery transport (SMTP/webhook) is a deployment concern; the
		// structured log keeps the trail when no transport is configured.
		logger.Info("notification dispatched",
			slog.String("type", payload.Event.Type),
			slog.String("title", payload.Event.Title),
			slog.String("reference_id", payload.Event.ReferenceID),
			slog.Int("recipients", len(payload.Recipients)),
		)
		return nil
	}
}
