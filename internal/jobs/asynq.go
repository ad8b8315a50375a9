package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/abhisek/mathbuddy/internal/logger"
)

// Queue is a Runner backed by Redis through asynq, for deployments that run
// more than one API replica.
type Queue struct {
	log    *logger.Logger
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewQueue(redisURL string, concurrency int, log *logger.Logger) (*Queue, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	serviceLog := log.With("service", "JobQueue")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 3, // stats recomputation
			"low":     1, // behavior events
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			serviceLog.Warn("job failed", "type", task.Type(), "error", err)
		}),
		Logger: &asynqLogger{log: serviceLog},
	})

	return &Queue{
		log:    serviceLog,
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
	}, nil
}

func (q *Queue) Handle(taskType string, h HandlerFunc) {
	q.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, b), taskOptions(taskType)...)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}
	q.log.Debug("queued job", "id", info.ID, "type", taskType, "queue", info.Queue)
	return nil
}

// Run processes tasks until ctx is cancelled, then shuts the server down.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("starting job queue worker")
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("start job server: %w", err)
	}
	<-ctx.Done()
	q.log.Info("stopping job queue")
	q.server.Shutdown()
	return q.client.Close()
}

func taskOptions(taskType string) []asynq.Option {
	switch taskType {
	case TypeStatsRecompute:
		return []asynq.Option{asynq.Queue("default"), asynq.MaxRetry(3), asynq.Timeout(60 * time.Second)}
	default:
		return []asynq.Option{asynq.Queue("low"), asynq.MaxRetry(2), asynq.Timeout(30 * time.Second)}
	}
}

// asynqLogger routes asynq's internal logging through zap.
type asynqLogger struct {
	log *logger.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
