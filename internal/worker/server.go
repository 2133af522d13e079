package worker

import (
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tunesmith/api/internal/config"
)

// NewServer builds the asynq server consuming work notifications. Tasks
// are not retried by asynq: each notification is a single claim attempt
// and job-level failure handling lives in the processors.
func NewServer(cfg *config.Config, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Logger:      &asynqLogger{logger: logger.With("component", "asynq")},
		},
	)
}

// asynqLogger adapts slog to asynq's logger interface.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error(sprint(args...)) }

func sprint(args ...interface{}) string { return fmt.Sprint(args...) }
