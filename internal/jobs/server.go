package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/config"
)

// Server は asynq サーバーを包み、ワーカープールの起動・停止を担います。
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Logger
}

// NewServer はワーカープール用の asynq サーバーを構成します。
// 各ワーカーは一度に1ジョブだけを処理し、並列度は設定で決まります。
func NewServer(cfg *config.Config, worker *Worker, log *logrus.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if worker == nil {
		return nil, errors.New("worker is nil")
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			analysis.QueueAnalysis: 1,
		},
		RetryDelayFunc: RetryDelay(cfg.RetryBaseDelay),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			taskID, _ := asynq.GetTaskID(ctx)
			log.WithFields(logrus.Fields{"job_id": taskID, "task_type": task.Type()}).
				WithError(err).Warn("task handler returned error")
		}),
	})

	mux := asynq.NewServeMux()
	worker.Register(mux)

	return &Server{server: server, mux: mux, log: log}, nil
}

// Start はサーバーをバックグラウンドで起動します。
func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	s.log.Info("analysis worker pool started")
	return nil
}

// Run はサーバーを起動し、停止シグナルまでブロックします。
func (s *Server) Run() error {
	if err := s.server.Run(s.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown はサーバーを停止します。実行中のジョブは再配達されます。
func (s *Server) Shutdown() {
	s.server.Shutdown()
}
