package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/config"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

// Worker はキューから分析ジョブを受け取り実行する処理単位です。
// ブローカーは at-least-once 配達のため、すべての書き込みは
// 状態ガードと試行番号の比較で冪等になっています。
type Worker struct {
	cfg      *config.Config
	registry Registry
	reports  *reports.Store
	analyzer analysis.Analyzer
	log      *logrus.Logger
	name     string
}

// NewWorker は Worker を作成します。
func NewWorker(cfg *config.Config, registry Registry, reportStore *reports.Store, analyzer analysis.Analyzer, log *logrus.Logger) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if reportStore == nil {
		return nil, errors.New("report store is nil")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is nil")
	}
	if log == nil {
		log = logrus.New()
	}
	hostname, _ := os.Hostname()
	return &Worker{
		cfg:      cfg,
		registry: registry,
		reports:  reportStore,
		analyzer: analyzer,
		log:      log,
		name:     fmt.Sprintf("%s.%d", hostname, os.Getpid()),
	}, nil
}

// Register はタスクハンドラーを mux に登録します。
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeAnalysis, w.HandleAnalysisTask)
}

// HandleAnalysisTask は asynq からの配達を受け取るハンドラーです。
func (w *Worker) HandleAnalysisTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" || payload.ReportID == "" {
		return fmt.Errorf("task payload missing ids: %w", asynq.SkipRetry)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return w.Process(ctx, &payload, attempt, maxRetry)
}

// Process は1回の配達を処理します。attempt は0始まりの試行番号、
// maxRetry は初回実行を除く再試行回数の上限です。
func (w *Worker) Process(ctx context.Context, payload *TaskPayload, attempt, maxRetry int) error {
	log := w.log.WithFields(logrus.Fields{
		"job_id":    payload.JobID,
		"report_id": payload.ReportID,
		"type":      payload.Type,
		"attempt":   attempt,
		"worker":    w.name,
	})

	// 再配達ガード: すでに決着済みのジョブは実際の処理をせずに応答する。
	// 外部APIの二重呼び出しのような副作用の重複を避けるため必須。
	if done, err := w.shortCircuit(ctx, payload, log); done || err != nil {
		return err
	}

	if _, err := w.registry.Transition(ctx, payload.JobID, attempt, StatusInProgress, func(r *Record) {
		r.Worker = w.name
		r.Progress = ProgressInfo{Percent: ProgressIndeterminate, Message: "Analysis started"}
		r.Error = nil
	}); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleWrite) {
			// 別の配達が先行した。こちらの書き込みは破棄して決着を譲る。
			log.WithError(err).Warn("dropping superseded delivery")
			return nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return err
		}
		// レジストリから失効していてもレポート側の処理は続行できる
		log.Warn("registry record expired before pickup")
	}
	if err := w.reports.MarkInProgress(ctx, payload.ReportID, "Analysis in progress..."); err != nil {
		log.WithError(err).Warn("failed to mark report in progress")
	}

	log.Info("analysis job started")

	resultText, runErr := w.runAnalysis(ctx, payload, attempt)

	// 決着の書き込みは配達コンテキストの失効に巻き込まれないようにする
	settleCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		return w.finish(settleCtx, payload, attempt, maxRetry, resultText, log)
	}
	if errors.Is(runErr, ErrJobCancelled) || w.cancelled(settleCtx, payload.JobID) {
		return w.acknowledgeCancel(settleCtx, payload, log)
	}
	if errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() != nil {
		// ハードリミット到達。再試行せず失敗として確定する。
		w.fail(settleCtx, payload, attempt, "Analysis exceeded the hard time limit", log)
		return fmt.Errorf("hard time limit exceeded: %w", asynq.SkipRetry)
	}
	return w.retryOrFail(settleCtx, payload, attempt, maxRetry, runErr, log)
}

// runAnalysis はソフトリミット付きで分析本体を実行します。
// 進捗チェックポイントがキャンセル検知を兼ねます。
func (w *Worker) runAnalysis(ctx context.Context, payload *TaskPayload, attempt int) (string, error) {
	softCtx, cancelSoft := context.WithTimeout(ctx, w.cfg.SoftTimeLimit)
	defer cancelSoft()

	checkpoint := func(percent int, message string) error {
		_, err := w.registry.Checkpoint(ctx, payload.JobID, attempt, ProgressInfo{
			Percent: percent,
			Message: message,
		})
		if errors.Is(err, ErrJobCancelled) {
			return err
		}
		// チェックポイントの失敗で分析は止めない
		return nil
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := w.analyzer.Analyze(softCtx, &analysis.Request{
			Type:     payload.Type,
			Query:    payload.Query,
			FilePath: payload.FilePath,
			FileName: payload.FileName,
		}, checkpoint)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		// ハードリミット到達か明示キャンセル。ジョブを放棄する。
		cancelSoft()
		return "", ctx.Err()
	}
}

// shortCircuit は決着済みジョブの再配達を検知します。
func (w *Worker) shortCircuit(ctx context.Context, payload *TaskPayload, log *logrus.Entry) (bool, error) {
	record, err := w.registry.Get(ctx, payload.JobID)
	if err == nil {
		if record.Status == StatusCancelled {
			log.Info("skipping cancelled job")
			return true, w.acknowledgeCancel(ctx, payload, log)
		}
		if record.Status.Terminal() {
			log.Info("skipping already finished job")
			return true, nil
		}
		return false, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return false, err
	}

	// レジストリが失効していてもレポートが終端ならやり直さない
	report, reportErr := w.reports.GetAny(ctx, payload.ReportID)
	if reportErr == nil && report.Status.Terminal() {
		log.Info("skipping job whose report is already terminal")
		return true, nil
	}
	return false, nil
}

// finish は成功時の終端書き込みを行います。レポート側の書き込みは
// 状態ガード付きで、二重配達の2回目は no-op になります。
func (w *Worker) finish(ctx context.Context, payload *TaskPayload, attempt, maxRetry int, resultText string, log *logrus.Entry) error {
	reportPath, err := analysis.WriteReportFile(
		w.cfg.OutputDir, payload.Type, payload.UserID, payload.Query, payload.FileName, resultText)
	if err != nil {
		return w.retryOrFail(ctx, payload, attempt, maxRetry, err, log)
	}

	summary := analysis.Summarize(resultText)
	changed, err := w.reports.Complete(ctx, payload.ReportID, summary, reportPath)
	if err != nil {
		return err
	}
	if !changed {
		log.Info("report already terminal; completion write skipped")
	}

	if _, err := w.registry.Transition(ctx, payload.JobID, attempt, StatusCompleted, func(r *Record) {
		r.Progress = ProgressInfo{Percent: 100, Message: "Analysis completed successfully"}
		r.Result = &ResultInfo{ReportID: payload.ReportID, ReportPath: reportPath, Summary: summary}
		r.Error = nil
	}); err != nil && !errors.Is(err, ErrJobNotFound) {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleWrite) {
			log.WithError(err).Warn("completion superseded; existing terminal state wins")
			return nil
		}
		return err
	}

	log.Info("analysis job completed")
	return nil
}

// retryOrFail は再試行ポリシーを適用します。
func (w *Worker) retryOrFail(ctx context.Context, payload *TaskPayload, attempt, maxRetry int, runErr error, log *logrus.Entry) error {
	if attempt < maxRetry {
		if _, err := w.registry.Transition(ctx, payload.JobID, attempt, StatusRetrying, func(r *Record) {
			r.Progress = ProgressInfo{Percent: ProgressIndeterminate, Message: fmt.Sprintf("Retrying (attempt %d)", attempt+1)}
		}); err != nil && !errors.Is(err, ErrJobNotFound) {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleWrite) {
				log.WithError(err).Warn("retry transition superseded")
				return nil
			}
			return err
		}
		log.WithError(runErr).Warn("analysis attempt failed; will retry")
		return fmt.Errorf("analysis attempt %d failed: %w", attempt, runErr)
	}

	w.fail(ctx, payload, attempt, "Analysis failed: "+runErr.Error(), log)
	log.WithError(runErr).Error("analysis job failed permanently")
	return runErr
}

// fail は失敗の終端書き込みを行います。
func (w *Worker) fail(ctx context.Context, payload *TaskPayload, attempt int, reason string, log *logrus.Entry) {
	if _, err := w.registry.Transition(ctx, payload.JobID, attempt, StatusFailed, func(r *Record) {
		r.Error = &ErrorInfo{Code: "EXECUTION_ERROR", Message: reason}
		r.Result = nil
	}); err != nil && !errors.Is(err, ErrJobNotFound) {
		log.WithError(err).Warn("failed to record terminal failure in registry")
	}
	if _, err := w.reports.Fail(ctx, payload.ReportID, reason); err != nil {
		log.WithError(err).Warn("failed to record terminal failure on report")
	}
}

// acknowledgeCancel はキャンセル済みジョブの後始末をして配達を応答します。
func (w *Worker) acknowledgeCancel(ctx context.Context, payload *TaskPayload, log *logrus.Entry) error {
	if _, err := w.reports.Fail(ctx, payload.ReportID, "Analysis cancelled by user"); err != nil {
		log.WithError(err).Warn("failed to coarsen cancellation onto report")
	}
	log.Info("analysis job cancelled; delivery acknowledged")
	return nil
}

// cancelled はレジストリ上でキャンセル済みかを確認します。
func (w *Worker) cancelled(ctx context.Context, jobID string) bool {
	record, err := w.registry.Get(ctx, jobID)
	return err == nil && record.Status == StatusCancelled
}
