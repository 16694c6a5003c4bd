package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

// scriptedAnalyzer はテストから挙動を差し込める分析実装です。
type scriptedAnalyzer struct {
	calls int
	run   func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error)
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
	a.calls++
	return a.run(ctx, req, report)
}

type workerHarness struct {
	worker   *Worker
	registry *MemoryRegistry
	reports  *reports.Store
	analyzer *scriptedAnalyzer
	payload  *TaskPayload
}

func newWorkerHarness(t *testing.T, run func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error)) *workerHarness {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig(t)
	registry := NewMemoryRegistry(cfg.JobResultTTL)
	reportStore := reports.NewStore(db)
	analyzer := &scriptedAnalyzer{run: run}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	worker, err := NewWorker(cfg, registry, reportStore, analyzer, log)
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}

	inputPath := filepath.Join(t.TempDir(), "input.pdf")
	if err := os.WriteFile(inputPath, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("failed to write input file: %v", err)
	}

	report, err := reportStore.Create(context.Background(), &reports.CreateParams{
		UserID:       "user-1",
		AnalysisType: string(analysis.TypeComprehensive),
		Query:        "Analyze this",
		FileName:     "input.pdf",
	})
	if err != nil {
		t.Fatalf("failed to create report: %v", err)
	}

	payload := &TaskPayload{
		JobID:    "job-1",
		ReportID: report.ID,
		Type:     analysis.TypeComprehensive,
		Query:    "Analyze this",
		FilePath: inputPath,
		FileName: "input.pdf",
		UserID:   "user-1",
	}
	if err := registry.Create(context.Background(), &Record{
		JobID:    payload.JobID,
		ReportID: payload.ReportID,
		UserID:   payload.UserID,
		Type:     payload.Type,
		Queue:    analysis.QueueAnalysis,
		Status:   StatusPending,
		Progress: ProgressInfo{Percent: ProgressIndeterminate},
	}); err != nil {
		t.Fatalf("failed to seed registry: %v", err)
	}

	return &workerHarness{
		worker:   worker,
		registry: registry,
		reports:  reportStore,
		analyzer: analyzer,
		payload:  payload,
	}
}

func TestProcessSuccess(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		if err := report(50, "halfway"); err != nil {
			return "", err
		}
		return "analysis result text", nil
	})
	ctx := context.Background()

	if err := h.worker.Process(ctx, h.payload, 0, 3); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	record, err := h.registry.Get(ctx, h.payload.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("registry status = %s, want completed", record.Status)
	}
	if record.Progress.Percent != 100 {
		t.Fatalf("percent = %d, want 100", record.Progress.Percent)
	}
	if record.Result == nil || record.Result.ReportPath == "" {
		t.Fatal("completed record should carry result info")
	}
	if _, err := os.Stat(record.Result.ReportPath); err != nil {
		t.Fatalf("report file not written: %v", err)
	}

	report, err := h.reports.GetAny(ctx, h.payload.ReportID)
	if err != nil {
		t.Fatalf("failed to load report: %v", err)
	}
	if report.Status != reports.StatusCompleted {
		t.Fatalf("report status = %s, want completed", report.Status)
	}
	if report.Summary == nil || *report.Summary == "" {
		t.Fatal("completed report should carry a summary")
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	failures := 2
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		if failures > 0 {
			failures--
			return "", errors.New("transient upstream error")
		}
		return "eventual result", nil
	})
	ctx := context.Background()

	// 1回目と2回目の配達は失敗し、エラーを返して再配達を要求する
	for attempt := 0; attempt < 2; attempt++ {
		if err := h.worker.Process(ctx, h.payload, attempt, 3); err == nil {
			t.Fatalf("attempt %d should return an error to request redelivery", attempt)
		}
		record, getErr := h.registry.Get(ctx, h.payload.JobID)
		if getErr != nil {
			t.Fatalf("Get failed: %v", getErr)
		}
		if record.Status != StatusRetrying {
			t.Fatalf("status after attempt %d = %s, want retrying", attempt, record.Status)
		}
		if record.Progress.Percent != ProgressIndeterminate {
			t.Fatal("retry should reset progress to indeterminate")
		}
	}

	if err := h.worker.Process(ctx, h.payload, 2, 3); err != nil {
		t.Fatalf("final attempt failed: %v", err)
	}

	record, err := h.registry.Get(ctx, h.payload.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}
	if record.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2 surviving retries", record.Attempt)
	}
}

func TestProcessFailsPermanentlyAfterMaxRetries(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		return "", errors.New("permanent failure")
	})
	ctx := context.Background()

	// maxRetry と同じ試行番号は最後の配達。retrying ではなく失敗で確定する。
	if err := h.worker.Process(ctx, h.payload, 3, 3); err == nil {
		t.Fatal("final failing attempt should return the run error")
	}

	record, err := h.registry.Get(ctx, h.payload.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.Error == nil || record.Error.Code != "EXECUTION_ERROR" {
		t.Fatalf("error info = %#v, want EXECUTION_ERROR", record.Error)
	}

	report, err := h.reports.GetAny(ctx, h.payload.ReportID)
	if err != nil {
		t.Fatalf("failed to load report: %v", err)
	}
	if report.Status != reports.StatusFailed {
		t.Fatalf("report status = %s, want failed", report.Status)
	}
}

func TestProcessCancellationAtCheckpoint(t *testing.T) {
	var h *workerHarness
	h = newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		// 実行中にユーザーがキャンセルしたのをチェックポイントで検知する
		if _, err := h.registry.Transition(ctx, h.payload.JobID, 0, StatusCancelled, nil); err != nil {
			t.Errorf("failed to cancel job mid-run: %v", err)
		}
		if err := report(60, "still working"); err != nil {
			return "", err
		}
		t.Error("checkpoint should have signalled cancellation")
		return "should not be used", nil
	})
	ctx := context.Background()

	// キャンセル済み配達は正常応答で畳む（再配達させない）
	if err := h.worker.Process(ctx, h.payload, 0, 3); err != nil {
		t.Fatalf("cancelled delivery should be acknowledged, got %v", err)
	}

	record, err := h.registry.Get(ctx, h.payload.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", record.Status)
	}

	report, err := h.reports.GetAny(ctx, h.payload.ReportID)
	if err != nil {
		t.Fatalf("failed to load report: %v", err)
	}
	if report.Status != reports.StatusFailed {
		t.Fatalf("report status = %s, want failed", report.Status)
	}
	if report.Summary == nil || *report.Summary != "Analysis cancelled by user" {
		t.Fatalf("report summary = %v, want cancellation reason", report.Summary)
	}
}

func TestProcessSkipsFinishedJobOnRedelivery(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		return "result", nil
	})
	ctx := context.Background()

	if err := h.worker.Process(ctx, h.payload, 0, 3); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.worker.Process(ctx, h.payload, 0, 3); err != nil {
		t.Fatalf("redelivery should be acknowledged, got %v", err)
	}
	if h.analyzer.calls != 1 {
		t.Fatalf("analyzer ran %d times, want 1 (redelivery must not re-run side effects)", h.analyzer.calls)
	}
}

func TestProcessSkipsWhenRegistryExpiredAndReportTerminal(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		return "result", nil
	})
	ctx := context.Background()

	if _, err := h.reports.Fail(ctx, h.payload.ReportID, "already settled"); err != nil {
		t.Fatalf("failed to settle report: %v", err)
	}
	if err := h.registry.Delete(ctx, h.payload.JobID); err != nil {
		t.Fatalf("failed to expire registry record: %v", err)
	}

	if err := h.worker.Process(ctx, h.payload, 1, 3); err != nil {
		t.Fatalf("delivery for settled job should be acknowledged, got %v", err)
	}
	if h.analyzer.calls != 0 {
		t.Fatal("analyzer must not run for a settled job")
	}
}

func TestProcessHardTimeLimit(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	// asynq.Timeout 相当の配達コンテキスト
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.worker.Process(ctx, h.payload, 0, 3)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("hard limit should fail without retry, got %v", err)
	}

	record, getErr := h.registry.Get(context.Background(), h.payload.JobID)
	if getErr != nil {
		t.Fatalf("Get failed: %v", getErr)
	}
	if record.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}

	report, getErr := h.reports.GetAny(context.Background(), h.payload.ReportID)
	if getErr != nil {
		t.Fatalf("failed to load report: %v", getErr)
	}
	if report.Status != reports.StatusFailed {
		t.Fatalf("report status = %s, want failed", report.Status)
	}
}

func TestHandleAnalysisTaskRejectsMalformedPayload(t *testing.T) {
	h := newWorkerHarness(t, func(ctx context.Context, req *analysis.Request, report analysis.ProgressReporter) (string, error) {
		return "result", nil
	})

	task := asynq.NewTask(TaskTypeAnalysis, []byte("not json"))
	err := h.worker.HandleAnalysisTask(context.Background(), task)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload should skip retry, got %v", err)
	}
}
