package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/config"
	"github.com/yourusername/fin-analyzer/internal/mappings"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

// TaskTypeAnalysis は分析ジョブのタスク種別名です。
const TaskTypeAnalysis = "analysis:process"

// Caller はAPI操作の呼び出し元を表します。認証層が組み立てて渡します。
type Caller struct {
	UserID string
	Admin  bool
}

// Enqueuer はジョブをキューへ投入できるクライアントが実装します。
// 本番では *asynq.Client がこれを満たします。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueController は投入済みジョブへの介入を提供します。
// 本番では *asynq.Inspector がこれを満たします。
type QueueController interface {
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

// ResolvedInput は解決済みの分析対象ファイルです。
type ResolvedInput struct {
	Path string
	Name string
}

// DocumentResolver はドキュメントIDを分析対象ファイルへ解決します。
// ドキュメント管理は外部コラボレーターであり、ここではこの窓口だけを使います。
type DocumentResolver interface {
	Resolve(ctx context.Context, documentID, userID string) (*ResolvedInput, error)
}

// Orchestrator はジョブの投入・照会・キャンセル・削除を担う同期APIです。
// レポート・対応レコード・レジストリレコードの作成はこの型だけが行います。
type Orchestrator struct {
	cfg      *config.Config
	db       *gorm.DB
	registry Registry
	reports  *reports.Store
	mappings *mappings.Store
	enqueuer Enqueuer
	control  QueueController
	resolver DocumentResolver
	log      *logrus.Logger
}

// NewOrchestrator は Orchestrator を作成します。control と resolver は省略できます。
func NewOrchestrator(
	cfg *config.Config,
	db *gorm.DB,
	registry Registry,
	reportStore *reports.Store,
	mappingStore *mappings.Store,
	enqueuer Enqueuer,
	control QueueController,
	resolver DocumentResolver,
	log *logrus.Logger,
) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if reportStore == nil || mappingStore == nil {
		return nil, errors.New("stores are nil")
	}
	if enqueuer == nil {
		return nil, errors.New("enqueuer is nil")
	}
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		cfg:      cfg,
		db:       db,
		registry: registry,
		reports:  reportStore,
		mappings: mappingStore,
		enqueuer: enqueuer,
		control:  control,
		resolver: resolver,
		log:      log,
	}, nil
}

// SubmitParams はジョブ投入の入力です。
// DocumentID か、保存済みアップロードの FilePath/FileName のどちらかを指定します。
type SubmitParams struct {
	Type       analysis.Type
	Query      string
	DocumentID *string
	FilePath   string
	FileName   string
}

// SubmitResult は投入結果です。
type SubmitResult struct {
	JobID    string `json:"task_id"`
	ReportID string `json:"report_id"`
	Status   Status `json:"status"`
	Queue    string `json:"queue"`
}

// Submit はレポート・対応レコード・ジョブを1つの論理単位として作成します。
// キュー投入が確認できなかった場合は作成済みレコードを巻き戻し、
// 呼び出し元が投入をやり直せるエラーを返します。
func (o *Orchestrator) Submit(ctx context.Context, caller Caller, params *SubmitParams) (*SubmitResult, error) {
	if params == nil {
		return nil, apperr.Validation("リクエスト内容が不正です。")
	}
	if !params.Type.Valid() {
		return nil, apperr.Validation("不明な分析種別です: " + string(params.Type))
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = params.Type.DefaultQuery()
	}

	input, err := o.resolveInput(ctx, caller, params)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	queue := params.Type.Queue()

	// レポートと対応レコードは同一トランザクションで作成する
	var report *reports.Report
	err = o.db.Transaction(func(tx *gorm.DB) error {
		report, err = o.reports.WithTx(tx).Create(ctx, &reports.CreateParams{
			UserID:       caller.UserID,
			DocumentID:   params.DocumentID,
			AnalysisType: string(params.Type),
			Query:        query,
			FileName:     input.Name,
		})
		if err != nil {
			return err
		}
		_, err = o.mappings.WithTx(tx).Create(ctx, jobID, report.ID, caller.UserID, string(params.Type))
		return err
	})
	if err != nil {
		return nil, apperr.Internal("ジョブの登録に失敗しました。").WithCause(err)
	}

	record := &Record{
		JobID:    jobID,
		ReportID: report.ID,
		UserID:   caller.UserID,
		Type:     params.Type,
		Queue:    queue,
		Status:   StatusPending,
		Progress: ProgressInfo{Percent: ProgressIndeterminate},
	}
	if err := o.registry.Create(ctx, record); err != nil {
		o.rollbackSubmission(ctx, jobID, report.ID)
		return nil, apperr.QueueUnavailable("ジョブレジストリへの登録に失敗しました。時間を置いて再度お試しください。").WithCause(err)
	}

	payload, err := json.Marshal(&TaskPayload{
		JobID:      jobID,
		ReportID:   report.ID,
		Type:       params.Type,
		Query:      query,
		FilePath:   input.Path,
		FileName:   input.Name,
		UserID:     caller.UserID,
		DocumentID: params.DocumentID,
	})
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TaskTypeAnalysis, payload)
	_, err = o.enqueuer.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(queue),
		asynq.MaxRetry(o.cfg.MaxRetries),
		asynq.Timeout(o.cfg.HardTimeLimit),
	)
	if err != nil {
		_ = o.registry.Delete(ctx, jobID)
		o.rollbackSubmission(ctx, jobID, report.ID)
		o.log.WithFields(logrus.Fields{"job_id": jobID, "report_id": report.ID}).
			WithError(err).Error("failed to enqueue analysis job")
		return nil, apperr.QueueUnavailable("ジョブをキューに投入できませんでした。時間を置いて再度お試しください。").WithCause(err)
	}

	o.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"report_id": report.ID,
		"type":      params.Type,
		"queue":     queue,
	}).Info("analysis job submitted")

	return &SubmitResult{
		JobID:    jobID,
		ReportID: report.ID,
		Status:   StatusPending,
		Queue:    queue,
	}, nil
}

// rollbackSubmission は投入失敗時の補償処理です。
// 対応レコードを消し、レポートを失敗状態にして pending のまま残さないようにします。
func (o *Orchestrator) rollbackSubmission(ctx context.Context, jobID, reportID string) {
	if err := o.mappings.DeleteByTask(ctx, jobID); err != nil && !isNotFound(err) {
		o.log.WithField("job_id", jobID).WithError(err).Warn("failed to roll back task mapping")
	}
	if _, err := o.reports.Fail(ctx, reportID, "Analysis could not be queued. Please submit again."); err != nil {
		o.log.WithField("report_id", reportID).WithError(err).Warn("failed to mark report failed after enqueue error")
	}
}

func (o *Orchestrator) resolveInput(ctx context.Context, caller Caller, params *SubmitParams) (*ResolvedInput, error) {
	if params.DocumentID != nil && *params.DocumentID != "" {
		if params.FilePath != "" {
			return nil, apperr.Validation("ファイルと document_id は同時に指定できません。")
		}
		if o.resolver == nil {
			return nil, apperr.Validation("document_id による指定はサポートされていません。")
		}
		return o.resolver.Resolve(ctx, *params.DocumentID, caller.UserID)
	}
	if params.FilePath == "" {
		return nil, apperr.Validation("ファイルのアップロードか document_id のどちらかを指定してください。")
	}
	name := params.FileName
	if name == "" {
		name = params.FilePath
	}
	return &ResolvedInput{Path: params.FilePath, Name: name}, nil
}

// GetStatus はジョブの現在状態を返します。
// レジストリから失効している場合は、レポートから状態を合成します。
func (o *Orchestrator) GetStatus(ctx context.Context, caller Caller, jobID string) (*StatusView, error) {
	record, err := o.registry.Get(ctx, jobID)
	if err == nil {
		if record.UserID != caller.UserID && !caller.Admin {
			return nil, apperr.Forbidden("このジョブへのアクセス権がありません。")
		}
		return record.View(), nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}
	return o.synthesizeView(ctx, caller, jobID)
}

// synthesizeView は失効したジョブの状態をレポートから組み立てます。
func (o *Orchestrator) synthesizeView(ctx context.Context, caller Caller, jobID string) (*StatusView, error) {
	mapping, err := o.mappings.ByTask(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("指定されたジョブは存在しません。")
		}
		return nil, err
	}
	if mapping.UserID != caller.UserID && !caller.Admin {
		return nil, apperr.Forbidden("このジョブへのアクセス権がありません。")
	}

	report, err := o.reports.GetAny(ctx, mapping.ReportID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("指定されたジョブは存在しません。")
		}
		return nil, err
	}

	view := &StatusView{TaskID: jobID, Queue: analysis.Type(mapping.AnalysisType).Queue()}
	switch report.Status {
	case reports.StatusPending:
		view.Status = StatusPending
	case reports.StatusInProgress:
		view.Status = StatusInProgress
	case reports.StatusCompleted:
		view.Status = StatusCompleted
		percent := 100
		view.Progress = &percent
		updatedAt := report.UpdatedAt
		view.DateDone = &updatedAt
		result := &ResultInfo{ReportID: report.ID, ReportPath: report.ReportPath}
		if report.Summary != nil {
			result.Summary = *report.Summary
		}
		view.Result = result
	case reports.StatusFailed:
		view.Status = StatusFailed
		updatedAt := report.UpdatedAt
		view.DateDone = &updatedAt
		message := "Analysis failed"
		if report.Summary != nil {
			message = *report.Summary
		}
		view.Error = &ErrorInfo{Code: "EXECUTION_ERROR", Message: message}
	}
	return view, nil
}

// Cancel はジョブをキャンセルします。すでに終端状態の場合は
// エラーにせず既存の終端状態をそのまま返します。
func (o *Orchestrator) Cancel(ctx context.Context, caller Caller, jobID string) (*StatusView, error) {
	record, err := o.registry.Get(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		// レジストリから失効している。レポート側の状態で冪等に応答する。
		view, synthErr := o.synthesizeView(ctx, caller, jobID)
		if synthErr != nil {
			return nil, synthErr
		}
		if view.Status.Terminal() {
			return view, nil
		}
		// ジョブの行方が追えない非終端レコードはキャンセル扱いで畳む
		if _, failErr := o.reports.Fail(ctx, o.mustReportID(ctx, jobID), "Analysis cancelled by user"); failErr != nil {
			return nil, failErr
		}
		view.Status = StatusCancelled
		return view, nil
	}
	if err != nil {
		return nil, err
	}

	if record.UserID != caller.UserID && !caller.Admin {
		return nil, apperr.Forbidden("このジョブへのアクセス権がありません。")
	}
	if record.Status.Terminal() {
		return record.View(), nil
	}

	wasPending := record.Status == StatusPending

	updated, err := o.registry.Transition(ctx, jobID, record.Attempt, StatusCancelled, func(r *Record) {
		r.Error = &ErrorInfo{Code: "CANCELLED", Message: "Cancelled by user"}
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleWrite) {
			// 終端書き込みと競合した。既存の終端状態を正とする。
			if current, getErr := o.registry.Get(ctx, jobID); getErr == nil {
				return current.View(), nil
			}
		}
		return nil, err
	}

	// ブローカー側にも介入する（ベストエフォート）
	if o.control != nil {
		if wasPending {
			if err := o.control.DeleteTask(record.Queue, jobID); err != nil {
				o.log.WithField("job_id", jobID).WithError(err).Debug("failed to delete pending task from queue")
			}
		} else {
			if err := o.control.CancelProcessing(jobID); err != nil {
				o.log.WithField("job_id", jobID).WithError(err).Debug("failed to signal in-flight cancellation")
			}
		}
	}

	if _, err := o.reports.Fail(ctx, record.ReportID, "Analysis cancelled by user"); err != nil {
		o.log.WithField("report_id", record.ReportID).WithError(err).Warn("failed to coarsen cancelled job onto report")
	}

	o.log.WithFields(logrus.Fields{"job_id": jobID, "report_id": record.ReportID}).Info("analysis job cancelled")
	return updated.View(), nil
}

func (o *Orchestrator) mustReportID(ctx context.Context, jobID string) string {
	mapping, err := o.mappings.ByTask(ctx, jobID)
	if err != nil {
		return ""
	}
	return mapping.ReportID
}

// ListActive は非終端ジョブの一覧を返します。
// 一般ユーザーは自分のジョブのみ、管理者は all=true で全ユーザー分を見られます。
func (o *Orchestrator) ListActive(ctx context.Context, caller Caller, all bool) ([]*StatusView, error) {
	userID := caller.UserID
	if all {
		if !caller.Admin {
			return nil, apperr.Forbidden("全ユーザーのジョブ一覧には管理者権限が必要です。")
		}
		userID = ""
	}

	records, err := o.registry.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]*StatusView, 0, len(records))
	for _, record := range records {
		views = append(views, record.View())
	}
	return views, nil
}

// GetMappingByReport はレポートIDから対応レコードを返します。
func (o *Orchestrator) GetMappingByReport(ctx context.Context, caller Caller, reportID string) (*mappings.TaskReportMapping, error) {
	mapping, err := o.mappings.ByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if mapping.UserID != caller.UserID && !caller.Admin {
		return nil, apperr.Forbidden("この対応情報へのアクセス権がありません。")
	}
	return mapping, nil
}

// Cleanup は保持期間を過ぎた対応レコードとレジストリレコードを削除します。
// レポートは削除しません。管理者専用です。
func (o *Orchestrator) Cleanup(ctx context.Context, caller Caller, daysOld int) (int, error) {
	if !caller.Admin {
		return 0, apperr.Forbidden("クリーンアップには管理者権限が必要です。")
	}
	if daysOld < 1 {
		return 0, apperr.Validation("days_old は1以上を指定してください。")
	}

	taskIDs, err := o.mappings.CleanupOlderThan(ctx, daysOld)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up mappings: %w", err)
	}
	if len(taskIDs) > 0 {
		if err := o.registry.Delete(ctx, taskIDs...); err != nil {
			o.log.WithError(err).Warn("failed to delete registry records during cleanup")
		}
	}

	o.log.WithFields(logrus.Fields{"deleted": len(taskIDs), "days_old": daysOld}).Info("task mapping cleanup completed")
	return len(taskIDs), nil
}

func isNotFound(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr) && appErr.Code == "NOT_FOUND"
}
