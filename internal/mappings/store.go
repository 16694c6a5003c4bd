package mappings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/apperr"
)

// Store は対応レコードの永続化を担います。
type Store struct {
	db *gorm.DB
}

// NewStore は Store を作成します。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx はトランザクションに紐付いた Store を返します。
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Create は対応レコードを作成します。task_id ごとに1件だけ存在できます。
func (s *Store) Create(ctx context.Context, taskID, reportID, userID, analysisType string) (*TaskReportMapping, error) {
	mapping := &TaskReportMapping{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		ReportID:     reportID,
		UserID:       userID,
		AnalysisType: analysisType,
	}
	if err := s.db.WithContext(ctx).Create(mapping).Error; err != nil {
		return nil, fmt.Errorf("failed to create task-report mapping: %w", err)
	}
	return mapping, nil
}

// ByTask はジョブIDから対応レコードを取得します。
func (s *Store) ByTask(ctx context.Context, taskID string) (*TaskReportMapping, error) {
	var mapping TaskReportMapping
	err := s.db.WithContext(ctx).First(&mapping, "task_id = ?", taskID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("指定されたジョブの対応情報は存在しません。")
		}
		return nil, err
	}
	return &mapping, nil
}

// ByReport はレポートIDから最新の対応レコードを取得します。
// 履歴として複数残ることがあるため、作成日時の新しいものを採用します。
func (s *Store) ByReport(ctx context.Context, reportID string) (*TaskReportMapping, error) {
	var mapping TaskReportMapping
	err := s.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("created_at DESC").
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("指定されたレポートの対応情報は存在しません。")
		}
		return nil, err
	}
	return &mapping, nil
}

// ListByUser はユーザーの対応レコードを新しい順に返します。
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]TaskReportMapping, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&TaskReportMapping{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []TaskReportMapping
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// DeleteByTask はジョブIDで対応レコードを削除します。
func (s *Store) DeleteByTask(ctx context.Context, taskID string) error {
	result := s.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&TaskReportMapping{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("指定されたジョブの対応情報は存在しません。")
	}
	return nil
}

// DeleteByReport はレポートIDで対応レコードを削除します。
func (s *Store) DeleteByReport(ctx context.Context, reportID string) error {
	result := s.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&TaskReportMapping{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("指定されたレポートの対応情報は存在しません。")
	}
	return nil
}

// CleanupOlderThan は指定日数より古い対応レコードを削除し、
// 削除したレコードのジョブID一覧を返します。レポート本体は削除しません。
func (s *Store) CleanupOlderThan(ctx context.Context, daysOld int) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)

	var stale []TaskReportMapping
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Find(&stale).Error; err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	taskIDs := make([]string, 0, len(stale))
	for _, m := range stale {
		taskIDs = append(taskIDs, m.TaskID)
	}

	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&TaskReportMapping{}).Error; err != nil {
		return nil, err
	}
	return taskIDs, nil
}
