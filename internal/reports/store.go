package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/apperr"
)

// Store はレポートの永続化を担います。
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

// CreateParams はレポート作成時の入力です。
type CreateParams struct {
	UserID       string
	DocumentID   *string
	AnalysisType string
	Query        string
	FileName     string
}

// Create は pending 状態のレポートを作成します。
func (s *Store) Create(ctx context.Context, params *CreateParams) (*Report, error) {
	report := &Report{
		ID:           uuid.NewString(),
		UserID:       params.UserID,
		DocumentID:   params.DocumentID,
		AnalysisType: params.AnalysisType,
		Query:        params.Query,
		FileName:     params.FileName,
		Status:       StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return report, nil
}

// Get はレポートを取得します。所有者以外のアクセスは Forbidden になります。
func (s *Store) Get(ctx context.Context, reportID, userID string) (*Report, error) {
	var report Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", reportID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("指定されたレポートは存在しません。")
		}
		return nil, err
	}
	if report.UserID != userID {
		return nil, apperr.Forbidden("このレポートへのアクセス権がありません。")
	}
	return &report, nil
}

// GetAny は所有者チェックなしでレポートを取得します。ワーカー内部専用です。
func (s *Store) GetAny(ctx context.Context, reportID string) (*Report, error) {
	var report Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", reportID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("指定されたレポートは存在しません。")
		}
		return nil, err
	}
	return &report, nil
}

// ListByUser はユーザーのレポートを新しい順に返します。
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Report, error) {
	var list []Report
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// MarkInProgress はレポートを実行中へ進めます。
// pending 以外からの遷移は黙って無視します（再配達時の重複書き込み対策）。
func (s *Store) MarkInProgress(ctx context.Context, reportID, summary string) error {
	return s.db.WithContext(ctx).Model(&Report{}).
		Where("id = ? AND status IN ?", reportID, []Status{StatusPending, StatusInProgress}).
		Updates(map[string]any{
			"status":  StatusInProgress,
			"summary": summary,
		}).Error
}

// Complete はレポートを完了状態にします。
// すでに終端状態の場合は何も書き込まず false を返します。
func (s *Store) Complete(ctx context.Context, reportID, summary, reportPath string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Report{}).
		Where("id = ? AND status IN ?", reportID, []Status{StatusPending, StatusInProgress}).
		Updates(map[string]any{
			"status":      StatusCompleted,
			"summary":     summary,
			"report_path": reportPath,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Fail はレポートを失敗状態にし、人が読める失敗理由を残します。
// すでに終端状態の場合は何も書き込まず false を返します。
func (s *Store) Fail(ctx context.Context, reportID, reason string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Report{}).
		Where("id = ? AND status IN ?", reportID, []Status{StatusPending, StatusInProgress}).
		Updates(map[string]any{
			"status":  StatusFailed,
			"summary": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Touch は更新時刻だけを進めます。進捗同期用です。
func (s *Store) Touch(ctx context.Context, reportID string) error {
	return s.db.WithContext(ctx).Model(&Report{}).
		Where("id = ?", reportID).
		Update("updated_at", time.Now().UTC()).Error
}
