// Package reports は分析レポートの永続レコードを管理します。
package reports

import (
	"time"
)

// Status はレポートの状態を表します。
// ジョブ側の状態をビジネスレコード向けに粗視化した4値です。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Report は分析レポートの永続レコードです。
// ジョブがレジストリから失効した後は、このレコードが唯一の記録になります。
type Report struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       string    `json:"userId" gorm:"not null;index"`
	DocumentID   *string   `json:"documentId,omitempty" gorm:"type:uuid"`
	AnalysisType string    `json:"analysisType" gorm:"not null"`
	Query        string    `json:"query" gorm:"not null"`
	FileName     string    `json:"fileName" gorm:"not null"`
	Summary      *string   `json:"summary,omitempty"`
	ReportPath   string    `json:"reportPath"`
	Status       Status    `json:"status" gorm:"not null;default:'pending';index"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Report) TableName() string {
	return "analysis_reports"
}
