// Package mappings はジョブIDとレポートIDの耐久的な対応関係を管理します。
package mappings

import "time"

// TaskReportMapping はジョブとレポートの対応レコードです。
// 投入時にレポートと同時に作成され、以後は削除されるまで変更されません。
type TaskReportMapping struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	TaskID       string    `json:"taskId" gorm:"not null;uniqueIndex"`
	ReportID     string    `json:"reportId" gorm:"not null;index"`
	UserID       string    `json:"userId" gorm:"not null;index"`
	AnalysisType string    `json:"analysisType" gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (TaskReportMapping) TableName() string {
	return "task_report_mappings"
}
