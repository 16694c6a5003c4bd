// Package jobs は非同期分析ジョブの投入・状態管理・実行を提供します。
package jobs

import (
	"time"

	"github.com/yourusername/fin-analyzer/internal/analysis"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

// ProgressIndeterminate はワーカーからまだ進捗報告がないことを表す値です。
// 計測された0%と区別するために使います。
const ProgressIndeterminate = -1

// ProgressInfo はジョブの進捗を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultInfo はジョブ成功時の結果情報を保持します。
type ResultInfo struct {
	ReportID   string `json:"reportId"`
	ReportPath string `json:"reportPath,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Record はレジストリ上のジョブの現在状態です。
// ワーカーによる状態・進捗の更新と、明示的なキャンセル要求だけが
// このレコードを変更します。保持期間を過ぎると失効します。
type Record struct {
	JobID    string        `json:"jobId"`
	ReportID string        `json:"reportId"`
	UserID   string        `json:"userId"`
	Type     analysis.Type `json:"analysisType"`
	Queue    string        `json:"queue"`
	Status   Status        `json:"status"`
	Progress ProgressInfo  `json:"progress"`
	Worker   string        `json:"worker,omitempty"`

	// Attempt は観測済みの最大試行番号（0始まり）です。
	// 状態を変更する書き込みはこの値との比較で古い書き込みを弾きます。
	Attempt int `json:"attempt"`

	Result *ResultInfo `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DateDone  *time.Time `json:"dateDone,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// StatusView はポーリングクライアントに返すジョブ状態です。
// フィールド名は外部公開している契約のため snake_case を維持します。
type StatusView struct {
	TaskID   string      `json:"task_id"`
	Status   Status      `json:"status"`
	Progress *int        `json:"progress,omitempty"`
	Message  string      `json:"message,omitempty"`
	Worker   string      `json:"worker,omitempty"`
	Queue    string      `json:"queue,omitempty"`
	Retries  int         `json:"retries"`
	Result   *ResultInfo `json:"result,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
	DateDone *time.Time  `json:"date_done,omitempty"`
}

// View はレコードからクライアント向けビューを作ります。
func (r *Record) View() *StatusView {
	view := &StatusView{
		TaskID:   r.JobID,
		Status:   r.Status,
		Message:  r.Progress.Message,
		Worker:   r.Worker,
		Queue:    r.Queue,
		Retries:  r.Attempt,
		Result:   r.Result,
		Error:    r.Error,
		DateDone: r.DateDone,
	}
	if r.Progress.Percent != ProgressIndeterminate {
		percent := r.Progress.Percent
		view.Progress = &percent
	}
	return view
}

// TaskPayload は分析ジョブのペイロードです。キューを通じてワーカーへ渡ります。
type TaskPayload struct {
	JobID      string        `json:"jobId"`
	ReportID   string        `json:"reportId"`
	Type       analysis.Type `json:"analysisType"`
	Query      string        `json:"query"`
	FilePath   string        `json:"filePath"`
	FileName   string        `json:"fileName"`
	UserID     string        `json:"userId"`
	DocumentID *string       `json:"documentId,omitempty"`
}
