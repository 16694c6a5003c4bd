package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/fin-analyzer/internal/reports"
)

var (
	// ErrJobNotFound はレジストリにレコードが存在しない（または失効した）ことを表します。
	ErrJobNotFound = errors.New("job not found in registry")

	// ErrInvalidTransition は状態機械で許可されていない遷移を表します。
	// 呼び出し元はこのエラーを記録した上で書き込みを破棄し、既存状態を優先します。
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleWrite は古い試行番号からの書き込みを表します。
	// 再試行が先行した後に届いた遅延書き込みはこれで弾かれます。
	ErrStaleWrite = errors.New("stale write rejected")

	// ErrJobCancelled はチェックポイントでキャンセル要求を検知したことを表します。
	ErrJobCancelled = errors.New("job cancelled")
)

// Terminal は終端状態かどうかを返します。終端状態から先の遷移はありません。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions は許可されている状態遷移の一覧です。
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled},
	StatusRetrying:   {StatusInProgress, StatusFailed, StatusCancelled},
}

// CanTransition は from から to への遷移が許可されているかを返します。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Coarsen はジョブ状態をレポート状態へ粗視化します。
// retrying は実行中扱い、cancelled は失敗扱いになります。
func Coarsen(s Status) reports.Status {
	switch s {
	case StatusPending:
		return reports.StatusPending
	case StatusInProgress, StatusRetrying:
		return reports.StatusInProgress
	case StatusCompleted:
		return reports.StatusCompleted
	default:
		return reports.StatusFailed
	}
}

// applyTransition は状態遷移のガードを評価し、通過した場合だけレコードを書き換えます。
// ガードは (1) 終端状態は不変、(2) 試行番号が古い書き込みは拒否、
// (3) 状態機械上の辺のみ許可、の3段です。
func applyTransition(record *Record, attempt int, to Status) error {
	if record.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s (job=%s)", ErrInvalidTransition, record.Status, to, record.JobID)
	}
	if attempt < record.Attempt {
		return fmt.Errorf("%w: attempt %d < %d (job=%s)", ErrStaleWrite, attempt, record.Attempt, record.JobID)
	}
	if !CanTransition(record.Status, to) {
		return fmt.Errorf("%w: %s -> %s (job=%s)", ErrInvalidTransition, record.Status, to, record.JobID)
	}

	now := time.Now().UTC()
	record.Status = to
	if attempt > record.Attempt {
		record.Attempt = attempt
	}
	record.UpdatedAt = now
	if to.Terminal() {
		record.DateDone = &now
	}
	return nil
}

// applyProgress は実行中ジョブの進捗を更新します。
// 同一試行内では percent は単調非減少で、巻き戻しは黙って切り上げます。
func applyProgress(record *Record, attempt int, progress ProgressInfo) error {
	if record.Status == StatusCancelled {
		return ErrJobCancelled
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: progress on %s (job=%s)", ErrInvalidTransition, record.Status, record.JobID)
	}
	if attempt < record.Attempt {
		return fmt.Errorf("%w: attempt %d < %d (job=%s)", ErrStaleWrite, attempt, record.Attempt, record.JobID)
	}
	if record.Status != StatusInProgress {
		return fmt.Errorf("%w: progress on %s (job=%s)", ErrInvalidTransition, record.Status, record.JobID)
	}

	if progress.Percent != ProgressIndeterminate {
		if progress.Percent < 0 {
			progress.Percent = 0
		}
		if progress.Percent > 100 {
			progress.Percent = 100
		}
		if record.Progress.Percent != ProgressIndeterminate && progress.Percent < record.Progress.Percent {
			progress.Percent = record.Progress.Percent
		}
	}
	record.Progress = progress
	record.UpdatedAt = time.Now().UTC()
	return nil
}
