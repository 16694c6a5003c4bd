package jobs

import "context"

// Registry はジョブ状態のキー付きストアです。
// ブローカーとは独立に、ジョブIDごとの現在状態・進捗・試行番号を保持します。
// レコードは保持期間を過ぎると失効し、それ以降はレポート側が唯一の記録になります。
type Registry interface {
	// Create は pending 状態のレコードを登録し、アクティブ索引に追加します。
	Create(ctx context.Context, record *Record) error

	// Get はレコードを返します。存在しない場合は ErrJobNotFound を返します。
	Get(ctx context.Context, jobID string) (*Record, error)

	// Transition は状態遷移ガードを通過した場合のみ状態を変更します。
	// mutate は遷移が確定した後のレコードに追加の変更を加えるために使います。
	// 終端遷移ではレコードがアクティブ索引から外れます。
	Transition(ctx context.Context, jobID string, attempt int, to Status, mutate func(*Record)) (*Record, error)

	// Checkpoint は実行中ジョブの進捗を更新します。
	// ジョブがキャンセル済みの場合は ErrJobCancelled を返し、
	// ワーカーはこれを協調キャンセルの合図として扱います。
	Checkpoint(ctx context.Context, jobID string, attempt int, progress ProgressInfo) (*Record, error)

	// ListActive は非終端ジョブの一覧を返します。userID が空の場合は全ユーザー分を返します。
	ListActive(ctx context.Context, userID string) ([]*Record, error)

	// Delete はレコードを索引ごと削除します。存在しないIDは黙って無視します。
	Delete(ctx context.Context, jobIDs ...string) error
}
