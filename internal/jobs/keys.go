package jobs

// Redis上のキー構成。レジストリのレコードと、アクティブジョブの索引を分けて持ちます。

const (
	taskKeyPrefix       = "task:"
	activeSetKey        = "tasks:active"
	activeUserKeyPrefix = "tasks:active:user:"
)

func taskKey(jobID string) string {
	return taskKeyPrefix + jobID
}

func activeUserKey(userID string) string {
	return activeUserKeyPrefix + userID
}
