package jobs

import (
	"math/rand"
	"time"

	"github.com/hibiken/asynq"
)

// maxRetryDelay はバックオフの上限です。
const maxRetryDelay = time.Hour

// RetryDelay は base * 2^n の指数バックオフにジッターを加えた遅延を返す
// asynq.RetryDelayFunc を作ります。n は完了した試行回数です。
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, task *asynq.Task) time.Duration {
		if base <= 0 {
			base = time.Second
		}
		delay := base
		for i := 0; i < n; i++ {
			delay *= 2
			if delay >= maxRetryDelay {
				delay = maxRetryDelay
				break
			}
		}
		// 半分を固定、残り半分をジッターにする
		half := delay / 2
		return half + time.Duration(rand.Int63n(int64(half)+1))
	}
}
