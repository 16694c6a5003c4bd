package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry は Registry の Redis 実装です。
// レコードはTTL付きのJSON値として保存し、書き込み競合は WATCH による
// 楽観的並行制御で解決します。
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRegistry は RedisRegistry を作成します。
func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

// Create は pending レコードを保存し、アクティブ索引へ追加します。
func (r *RedisRegistry) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if r.ttl > 0 {
		record.ExpiresAt = now.Add(r.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(record.JobID), payload, r.ttl)
		pipe.SAdd(ctx, activeSetKey, record.JobID)
		pipe.SAdd(ctx, activeUserKey(record.UserID), record.JobID)
		return nil
	})
	return err
}

// Get はレコードを取得します。
func (r *RedisRegistry) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := r.rdb.Get(ctx, taskKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Transition は状態遷移を適用します。
func (r *RedisRegistry) Transition(ctx context.Context, jobID string, attempt int, to Status, mutate func(*Record)) (*Record, error) {
	return r.mutate(ctx, jobID, func(record *Record) error {
		if err := applyTransition(record, attempt, to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(record)
		}
		return nil
	})
}

// Checkpoint は進捗を更新します。
func (r *RedisRegistry) Checkpoint(ctx context.Context, jobID string, attempt int, progress ProgressInfo) (*Record, error) {
	return r.mutate(ctx, jobID, func(record *Record) error {
		return applyProgress(record, attempt, progress)
	})
}

// ListActive はアクティブ索引のレコードを新しい順に返します。
// TTLで失効したレコードは索引から取り除きます。
func (r *RedisRegistry) ListActive(ctx context.Context, userID string) ([]*Record, error) {
	setKey := activeSetKey
	if userID != "" {
		setKey = activeUserKey(userID)
	}

	jobIDs, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(jobIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(jobIDs))
	for i, id := range jobIDs {
		keys[i] = taskKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var records []*Record
	var expired []string
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, jobIDs[i])
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		if record.Status.Terminal() {
			expired = append(expired, jobIDs[i])
			continue
		}
		records = append(records, &record)
	}

	if len(expired) > 0 {
		members := make([]any, len(expired))
		for i, id := range expired {
			members[i] = id
		}
		_, _ = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, activeSetKey, members...)
			if userID != "" {
				pipe.SRem(ctx, activeUserKey(userID), members...)
			}
			return nil
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Delete はレコードと索引エントリを削除します。
func (r *RedisRegistry) Delete(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	for _, jobID := range jobIDs {
		record, err := r.Get(ctx, jobID)
		_, _ = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, taskKey(jobID))
			pipe.SRem(ctx, activeSetKey, jobID)
			if err == nil && record != nil {
				pipe.SRem(ctx, activeUserKey(record.UserID), jobID)
			}
			return nil
		})
	}
	return nil
}

// mutate は WATCH で保護された読み込み・変更・書き戻しを行います。
// 競合した場合は成功するまでやり直します。
func (r *RedisRegistry) mutate(ctx context.Context, jobID string, fn func(*Record) error) (*Record, error) {
	key := taskKey(jobID)
	var out *Record

	for {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrJobNotFound
				}
				return err
			}

			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if err := fn(&record); err != nil {
				return err
			}

			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, r.ttl)
				if record.Status.Terminal() {
					pipe.SRem(ctx, activeSetKey, record.JobID)
					pipe.SRem(ctx, activeUserKey(record.UserID), record.JobID)
				}
				return nil
			})
			if err != nil {
				return err
			}
			out = &record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
}
