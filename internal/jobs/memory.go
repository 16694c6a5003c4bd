package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry は Registry のインメモリ実装です。
// テストと、ブローカーを持たないローカル開発で使用します。
type MemoryRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*Record
}

// NewMemoryRegistry は MemoryRegistry を作成します。
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		ttl:     ttl,
		records: make(map[string]*Record),
	}
}

// Create は pending レコードを登録します。
func (m *MemoryRegistry) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if m.ttl > 0 {
		record.ExpiresAt = now.Add(m.ttl)
	}
	clone := *record
	m.records[record.JobID] = &clone
	return nil
}

// Get はレコードの複製を返します。
func (m *MemoryRegistry) Get(ctx context.Context, jobID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(jobID)
}

// Transition は状態遷移を適用します。
func (m *MemoryRegistry) Transition(ctx context.Context, jobID string, attempt int, to Status, mutate func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.getLocked(jobID)
	if err != nil {
		return nil, err
	}
	if err := applyTransition(record, attempt, to); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(record)
	}
	m.records[jobID] = record
	clone := *record
	return &clone, nil
}

// Checkpoint は進捗を更新します。
func (m *MemoryRegistry) Checkpoint(ctx context.Context, jobID string, attempt int, progress ProgressInfo) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.getLocked(jobID)
	if err != nil {
		return nil, err
	}
	if err := applyProgress(record, attempt, progress); err != nil {
		return record, err
	}
	m.records[jobID] = record
	clone := *record
	return &clone, nil
}

// ListActive は非終端レコードを新しい順に返します。
func (m *MemoryRegistry) ListActive(ctx context.Context, userID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []*Record
	for _, record := range m.records {
		if m.expired(record) || record.Status.Terminal() {
			continue
		}
		if userID != "" && record.UserID != userID {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Delete はレコードを削除します。
func (m *MemoryRegistry) Delete(ctx context.Context, jobIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, jobID := range jobIDs {
		delete(m.records, jobID)
	}
	return nil
}

func (m *MemoryRegistry) getLocked(jobID string) (*Record, error) {
	record, ok := m.records[jobID]
	if !ok || m.expired(record) {
		delete(m.records, jobID)
		return nil, ErrJobNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryRegistry) expired(record *Record) bool {
	return !record.ExpiresAt.IsZero() && time.Now().UTC().After(record.ExpiresAt)
}
