package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリ上の Store 実装です。
// Redis未構成の開発環境とテストで使用します。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // 挿入順
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Create はジョブを登録します。同じIDが存在する場合は ErrJobExists を返します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.JobID]; ok {
		return ErrJobExists
	}

	now := time.Now().UTC()
	stored := record.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.records[record.JobID] = stored
	s.order = append(s.order, record.JobID)
	return nil
}

// Get はジョブを取得します。存在しない場合は (nil, nil) を返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	return record.clone(), nil
}

// List は全ジョブを挿入順で返します。
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.records[id].clone())
	}
	return result, nil
}

// ListByOwner は指定オーナーのジョブを挿入順で返します。
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Record
	for _, id := range s.order {
		if record := s.records[id]; record.OwnerID == ownerID {
			result = append(result, record.clone())
		}
	}
	return result, nil
}

// MarkRunning はジョブを RUNNING に遷移させます。
func (s *MemoryStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(jobID, func(record *Record) {
		record.markRunning()
	})
}

// UpdateProgress は進捗を更新します。
func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	return s.update(jobID, func(record *Record) {
		record.advanceProgress(percent)
	})
}

// MarkDone はジョブ完了を確定します。
func (s *MemoryStore) MarkDone(ctx context.Context, jobID, decision, reportPath string) error {
	return s.update(jobID, func(record *Record) {
		record.markDone(decision, reportPath)
	})
}

// MarkFailed はジョブ失敗を確定します。
func (s *MemoryStore) MarkFailed(ctx context.Context, jobID string) error {
	return s.update(jobID, func(record *Record) {
		record.markFailed()
	})
}

func (s *MemoryStore) update(jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	mutate(record)
	record.UpdatedAt = time.Now().UTC()
	return nil
}
