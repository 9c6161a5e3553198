package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix   = "job:"
	jobIndexKey    = "jobs:index"
	ownerKeyPrefix = "jobs:owner:"
)

// RedisStore はジョブ状態を Redis に保存する Store 実装です。
// レコードはJSONで保持し、挿入順インデックスとオーナー別インデックスを
// あわせて管理します。保持期限は設けません（削除は外部の保守作業）。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Create はジョブを登録します。同じIDが存在する場合は ErrJobExists を返します。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}

	now := time.Now().UTC()
	stored := record.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(record.JobID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobExists
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, jobIndexKey, record.JobID)
	if stored.OwnerID != "" {
		pipe.SAdd(ctx, ownerKey(stored.OwnerID), record.JobID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get はジョブを取得します。存在しない場合は (nil, nil) を返します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// List は全ジョブを挿入順で返します。
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.rdb.LRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchAll(ctx, ids)
}

// ListByOwner は指定オーナーのジョブを作成日時順で返します。
func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("ownerID is required")
	}
	ids, err := s.rdb.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	records, err := s.fetchAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	// SMembers の順序は不定のため作成日時で並べ直す
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// MarkRunning はジョブを RUNNING に遷移させます。
func (s *RedisStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.markRunning()
	})
}

// UpdateProgress は進捗を更新します。
func (s *RedisStore) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.advanceProgress(percent)
	})
}

// MarkDone はジョブ完了を確定します。
func (s *RedisStore) MarkDone(ctx context.Context, jobID, decision, reportPath string) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.markDone(decision, reportPath)
	})
}

// MarkFailed はジョブ失敗を確定します。
func (s *RedisStore) MarkFailed(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.markFailed()
	})
}

// update は WATCH による read-modify-write で1レコードを更新します。
// 同一レコードへの並行更新が競合した場合は再試行します。
func (s *RedisStore) update(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return ErrJobNotFound
				}
				return err
			}

			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			mutate(&record)
			record.UpdatedAt = time.Now().UTC()

			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func (s *RedisStore) fetchAll(ctx context.Context, ids []string) ([]*Record, error) {
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// インデックスだけ残った削除済みレコードは読み飛ばす
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func ownerKey(ownerID string) string {
	return ownerKeyPrefix + ownerID
}
