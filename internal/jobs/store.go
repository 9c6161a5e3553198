package jobs

import (
	"context"
	"errors"
)

var (
	// ErrJobExists は同じIDのジョブが既に存在する場合に返されます。
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound は対象のジョブが存在しない場合に返されます。
	ErrJobNotFound = errors.New("job not found")
)

// Store はジョブレコードの永続化層です。
// Get は見つからない場合に (nil, nil) を返します。更新系は対象が存在しない
// 場合に ErrJobNotFound を返します。同一レコードへの並行更新が部分的に
// 混ざらないことを実装が保証します。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Record, error)
	MarkRunning(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, percent int) error
	MarkDone(ctx context.Context, jobID, decision, reportPath string) error
	MarkFailed(ctx context.Context, jobID string) error
}
