// Package jobs はCV/求人票マッチングジョブのライフサイクル管理を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/config"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/match"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/progress"
)

const (
	taskTypeEvaluate = "jobs:evaluate"
	queueEvaluate    = "evaluate"
)

// AckStatusProcessing は受理レスポンスの固定ステータスです。
// レコード自体は PENDING から始まります。
const AckStatusProcessing = "PROCESSING"

// Submission は保存済みアップロードへの参照です。
// パスは呼び出し側の責任で永続化されていることが前提です。
// JobID にはアップロードの保存に使ったIDを渡します。レコードのジョブIDと
// 保存ディレクトリ名が一致し、レコードだけでディレクトリを特定できます。
type Submission struct {
	JobID  string
	CVPath string
	JDPath string
	CVType string
	JDType string
}

// Ack は Submit の同期レスポンスです。
type Ack struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// TaskPayload は評価タスクのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// scheduler はジョブ実行の投入先です。Redis構成時はAsynqのキュー、
// 未構成時はジョブごとのゴルーチンになります。
type scheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

// Manager はジョブの受理・実行・完了確定を担います。
// 受理はリクエストスレッド上で同期的に行い、評価はワーカーコンテキストで
// 実行して進捗を Hub へ中継します。
type Manager struct {
	cfg       *config.Config
	store     Store
	hub       *progress.Hub
	evaluator match.Evaluator
	scheduler scheduler
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	logger    *log.Logger
}

// NewManager は Manager を初期化します。
// cfg.QueueRedisURL が設定されている場合はAsynqのワーカープール
// （並列数 cfg.WorkerConcurrency）を使い、未設定の場合はジョブごとに
// ゴルーチンを起動します。
func NewManager(cfg *config.Config, store Store, hub *progress.Hub, evaluator match.Evaluator, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if hub == nil {
		return nil, errors.New("hub is nil")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	manager := &Manager{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		evaluator: evaluator,
		logger:    logger,
	}

	if cfg.QueueRedisURL != "" {
		opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		manager.client = asynq.NewClient(opt)
		manager.server = asynq.NewServer(
			opt,
			asynq.Config{
				Concurrency: cfg.WorkerConcurrency,
				Queues: map[string]int{
					queueEvaluate: 1,
				},
			},
		)
		manager.mux = asynq.NewServeMux()
		manager.mux.HandleFunc(taskTypeEvaluate, manager.handleEvaluateTask)
		manager.scheduler = &asynqScheduler{client: manager.client}
	} else {
		manager.scheduler = &goScheduler{manager: manager}
	}

	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
// ゴルーチン実行モードでは何もしません。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はワーカーとキュークライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.client != nil {
		m.client.Close()
	}
	return nil
}

// Submit はジョブを受理します。初期レコード（PENDING・進捗0）を永続化して
// から実行を投入し、評価の完了は待ちません。返されたジョブIDは即座に
// 状態照会と観測者登録に使用できます。
func (m *Manager) Submit(ctx context.Context, ownerID string, sub Submission) (*Ack, error) {
	if sub.CVPath == "" || sub.JDPath == "" {
		return nil, fmt.Errorf("cv and jd paths are required")
	}

	jobID := sub.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	record := &Record{
		JobID:    jobID,
		OwnerID:  ownerID,
		CVPath:   sub.CVPath,
		JDPath:   sub.JDPath,
		CVType:   sub.CVType,
		JDType:   sub.JDType,
		Status:   StatusPending,
		Progress: 0,
	}

	// ストアへの書き込み失敗は呼び出し元へそのまま返す（ジョブは作られない）
	if err := m.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	if err := m.scheduler.Schedule(ctx, record.JobID); err != nil {
		// 実行が始まらないジョブを PENDING のまま残さない
		if markErr := m.store.MarkFailed(ctx, record.JobID); markErr != nil {
			m.logger.Printf("failed to mark unscheduled job as failed job=%s: %v", record.JobID, markErr)
		}
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}

	return &Ack{JobID: record.JobID, Status: AckStatusProcessing}, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// ListRecords は全ジョブを返します。
func (m *Manager) ListRecords(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// ListRecordsByOwner は指定オーナーのジョブを返します。
func (m *Manager) ListRecordsByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

// handleEvaluateTask は Asynq ワーカー上の評価タスクハンドラーです。
// エラーを返すと再試行で完了確定が重複しうるため、実行エラーはここで吸収します。
func (m *Manager) handleEvaluateTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		m.logger.Printf("invalid evaluate task payload: %v", err)
		return nil
	}
	if payload.JobID == "" {
		m.logger.Printf("evaluate task missing jobId")
		return nil
	}
	m.ProcessJob(ctx, payload.JobID)
	return nil
}

// ProcessJob はジョブ1件の実行本体です。ジョブごとにちょうど1回呼ばれます。
// 評価中のあらゆるエラー（パイプライン失敗・I/Oエラー・panic）は
// FAILED への遷移に変換され、ワーカーの外へは伝播しません。
func (m *Manager) ProcessJob(ctx context.Context, jobID string) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		m.logger.Printf("failed to load job record job=%s: %v", jobID, err)
		return
	}
	if record == nil {
		m.logger.Printf("job record missing, skipping execution job=%s", jobID)
		return
	}

	if err := m.store.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return
		}
		m.logger.Printf("failed to mark job running job=%s: %v", jobID, err)
	}

	reportPath := filepath.Join(filepath.Dir(record.CVPath), match.ReportFilename)

	result, runErr := m.runEvaluation(ctx, record, reportPath)
	if runErr != nil {
		m.finalizeFailure(ctx, jobID, runErr)
		return
	}
	m.finalizeSuccess(ctx, jobID, result.Decision, reportPath)
}

// runEvaluation は Evaluator を呼び出し、進捗コールバックをストア更新と
// Hub への配信に中継します。Hub 側はバッファ付きで評価スレッドを
// ブロックしません。panic も失敗として回収します。
func (m *Manager) runEvaluation(ctx context.Context, record *Record, reportPath string) (result *match.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()

	jobID := record.JobID
	onProgress := func(message string, percent int) {
		if updateErr := m.store.UpdateProgress(ctx, jobID, percent); updateErr != nil && !errors.Is(updateErr, ErrJobNotFound) {
			m.logger.Printf("failed to update progress job=%s: %v", jobID, updateErr)
		}
		m.hub.Publish(jobID, progress.NewProgressEvent(jobID, message, percent))
	}

	result, err = m.evaluator.Run(ctx, match.Input{
		CVPath:     record.CVPath,
		JDPath:     record.JDPath,
		CVType:     record.CVType,
		JDType:     record.JDType,
		OutputPath: reportPath,
	}, onProgress)

	if err == nil && result == nil {
		err = fmt.Errorf("evaluator returned no result")
	}
	return result, err
}

// finalizeSuccess は COMPLETED を永続化してから最終イベントを配信します。
// レコードが既に存在しない場合は何もしません。
func (m *Manager) finalizeSuccess(ctx context.Context, jobID, decision, reportPath string) {
	if err := m.store.MarkDone(ctx, jobID, decision, reportPath); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			m.logger.Printf("job record missing at finalize, skipping job=%s", jobID)
			return
		}
		// 永続化に失敗しても観測者への通知は行う。永続状態が通知より
		// 遅れうることは既知の弱整合点として許容する。
		m.logger.Printf("failed to persist completion job=%s: %v", jobID, err)
	}
	m.hub.Publish(jobID, progress.NewProgressEvent(jobID, "Evaluation Complete", 100))
	m.logger.Printf("job completed job=%s decision=%s", jobID, decision)
}

// finalizeFailure は FAILED を永続化してからエラーイベントを配信します。
func (m *Manager) finalizeFailure(ctx context.Context, jobID string, runErr error) {
	m.logger.Printf("job failed job=%s: %v", jobID, runErr)
	if err := m.store.MarkFailed(ctx, jobID); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return
		}
		m.logger.Printf("failed to persist failure job=%s: %v", jobID, err)
	}
	m.hub.Publish(jobID, progress.NewProgressEvent(jobID, "Error: "+runErr.Error(), 0))
}

type asynqScheduler struct {
	client *asynq.Client
}

func (s *asynqScheduler) Schedule(ctx context.Context, jobID string) error {
	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	// 再試行しない: 終端状態の確定はジョブごとに1回だけ行う
	task := asynq.NewTask(taskTypeEvaluate, body, asynq.Queue(queueEvaluate))
	_, err = s.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	return err
}

type goScheduler struct {
	manager *Manager
}

func (s *goScheduler) Schedule(ctx context.Context, jobID string) error {
	// リクエストのキャンセルに実行を巻き込まないよう ctx は引き継がない
	go s.manager.ProcessJob(context.Background(), jobID)
	return nil
}
