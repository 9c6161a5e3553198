package main

import (
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/config"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/jobs"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/match"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/progress"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/storage"
)

// jobDeps はジョブ実行系の依存をまとめた構造体です。
// Hub はアプリケーション起動時に一度だけ構築し、HTTP層とオーケストレーターの
// 双方へ参照で渡します。
type jobDeps struct {
	store   jobs.Store
	manager *jobs.Manager
	hub     *progress.Hub
	uploads *storage.Service
}

func setupJobs(cfg *config.Config) (*jobDeps, error) {
	logger := log.Default()

	hub := progress.NewHub(logger)
	uploads := storage.NewService(cfg.UploadDir, cfg.MaxFileSize, cfg.MaxPages)

	var store jobs.Store
	if cfg.QueueRedisURL != "" {
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, err
		}
		store = jobs.NewRedisStore(redis.NewClient(opt))
	} else {
		// Redis未構成時はインメモリで動作する（ローカル開発用）
		log.Printf("QUEUE_REDIS_URL is not set, using in-memory job store")
		store = jobs.NewMemoryStore()
	}

	evaluator, err := match.NewCommandEvaluator(cfg.PipelineArgv(), logger)
	if err != nil {
		return nil, err
	}

	manager, err := jobs.NewManager(cfg, store, hub, evaluator, logger)
	if err != nil {
		return nil, err
	}
	manager.StartWorkers()

	return &jobDeps{
		store:   store,
		manager: manager,
		hub:     hub,
		uploads: uploads,
	}, nil
}
