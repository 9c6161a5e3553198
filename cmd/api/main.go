// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/auth"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/config"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/jobs"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/progress"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// ジョブ実行系の組み立て
	deps, err := setupJobs(cfg)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	defer deps.manager.Shutdown(context.Background())

	// 認証マネージャーの組み立て（ユーザー一覧の形式はここで検証される）
	authManager, err := auth.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to set up auth: %v", err)
	}

	// ルーティングの設定
	setupRoutes(router, authManager, deps)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "cv-job-matching-api",
		"version": "1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager, deps *jobDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// 観測者用WebSocket。ジョブIDごとに最後に接続した観測者が有効になる
	router.GET("/ws/jobs/:id", progress.StreamHandler(deps.hub, log.Default()))

	api := router.Group("/api/v1")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.POST("", jobs.SubmitHandler(deps.uploads, deps.manager))
			jobRoutes.GET("", jobs.ListHandler(deps.manager))
			jobRoutes.GET("/:id", jobs.StatusHandler(deps.manager))
			jobRoutes.GET("/:id/report", jobs.ReportHandler(deps.manager, deps.uploads))
			jobRoutes.GET("/:id/files/:role", jobs.InputFileHandler(deps.manager, deps.uploads))
		}

		// ログイン済みユーザー自身のジョブ一覧
		me := api.Group("/users/me")
		me.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			me.GET("/jobs", jobs.OwnerJobsHandler(deps.manager))
		}
	}
}
