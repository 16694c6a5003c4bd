// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/auth"
	"github.com/yourusername/fin-analyzer/internal/config"
	"github.com/yourusername/fin-analyzer/internal/documents"
	"github.com/yourusername/fin-analyzer/internal/jobs"
	"github.com/yourusername/fin-analyzer/internal/logger"
	"github.com/yourusername/fin-analyzer/internal/mappings"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// データベース接続とマイグレーション
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	if err := db.AutoMigrate(
		&auth.User{},
		&documents.Document{},
		&reports.Report{},
		&mappings.TaskReportMapping{},
	); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	// ジョブレジストリ用のRedis接続
	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		log.WithError(err).Fatal("invalid QUEUE_REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpt)
	registry := jobs.NewRedisRegistry(redisClient, cfg.JobResultTTL)

	// キュークライアント（投入用）とインスペクター（介入用）
	connOpt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		log.WithError(err).Fatal("invalid QUEUE_REDIS_URL")
	}
	queueClient := asynq.NewClient(connOpt)
	defer queueClient.Close()
	inspector := asynq.NewInspector(connOpt)

	// サービスとストアの組み立て
	docService := documents.NewService(cfg, db, log)
	reportStore := reports.NewStore(db)
	mappingStore := mappings.NewStore(db)

	orchestrator, err := jobs.NewOrchestrator(
		cfg,
		db,
		registry,
		reportStore,
		mappingStore,
		queueClient,
		inspector,
		&documentResolver{docs: docService},
		log,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to build orchestrator")
	}

	// 同一プロセスでワーカーも起動する（小規模構成向け）。
	// 分析ワーカーを別プロセスにしたい場合は cmd/worker を使います。
	worker, err := jobs.NewWorker(cfg, registry, reportStore, &analysis.StubAnalyzer{Delay: 2 * time.Second}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build worker")
	}
	jobServer, err := jobs.NewServer(cfg, worker, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build job server")
	}
	if err := jobServer.Start(); err != nil {
		log.WithError(err).Fatal("failed to start job server")
	}
	defer jobServer.Shutdown()

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
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
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

	setupRoutes(router, cfg, db, orchestrator, inspector, docService, reportStore, mappingStore)

	addr := ":" + cfg.Port
	log.WithField("addr", addr).WithField("mode", cfg.GinMode).Info("starting API server")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fin-analyzer-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	orchestrator *jobs.Orchestrator,
	inspector *asynq.Inspector,
	docService *documents.Service,
	reportStore *reports.Store,
	mappingStore *mappings.Store,
) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg, db)

	api := router.Group("/api")
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

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			// ドキュメント管理
			protected.POST("/documents", documents.UploadHandler(docService))
			protected.GET("/documents", documents.ListHandler(docService))
			protected.GET("/documents/:id", documents.GetHandler(docService))
			protected.DELETE("/documents/:id", documents.DeleteHandler(docService))

			// 分析ジョブの投入と照会
			protected.POST("/analysis/:type", jobs.SubmitHandler(orchestrator, &uploadSaver{docs: docService}, resolveCaller))
			protected.GET("/tasks/active", jobs.ActiveHandler(orchestrator, resolveCaller))
			protected.GET("/tasks/stats", jobs.StatsHandler(inspector, resolveCaller))
			protected.GET("/tasks/:id/status", jobs.StatusHandler(orchestrator, resolveCaller))
			protected.POST("/tasks/:id/cancel", jobs.CancelHandler(orchestrator, resolveCaller))

			// タスクとレポートの対応付け
			protected.GET("/task-mappings", jobs.MappingListHandler(mappingStore, resolveCaller))
			protected.POST("/task-mappings/cleanup", jobs.MappingCleanupHandler(orchestrator, resolveCaller))
			protected.GET("/task-mappings/by-task/:id", jobs.MappingByTaskHandler(mappingStore, resolveCaller))
			protected.DELETE("/task-mappings/by-task/:id", jobs.MappingDeleteByTaskHandler(mappingStore, resolveCaller))
			protected.GET("/task-mappings/by-report/:id", jobs.MappingByReportHandler(orchestrator, resolveCaller))
			protected.DELETE("/task-mappings/by-report/:id", jobs.MappingDeleteByReportHandler(mappingStore, resolveCaller))

			// レポート閲覧
			protected.GET("/reports", reports.ListHandler(reportStore))
			protected.GET("/reports/:id", reports.GetHandler(reportStore))
			protected.GET("/reports/:id/download", reports.DownloadHandler(reportStore))
		}
	}
}
