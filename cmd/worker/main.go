// Package main は分析ワーカーのエントリーポイントです。
// APIサーバーとは独立したプロセスとしてキューを消費します。
package main

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/config"
	"github.com/yourusername/fin-analyzer/internal/jobs"
	"github.com/yourusername/fin-analyzer/internal/logger"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}

	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		log.WithError(err).Fatal("invalid QUEUE_REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpt)
	registry := jobs.NewRedisRegistry(redisClient, cfg.JobResultTTL)

	reportStore := reports.NewStore(db)

	worker, err := jobs.NewWorker(cfg, registry, reportStore, &analysis.StubAnalyzer{Delay: 2 * time.Second}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build worker")
	}

	server, err := jobs.NewServer(cfg, worker, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build job server")
	}

	log.WithField("concurrency", cfg.WorkerConcurrency).Info("starting analysis worker")
	// Run はシグナル（SIGINT/SIGTERM）を受けて自動でシャットダウンします。
	if err := server.Run(); err != nil {
		log.WithError(err).Fatal("worker stopped unexpectedly")
	}
}
