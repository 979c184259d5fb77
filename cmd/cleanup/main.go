package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/logger"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/postgres"
)

// main 执行一次完整的清理批处理并以 JSON 输出统计结果。
//
// 与服务进程内的定时清理共用同一套编排逻辑，适合由 cron 或
// Kubernetes CronJob 调度。命令行参数覆盖环境变量里的清理配置。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ageMinutes := flag.Int("age-minutes", cfg.Cleanup.InboxAgeMinutes, "expired/abandoned 收件箱静置多少分钟后物理删除")
	batchSize := flag.Int("batch-size", cfg.Cleanup.BatchSize, "每批次处理的行数")
	maxRuntime := flag.Int("max-runtime-seconds", cfg.Cleanup.MaxRuntimeSeconds, "单次运行的墙钟预算（秒）")
	verbose := flag.Bool("verbose", cfg.Cleanup.Verbose, "输出 debug 级别日志")
	dryRun := flag.Bool("dry-run", cfg.Cleanup.DryRun, "只统计不删除")
	flag.Parse()

	cfg.Cleanup.InboxAgeMinutes = *ageMinutes
	cfg.Cleanup.BatchSize = *batchSize
	cfg.Cleanup.MaxRuntimeSeconds = *maxRuntime
	cfg.Cleanup.Verbose = *verbose
	cfg.Cleanup.DryRun = *dryRun

	logLevel := cfg.Log.Level
	if cfg.Cleanup.Verbose {
		logLevel = "debug"
	}
	log, err := logger.NewLogger(logger.Config{
		Level:       logLevel,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 清理工具只对持久化存储有意义，内存存储随进程消亡
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "cleanup requires a configured database (SESSIONBOX_DATABASE_TYPE / SESSIONBOX_DATABASE_DSN)")
		os.Exit(1)
	}

	store, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database storage", zap.Error(err))
	}
	defer store.Close()

	inboxService := service.NewSessionInboxService(store, cfg, log)
	orchestrator := service.NewCleanupOrchestrator(inboxService, nil, log)

	stats, err := orchestrator.RunFullCleanup(cfg.Cleanup.Params())
	if err != nil {
		log.Error("cleanup failed", zap.Error(err))
		os.Exit(1)
	}

	output, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Fatal("failed to encode stats", zap.Error(err))
	}
	fmt.Println(string(output))

	if !stats.Completed {
		// 预算耗尽属于正常退出，下次运行会继续处理剩余积压
		log.Warn("cleanup hit runtime budget before draining the backlog")
	}
}
