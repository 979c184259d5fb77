package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/logger"
	"tempmail/sessionbox/internal/storage/postgres"
)

// main 对配置的数据库执行模式迁移。
//
// 建表与索引由 GORM 的 AutoMigrate 负责，PostgreSQL 额外创建
// 活跃行上的部分唯一索引。迁移是幂等的，可以重复执行。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "migrate requires a configured database (SESSIONBOX_DATABASE_TYPE / SESSIONBOX_DATABASE_DSN)")
		os.Exit(1)
	}

	// NewStore 在建立连接后立即执行迁移
	store, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	defer store.Close()

	log.Info("migration completed", zap.String("type", cfg.Database.Type))
}
