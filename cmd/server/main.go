package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/health"
	"tempmail/sessionbox/internal/logger"
	"tempmail/sessionbox/internal/monitoring"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/smtp"
	"tempmail/sessionbox/internal/storage/memory"
	"tempmail/sessionbox/internal/storage/postgres"
	"tempmail/sessionbox/internal/storage/redis"
	httptransport "tempmail/sessionbox/internal/transport/http"
	"tempmail/sessionbox/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 的会话收件箱服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting sessionbox server",
		zap.Strings("domains", cfg.Inbox.AllowedDomains),
		zap.Int("ttl_minutes", cfg.Inbox.TTLMinutes),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层：配置了数据库就用数据库，否则退回内存存储
	var store domain.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		dbStore, err := postgres.NewStore(&cfg.Database)
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.Error(err))
		}
		store = dbStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Warn("using memory storage, data will not survive restarts")
	}
	defer store.Close()

	// 初始化 Prometheus 指标
	metrics := monitoring.NewMetrics()

	// 初始化 Redis 缓存（可选）
	var redisClient *redis.Client
	var cache *redis.Cache
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache = redis.NewCache(redisClient)
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	}

	// 初始化业务服务
	inboxService := service.NewSessionInboxService(store, cfg, log).WithMetrics(metrics)
	orchestrator := service.NewCleanupOrchestrator(inboxService, metrics, log)

	// 初始化 WebSocket Hub
	wsHub := websocket.NewHub(inboxService, cfg.CORS.AllowedOrigins, log)

	// 初始化健康检查
	healthChecker := health.NewChecker(store, redisClient)

	// 初始化 HTTP 路由
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Inboxes:      inboxService,
		Cache:        cache,
		WebSocketHub: wsHub,
		Metrics:      metrics,
		Health:       healthChecker,
		Logger:       log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 初始化 SMTP 服务器
	smtpBackend := smtp.NewBackend(inboxService, cfg, wsHub, cache, metrics, log)
	smtpServer := smtp.NewServer(smtpBackend, cfg)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期收件箱与冷却记录 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Cleanup.Interval)
		defer ticker.Stop()

		log.Info("starting periodic cleanup task", zap.Duration("interval", cfg.Cleanup.Interval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("cleanup task stopped")
				return nil
			case <-ticker.C:
				stats, err := orchestrator.RunFullCleanup(cfg.Cleanup.Params())
				if err != nil {
					log.Error("periodic cleanup failed", zap.Error(err))
					continue
				}
				if stats.InboxesExpired > 0 || stats.InboxesDeleted > 0 || stats.CooldownsDeleted > 0 {
					log.Info("periodic cleanup completed",
						zap.Int("inboxes_expired", stats.InboxesExpired),
						zap.Int("inboxes_deleted", stats.InboxesDeleted),
						zap.Int("cooldowns_deleted", stats.CooldownsDeleted),
					)
				}
			}
		}
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// Redis 订阅桥 goroutine：把其他实例发布的新邮件通知转给本地 hub
	if cache != nil {
		group.Go(func() error {
			return runNewMailBridge(groupCtx, cache, wsHub, log)
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 关闭 SMTP 服务器
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// runNewMailBridge 消费 Redis 的新邮件频道并转发给本进程的 hub。
// SMTP 入口配置了 Redis 时只发布不直推，这里是通知到达本地客户端
// 的唯一路径。
func runNewMailBridge(ctx context.Context, cache *redis.Cache, hub *websocket.Hub, log *zap.Logger) error {
	pubsub := cache.SubscribeNewMail(ctx)
	defer pubsub.Close()

	log.Info("starting new mail subscription bridge")

	for {
		select {
		case <-ctx.Done():
			log.Info("new mail subscription bridge stopped")
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return nil
			}
			inboxID := redis.InboxIDFromChannel(msg.Channel)
			if inboxID == "" {
				continue
			}
			var message domain.Message
			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				log.Warn("malformed new mail notification", zap.Error(err))
				continue
			}
			hub.NotifyNewMail(inboxID, &message)
		}
	}
}
