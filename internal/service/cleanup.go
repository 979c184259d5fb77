package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/monitoring"
)

// InboxMaintainer 是清理编排器消费的批处理入口，由
// SessionInboxService 实现。
type InboxMaintainer interface {
	ProcessExpired(limit int) (int, error)
	CountExpirable() (int, error)
	CleanupOld(ageMinutes, limit int) (int, error)
	CleanupExpiredCooldowns(limit int) (int, error)
}

// CleanupOrchestrator 执行有墙钟预算的分阶段批量维护：
//
//	阶段一 标记过期（active → expired）
//	阶段二 物理删除静置到期或已软删除的收件箱
//	阶段三 清理过期的地址冷却记录
//
// 阶段顺序有意义：先标记过期再物理删除，保证刚跨过 TTL 的收件箱
// 至少经历一个完整的静置周期而不是被跳过。每个阶段按固定批次循环，
// 直到某个批次未填满（积压耗尽）或预算用完。预算在每个批次开始前
// 检查，单个批次可能轻微超时，但不会超过一个批次的时长。
type CleanupOrchestrator struct {
	inboxes InboxMaintainer
	metrics *monitoring.Metrics
	log     *zap.Logger
	clock   func() time.Time
}

// NewCleanupOrchestrator 创建清理编排器。metrics 可以为 nil。
func NewCleanupOrchestrator(inboxes InboxMaintainer, metrics *monitoring.Metrics, log *zap.Logger) *CleanupOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupOrchestrator{
		inboxes: inboxes,
		metrics: metrics,
		log:     log,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// RunFullCleanup 执行一次完整的维护运行并返回累计统计。
//
// Completed=false 表示参数校验失败、预算耗尽或某阶段出错的部分
// 运行；每个阶段幂等且批次有界，由调度方在下个周期重试即可补齐。
// 阶段出错会中止整次运行，但已累计的统计随结果返回。
func (o *CleanupOrchestrator) RunFullCleanup(cfg domain.CleanupConfig) (domain.CleanupStats, error) {
	stats := domain.CleanupStats{}
	if err := cfg.Validate(); err != nil {
		return stats, err
	}

	start := o.clock()
	deadline := start.Add(time.Duration(cfg.MaxRuntimeSeconds) * time.Second)

	if cfg.DryRun {
		return o.dryRun(stats, start)
	}

	phases := []struct {
		name string
		step func() (int, error)
		sink *int
	}{
		{"mark-expired", func() (int, error) { return o.inboxes.ProcessExpired(cfg.BatchSize) }, &stats.InboxesExpired},
		{"purge-inboxes", func() (int, error) { return o.inboxes.CleanupOld(cfg.InboxAgeMinutes, cfg.BatchSize) }, &stats.InboxesDeleted},
		{"purge-cooldowns", func() (int, error) { return o.inboxes.CleanupExpiredCooldowns(cfg.BatchSize) }, &stats.CooldownsDeleted},
	}

	budgetExhausted := false
	for _, phase := range phases {
		for {
			if !o.clock().Before(deadline) {
				budgetExhausted = true
				o.log.Warn("cleanup budget exhausted",
					zap.String("phase", phase.name),
					zap.Int("max_runtime_seconds", cfg.MaxRuntimeSeconds),
				)
				break
			}

			affected, err := phase.step()
			if err != nil {
				stats.ExecutionSeconds = o.clock().Sub(start).Seconds()
				o.observe(stats, "error")
				return stats, fmt.Errorf("cleanup phase %s: %w", phase.name, err)
			}
			*phase.sink += affected

			if cfg.Verbose {
				o.log.Info("cleanup batch done",
					zap.String("phase", phase.name),
					zap.Int("affected", affected),
				)
			}

			// 批次未填满说明积压已经耗尽
			if affected < cfg.BatchSize {
				break
			}
		}
		if budgetExhausted {
			break
		}
	}

	stats.Completed = !budgetExhausted
	stats.ExecutionSeconds = o.clock().Sub(start).Seconds()

	result := "completed"
	if !stats.Completed {
		result = "partial"
	}
	o.observe(stats, result)
	o.log.Info("cleanup run finished",
		zap.Int("inboxes_expired", stats.InboxesExpired),
		zap.Int("inboxes_deleted", stats.InboxesDeleted),
		zap.Int("cooldowns_deleted", stats.CooldownsDeleted),
		zap.Float64("execution_seconds", stats.ExecutionSeconds),
		zap.Bool("completed", stats.Completed),
	)
	return stats, nil
}

// dryRun 只报告不落库。阶段一用只读计数给出会过期的数量；阶段二、
// 三直接跳过并报零。这是有意的近似预览：精确预览需要复制存储层的
// 筛选谓词，维护成本不值得。
func (o *CleanupOrchestrator) dryRun(stats domain.CleanupStats, start time.Time) (domain.CleanupStats, error) {
	count, err := o.inboxes.CountExpirable()
	if err != nil {
		stats.ExecutionSeconds = o.clock().Sub(start).Seconds()
		return stats, fmt.Errorf("cleanup dry-run count: %w", err)
	}
	stats.InboxesExpired = count
	stats.Completed = true
	stats.ExecutionSeconds = o.clock().Sub(start).Seconds()

	o.log.Info("cleanup dry-run: would mark expired", zap.Int("count", count))
	o.log.Info("cleanup dry-run: inbox purge phase skipped (reported as zero)")
	o.log.Info("cleanup dry-run: cooldown purge phase skipped (reported as zero)")
	return stats, nil
}

func (o *CleanupOrchestrator) observe(stats domain.CleanupStats, result string) {
	if o.metrics == nil {
		return
	}
	o.metrics.CleanupRuns.WithLabelValues(result).Inc()
	o.metrics.CleanupDuration.Observe(stats.ExecutionSeconds)
	o.metrics.InboxesExpired.Add(float64(stats.InboxesExpired))
	o.metrics.InboxesPurged.Add(float64(stats.InboxesDeleted))
	o.metrics.CooldownsPurged.Add(float64(stats.CooldownsDeleted))
}
