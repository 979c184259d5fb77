package domain

// CleanupConfig 是一次清理运行的不可变参数。由调度层构造并传入
// 编排器，任何阶段执行前必须先通过 Validate。
type CleanupConfig struct {
	// InboxAgeMinutes 是 expired/abandoned 收件箱进入物理删除前
	// 需要静置的分钟数，至少 1。
	InboxAgeMinutes int
	// BatchSize 是每个批次处理的最大行数，1~10000。
	BatchSize int
	// MaxRuntimeSeconds 是整次运行的墙钟预算，至少 1。
	MaxRuntimeSeconds int
	// Verbose 打开逐批次日志。
	Verbose bool
	// DryRun 只报告不落库：阶段一给出只读的候选计数，阶段二、三
	// 直接跳过并报零（有意的近似预览）。
	DryRun bool
}

// Validate 校验清理参数，越界时返回 ErrConfigInvalid 类别错误。
func (c CleanupConfig) Validate() error {
	if c.InboxAgeMinutes < 1 {
		return &ConfigError{Field: "inboxAgeMinutes", Value: c.InboxAgeMinutes, Reason: "must be >= 1"}
	}
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return &ConfigError{Field: "batchSize", Value: c.BatchSize, Reason: "must be in 1..10000"}
	}
	if c.MaxRuntimeSeconds < 1 {
		return &ConfigError{Field: "maxRuntimeSeconds", Value: c.MaxRuntimeSeconds, Reason: "must be >= 1"}
	}
	return nil
}

// CleanupStats 是一次清理运行的累计结果。Completed=false 表示预算
// 耗尽或阶段出错导致的部分运行，应由调度方在下个周期重试；每个
// 阶段都是幂等且批次有界的，部分运行不会破坏数据。
type CleanupStats struct {
	InboxesExpired   int     `json:"inboxesExpired"`
	InboxesDeleted   int     `json:"inboxesDeleted"`
	CooldownsDeleted int     `json:"cooldownsDeleted"`
	ExecutionSeconds float64 `json:"executionTimeSeconds"`
	Completed        bool    `json:"completed"`
}
