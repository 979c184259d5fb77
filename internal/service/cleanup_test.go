package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/sessionbox/internal/domain"
)

// stubMaintainer 用计数积压模拟批处理入口，记录每个阶段的调用。
type stubMaintainer struct {
	expireBacklog   int
	purgeBacklog    int
	cooldownBacklog int

	processCalls  int
	purgeCalls    int
	cooldownCalls int
	countCalls    int

	lastAgeMinutes int

	processErr error
	purgeErr   error
}

func (s *stubMaintainer) ProcessExpired(limit int) (int, error) {
	s.processCalls++
	if s.processErr != nil {
		return 0, s.processErr
	}
	n := min(limit, s.expireBacklog)
	s.expireBacklog -= n
	return n, nil
}

func (s *stubMaintainer) CountExpirable() (int, error) {
	s.countCalls++
	return s.expireBacklog, nil
}

func (s *stubMaintainer) CleanupOld(ageMinutes, limit int) (int, error) {
	s.purgeCalls++
	s.lastAgeMinutes = ageMinutes
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	n := min(limit, s.purgeBacklog)
	s.purgeBacklog -= n
	return n, nil
}

func (s *stubMaintainer) CleanupExpiredCooldowns(limit int) (int, error) {
	s.cooldownCalls++
	n := min(limit, s.cooldownBacklog)
	s.cooldownBacklog -= n
	return n, nil
}

func defaultCleanupConfig() domain.CleanupConfig {
	return domain.CleanupConfig{
		InboxAgeMinutes:   1440,
		BatchSize:         1000,
		MaxRuntimeSeconds: 300,
	}
}

func TestRunFullCleanupDrainsBacklogInBatches(t *testing.T) {
	stub := &stubMaintainer{expireBacklog: 2500, purgeBacklog: 10, cooldownBacklog: 3}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	stats, err := orch.RunFullCleanup(defaultCleanupConfig())
	require.NoError(t, err)

	assert.True(t, stats.Completed)
	assert.Equal(t, 2500, stats.InboxesExpired)
	assert.Equal(t, 10, stats.InboxesDeleted)
	assert.Equal(t, 3, stats.CooldownsDeleted)

	// 2500 的积压按 1000 一批需要三次调用：1000、1000、500
	assert.Equal(t, 3, stub.processCalls)
	assert.Equal(t, 1, stub.purgeCalls)
	assert.Equal(t, 1, stub.cooldownCalls)
	assert.Equal(t, 1440, stub.lastAgeMinutes)
}

func TestRunFullCleanupEmptyBacklog(t *testing.T) {
	stub := &stubMaintainer{}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	stats, err := orch.RunFullCleanup(defaultCleanupConfig())
	require.NoError(t, err)

	assert.True(t, stats.Completed)
	assert.Zero(t, stats.InboxesExpired)
	assert.Zero(t, stats.InboxesDeleted)
	assert.Zero(t, stats.CooldownsDeleted)

	// 空积压时每个阶段恰好探测一次
	assert.Equal(t, 1, stub.processCalls)
	assert.Equal(t, 1, stub.purgeCalls)
	assert.Equal(t, 1, stub.cooldownCalls)
}

func TestRunFullCleanupRejectsInvalidConfig(t *testing.T) {
	stub := &stubMaintainer{expireBacklog: 100}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	cfg := defaultCleanupConfig()
	cfg.MaxRuntimeSeconds = 0

	stats, err := orch.RunFullCleanup(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	// 校验失败时返回零值统计且没有任何写入
	assert.False(t, stats.Completed)
	assert.Zero(t, stats.InboxesExpired)
	assert.Zero(t, stub.processCalls)
	assert.Zero(t, stub.purgeCalls)
	assert.Zero(t, stub.cooldownCalls)
}

func TestRunFullCleanupConfigBounds(t *testing.T) {
	stub := &stubMaintainer{}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	t.Run("批次大小为零", func(t *testing.T) {
		cfg := defaultCleanupConfig()
		cfg.BatchSize = 0
		_, err := orch.RunFullCleanup(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	})

	t.Run("批次大小超出上限", func(t *testing.T) {
		cfg := defaultCleanupConfig()
		cfg.BatchSize = 10001
		_, err := orch.RunFullCleanup(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	})

	t.Run("静置时间为零", func(t *testing.T) {
		cfg := defaultCleanupConfig()
		cfg.InboxAgeMinutes = 0
		_, err := orch.RunFullCleanup(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	})
}

func TestRunFullCleanupDryRun(t *testing.T) {
	stub := &stubMaintainer{expireBacklog: 25, purgeBacklog: 40, cooldownBacklog: 7}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	cfg := defaultCleanupConfig()
	cfg.DryRun = true

	stats, err := orch.RunFullCleanup(cfg)
	require.NoError(t, err)

	assert.True(t, stats.Completed)
	assert.Equal(t, 25, stats.InboxesExpired)
	// 演练模式的后两个阶段跳过并报零，有意低报
	assert.Zero(t, stats.InboxesDeleted)
	assert.Zero(t, stats.CooldownsDeleted)

	// 只读计数，没有任何写入
	assert.Equal(t, 1, stub.countCalls)
	assert.Zero(t, stub.processCalls)
	assert.Zero(t, stub.purgeCalls)
	assert.Zero(t, stub.cooldownCalls)

	// 积压原样保留
	assert.Equal(t, 25, stub.expireBacklog)
	assert.Equal(t, 40, stub.purgeBacklog)
}

func TestRunFullCleanupPhaseErrorAborts(t *testing.T) {
	phaseErr := errors.New("storage unavailable")
	stub := &stubMaintainer{expireBacklog: 500, purgeBacklog: 10, purgeErr: phaseErr}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	stats, err := orch.RunFullCleanup(defaultCleanupConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, phaseErr)
	assert.Contains(t, err.Error(), "purge-inboxes")

	// 出错前的阶段统计随结果返回
	assert.Equal(t, 500, stats.InboxesExpired)
	assert.False(t, stats.Completed)
	// 后续阶段不再执行
	assert.Zero(t, stub.cooldownCalls)
}

func TestRunFullCleanupBudgetExhaustion(t *testing.T) {
	stub := &stubMaintainer{expireBacklog: 100, purgeBacklog: 100, cooldownBacklog: 100}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	// 虚拟时钟每次读取前进 600ms：预算 1 秒时第一阶段的批次检查
	// 通过，第二阶段的检查越过截止时间
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	orch.clock = func() time.Time {
		now := base.Add(time.Duration(calls) * 600 * time.Millisecond)
		calls++
		return now
	}

	cfg := defaultCleanupConfig()
	cfg.MaxRuntimeSeconds = 1

	stats, err := orch.RunFullCleanup(cfg)
	require.NoError(t, err)

	assert.False(t, stats.Completed)
	assert.Equal(t, 100, stats.InboxesExpired)
	// 预算耗尽的阶段及其后续不再执行
	assert.Zero(t, stub.purgeCalls)
	assert.Zero(t, stub.cooldownCalls)
}

func TestRunFullCleanupIdempotentSecondRun(t *testing.T) {
	stub := &stubMaintainer{expireBacklog: 42}
	orch := NewCleanupOrchestrator(stub, nil, nil)

	first, err := orch.RunFullCleanup(defaultCleanupConfig())
	require.NoError(t, err)
	assert.Equal(t, 42, first.InboxesExpired)

	second, err := orch.RunFullCleanup(defaultCleanupConfig())
	require.NoError(t, err)
	assert.True(t, second.Completed)
	assert.Zero(t, second.InboxesExpired)
}
