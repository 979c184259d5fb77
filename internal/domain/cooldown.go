package domain

import "time"

// AddressCooldown 记录某个地址最近一次被使用的时间，以及在
// CooldownUntil 之前禁止再次分配。它是纯粹的限速记录而不是审计
// 数据，所以没有软删除：过期后由清理任务直接物理删除。
type AddressCooldown struct {
	ID            uint      `gorm:"primaryKey"`
	LocalPart     string    `gorm:"type:varchar(64);uniqueIndex:idx_cooldowns_address"`
	Domain        string    `gorm:"type:varchar(100);uniqueIndex:idx_cooldowns_address"`
	LastUsedAt    time.Time
	CooldownUntil time.Time `gorm:"index"`
}

// Cooling 判断地址在 now 时刻是否仍处于冷却期。
func (c *AddressCooldown) Cooling(now time.Time) bool {
	return now.Before(c.CooldownUntil)
}
