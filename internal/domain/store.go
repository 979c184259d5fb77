package domain

import "time"

// Store 是核心层消费的持久化契约。实现方（GORM/内存）负责查询
// 执行；核心层只依赖这里的语义：
//
//   - WithTransaction 提供事务性工作单元，回调返回错误时整体回滚。
//     多步写入（创建收件箱 + 记录冷却）必须在同一个事务里完成。
//   - CreateInbox 在唯一约束冲突时返回 ErrConflict 类别错误，这是
//     并发首次访问的裁决机制："第一个写入者赢，第二个拿到冲突"。
//   - 所有扫描都接受调用方指定的行数上限以支持批处理。
type Store interface {
	// WithTransaction 在单个事务内执行 fn，fn 返回错误时回滚。
	WithTransaction(fn func(tx Store) error) error

	// ========== Inbox ==========

	CreateInbox(inbox *Inbox) error
	GetInbox(id string) (*Inbox, error)
	// GetInboxBySessionHash 返回会话名下最近创建的未软删除收件箱，
	// 不限状态。
	GetInboxBySessionHash(hash string) (*Inbox, error)
	// GetActiveInboxBySessionHash 只匹配 status=active 的行。
	GetActiveInboxBySessionHash(hash string) (*Inbox, error)
	// GetActiveInboxByAddress 按地址查活跃收件箱，供投递端路由。
	GetActiveInboxByAddress(localPart, domain string) (*Inbox, error)
	// AddressInUse 判断地址是否被某个活跃收件箱占用。
	AddressInUse(localPart, domain string) (bool, error)
	// TouchInbox 刷新 lastAccessedAt。
	TouchInbox(id string, at time.Time) error
	// TransitionInboxStatus 更新状态；目标为 expired 时恰好一次地
	// 盖上 expiredAt 戳（已有值不覆盖），重复调用幂等。
	TransitionInboxStatus(id string, to InboxStatus, at time.Time) error
	// SoftDeleteInbox 软删除收件箱及其全部邮件，状态置为 deleted。
	SoftDeleteInbox(id string, at time.Time) error
	// ListTTLElapsed 返回至多 limit 个 TTL 已耗尽的活跃收件箱
	// （now - lastAccessedAt >= ttlMinutes），最久未访问的在前。
	ListTTLElapsed(now time.Time, limit int) ([]Inbox, error)
	// CountTTLElapsed 是 ListTTLElapsed 的只读计数版，供演练模式用。
	CountTTLElapsed(now time.Time) (int64, error)
	// HardDeleteAged 物理删除至多 limit 个符合条件的收件箱：
	// expired/abandoned 且 updatedAt 不晚于 cutoff，或已软删除的行。
	// 邮件级联删除，返回删除的收件箱数。
	HardDeleteAged(cutoff time.Time, limit int) (int64, error)

	// ========== AddressCooldown ==========

	// RecordCooldown 写入或刷新地址的冷却记录。
	RecordCooldown(cd *AddressCooldown) error
	// AddressInCooldown 判断地址在 now 时刻是否处于未过期冷却。
	AddressInCooldown(localPart, domain string, now time.Time) (bool, error)
	// DeleteExpiredCooldowns 物理删除至多 limit 条已过冷却期的记录。
	DeleteExpiredCooldowns(now time.Time, limit int) (int64, error)

	// ========== Message（投递协作方接口）==========

	SaveMessage(message *Message) error
	ListMessages(inboxID string) ([]Message, error)

	// ========== 运维 ==========

	Ping() error
	Close() error
}
