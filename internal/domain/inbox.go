package domain

import (
	"time"

	"gorm.io/gorm"
)

// InboxStatus 表示收件箱在生命周期状态机中的位置。
type InboxStatus string

// 收件箱状态。状态机只允许单向流转：
//
//	active → abandoned（用户轮换）
//	active → expired（TTL 到期，由清理任务标记）
//	active → deleted（用户立即删除）
//	abandoned|expired → deleted（清理任务软删除）
//	deleted → 物理删除（清理任务批量回收）
//
// 不存在回到 active 的转换：会话需要新收件箱时总是创建新行。
const (
	StatusActive    InboxStatus = "active"
	StatusAbandoned InboxStatus = "abandoned"
	StatusExpired   InboxStatus = "expired"
	StatusDeleted   InboxStatus = "deleted"
)

// Inbox 表示绑定到单个会话的一次性收件箱。
//
// SessionHash 是会话令牌的单向摘要（64 位十六进制字符），原始令牌
// 永远不落库、不写日志。TTL 以 LastAccessedAt 为基准计算，因此持续
// 被读取的收件箱可以无限续命。
//
// 唯一性约束（仅对 status=active 且未软删除的行生效，由存储层的
// 部分唯一索引保证）：每个 SessionHash 至多一个活跃收件箱，每个
// (LocalPart, Domain) 至多一个活跃收件箱。
type Inbox struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SessionHash    string         `json:"-" gorm:"type:char(64);index:idx_inboxes_session"`
	LocalPart      string         `json:"localPart" gorm:"type:varchar(64);index:idx_inboxes_address"`
	Domain         string         `json:"domain" gorm:"type:varchar(100);index:idx_inboxes_address"`
	Status         InboxStatus    `json:"status" gorm:"type:varchar(16);index"`
	TTLMinutes     int            `json:"ttlMinutes"`
	LastAccessedAt time.Time      `json:"lastAccessedAt" gorm:"index"`
	ExpiredAt      *time.Time     `json:"expiredAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	Messages []Message `json:"-" gorm:"foreignKey:InboxID"`
}

// Address 返回完整的邮箱地址。
func (i *Inbox) Address() string {
	return i.LocalPart + "@" + i.Domain
}

// InboxView 是对外暴露的收件箱快照。会话哈希不会出现在这里。
type InboxView struct {
	ID             string      `json:"id"`
	Address        string      `json:"address"`
	Status         InboxStatus `json:"status"`
	TTLMinutes     int         `json:"ttlMinutes"`
	LastAccessedAt time.Time   `json:"lastAccessedAt"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiredAt      *time.Time  `json:"expiredAt,omitempty"`
}

// View 生成收件箱的对外快照。
func (i *Inbox) View() InboxView {
	return InboxView{
		ID:             i.ID,
		Address:        i.Address(),
		Status:         i.Status,
		TTLMinutes:     i.TTLMinutes,
		LastAccessedAt: i.LastAccessedAt,
		CreatedAt:      i.CreatedAt,
		ExpiredAt:      i.ExpiredAt,
	}
}

// TTLElapsed 判断收件箱的 TTL 在 now 时刻是否已经耗尽。
func (i *Inbox) TTLElapsed(now time.Time) bool {
	return now.Sub(i.LastAccessedAt) >= time.Duration(i.TTLMinutes)*time.Minute
}
