package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message 表示投递到收件箱的一封邮件。写入由外部的 SMTP 接收端
// 通过消息存储接口完成；收件箱被"立即删除"时邮件整体软删除，
// 收件箱被物理回收时邮件级联物理删除。
type Message struct {
	ID         string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID    string         `json:"inboxId" gorm:"type:varchar(36);index"`
	From       string         `json:"from" gorm:"type:varchar(255)"`
	To         string         `json:"to" gorm:"type:varchar(255)"`
	Subject    string         `json:"subject" gorm:"type:varchar(998)"`
	Raw        string         `json:"-" gorm:"type:text"`
	ReceivedAt time.Time      `json:"receivedAt"`
	CreatedAt  time.Time      `json:"-"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}
