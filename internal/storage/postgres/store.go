package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/domain"
)

// Store 基于 GORM 的存储实现，支持 PostgreSQL 和 MySQL。
//
// "每个会话/地址至多一个活跃收件箱"的唯一性由部分唯一索引保证
// （仅覆盖 status='active' 且未软删除的行）。MySQL 没有部分索引，
// 改由事务内的前置查询承担；两种后端下并发首次访问的输家都拿到
// ErrConflict。
type Store struct {
	db      *gorm.DB
	dialect string
}

// NewStore 按配置的数据库类型创建存储实例。
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	switch cfg.Type {
	case "postgres":
		return NewStoreWithDialector(postgres.Open(cfg.DSN), cfg)
	case "mysql":
		return NewStoreWithDialector(mysql.Open(cfg.DSN), cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db, dialect: dialector.Name()}

	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 迁移表结构并创建唯一性索引。
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&domain.Inbox{},
		&domain.AddressCooldown{},
		&domain.Message{},
	); err != nil {
		return err
	}

	// AutoMigrate 不支持部分索引，PostgreSQL 下用原生 SQL 补齐
	if s.dialect == "postgres" {
		statements := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_inboxes_active_session
			 ON inboxes (session_hash)
			 WHERE status = 'active' AND deleted_at IS NULL`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_inboxes_active_address
			 ON inboxes (local_part, domain)
			 WHERE status = 'active' AND deleted_at IS NULL`,
		}
		for _, stmt := range statements {
			if err := s.db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create partial index: %w", err)
			}
		}
	}
	return nil
}

// ttlElapsedExpr 返回"TTL 已耗尽"的方言谓词，占位符接收 now。
func (s *Store) ttlElapsedExpr() string {
	if s.dialect == "mysql" {
		return "TIMESTAMPADD(MINUTE, ttl_minutes, last_accessed_at) <= ?"
	}
	return "last_accessed_at + make_interval(mins => ttl_minutes) <= ?"
}

// WithTransaction 在单个数据库事务内执行 fn。
func (s *Store) WithTransaction(fn func(tx domain.Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, dialect: s.dialect})
	})
}

// ========== Inbox ==========

// CreateInbox 创建收件箱。会话或地址已被活跃收件箱占用时返回
// ErrConflict。
func (s *Store) CreateInbox(inbox *domain.Inbox) error {
	// 前置查询让 MySQL 也拿到确定性的冲突判定；PostgreSQL 下部分
	// 唯一索引兜底并发竞争
	var count int64
	err := s.db.Model(&domain.Inbox{}).
		Where("status = ?", domain.StatusActive).
		Where("session_hash = ? OR (local_part = ? AND domain = ?)",
			inbox.SessionHash, inbox.LocalPart, inbox.Domain).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("inbox for session or address already active: %w", domain.ErrConflict)
	}

	if err := s.db.Create(inbox).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("inbox for session or address already active: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// GetInbox 根据 ID 获取未软删除的收件箱。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.Where("id = ?", id).First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("inbox %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &inbox, nil
}

// GetInboxBySessionHash 返回会话名下最近创建的未软删除收件箱。
func (s *Store) GetInboxBySessionHash(hash string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.Where("session_hash = ?", hash).
		Order("created_at DESC").
		First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("inbox for session: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return &inbox, nil
}

// GetActiveInboxBySessionHash 只匹配 status=active 的行。
func (s *Store) GetActiveInboxBySessionHash(hash string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.Where("session_hash = ? AND status = ?", hash, domain.StatusActive).
		First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("active inbox for session: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return &inbox, nil
}

// GetActiveInboxByAddress 按地址查活跃收件箱。
func (s *Store) GetActiveInboxByAddress(localPart, domainName string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.Where("local_part = ? AND domain = ? AND status = ?",
		localPart, domainName, domain.StatusActive).
		First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("active inbox %s@%s: %w", localPart, domainName, domain.ErrNotFound)
		}
		return nil, err
	}
	return &inbox, nil
}

// AddressInUse 判断地址是否被活跃收件箱占用。
func (s *Store) AddressInUse(localPart, domainName string) (bool, error) {
	var count int64
	err := s.db.Model(&domain.Inbox{}).
		Where("local_part = ? AND domain = ? AND status = ?",
			localPart, domainName, domain.StatusActive).
		Count(&count).Error
	return count > 0, err
}

// TouchInbox 刷新收件箱的最后访问时间。
func (s *Store) TouchInbox(id string, at time.Time) error {
	result := s.db.Model(&domain.Inbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_accessed_at": at,
			"updated_at":       at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("inbox %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// TransitionInboxStatus 更新收件箱状态。expiredAt 用 COALESCE 保证
// 只在第一次转为 expired 时盖戳，重复调用幂等。
func (s *Store) TransitionInboxStatus(id string, to domain.InboxStatus, at time.Time) error {
	var existing domain.Inbox
	if err := s.db.Select("id").Where("id = ?", id).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("inbox %s: %w", id, domain.ErrNotFound)
		}
		return err
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to == domain.StatusExpired {
		updates["expired_at"] = gorm.Expr("COALESCE(expired_at, ?)", at)
	}
	return s.db.Model(&domain.Inbox{}).Where("id = ?", id).Updates(updates).Error
}

// SoftDeleteInbox 软删除收件箱及其全部邮件。
func (s *Store) SoftDeleteInbox(id string, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Inbox{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     domain.StatusDeleted,
				"updated_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("inbox %s: %w", id, domain.ErrNotFound)
		}

		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Inbox{}).Error
	})
}

// ListTTLElapsed 返回至多 limit 个 TTL 已耗尽的活跃收件箱，最久未
// 访问的在前。
func (s *Store) ListTTLElapsed(now time.Time, limit int) ([]domain.Inbox, error) {
	var inboxes []domain.Inbox
	err := s.db.Where("status = ?", domain.StatusActive).
		Where(s.ttlElapsedExpr(), now).
		Order("last_accessed_at ASC").
		Limit(limit).
		Find(&inboxes).Error
	return inboxes, err
}

// CountTTLElapsed 返回 TTL 已耗尽的活跃收件箱数量。
func (s *Store) CountTTLElapsed(now time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&domain.Inbox{}).
		Where("status = ?", domain.StatusActive).
		Where(s.ttlElapsedExpr(), now).
		Count(&count).Error
	return count, err
}

// HardDeleteAged 物理删除静置到期或已软删除的收件箱，邮件级联。
// 先取 ID 再删除，保证 limit 语义在两种方言下一致。
func (s *Store) HardDeleteAged(cutoff time.Time, limit int) (int64, error) {
	var ids []string
	err := s.db.Unscoped().Model(&domain.Inbox{}).
		Where("(status IN ? AND updated_at <= ?) OR deleted_at IS NOT NULL",
			[]domain.InboxStatus{domain.StatusExpired, domain.StatusAbandoned}, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("inbox_id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Where("id IN ?", ids).Delete(&domain.Inbox{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// ========== AddressCooldown ==========

// RecordCooldown 写入或刷新地址的冷却记录（按地址 upsert）。
func (s *Store) RecordCooldown(cd *domain.AddressCooldown) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "local_part"}, {Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_used_at", "cooldown_until"}),
	}).Create(cd).Error
}

// AddressInCooldown 判断地址在 now 时刻是否处于未过期冷却。
func (s *Store) AddressInCooldown(localPart, domainName string, now time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&domain.AddressCooldown{}).
		Where("local_part = ? AND domain = ? AND cooldown_until > ?",
			localPart, domainName, now).
		Count(&count).Error
	return count > 0, err
}

// DeleteExpiredCooldowns 物理删除至多 limit 条已过冷却期的记录。
func (s *Store) DeleteExpiredCooldowns(now time.Time, limit int) (int64, error) {
	var ids []uint
	err := s.db.Model(&domain.AddressCooldown{}).
		Where("cooldown_until <= ?", now).
		Order("cooldown_until ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&domain.AddressCooldown{})
	return result.RowsAffected, result.Error
}

// ========== Message ==========

// SaveMessage 保存一封邮件。
func (s *Store) SaveMessage(message *domain.Message) error {
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = time.Now().UTC()
	}
	return s.db.Create(message).Error
}

// ListMessages 返回收件箱内未删除的邮件，新邮件在前。
func (s *Store) ListMessages(inboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.Where("inbox_id = ?", inboxID).
		Order("received_at DESC").
		Find(&messages).Error
	return messages, err
}

// ========== 运维 ==========

// Ping 测试数据库连接。
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
