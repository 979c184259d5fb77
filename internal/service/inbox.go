package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/monitoring"
)

// SessionInboxService 维护"每个会话至多一个活跃收件箱"的不变量，
// 并独占收件箱状态与时间戳的写入。所有多步写入都在单个事务里
// 完成；并发的首次访问由存储层唯一约束裁决，输掉竞争的一方拿到
// ErrConflict 而不是覆盖赢家的数据。
type SessionInboxService struct {
	store     domain.Store
	cfg       *config.Config
	allocator *AddressAllocator
	metrics   *monitoring.Metrics
	log       *zap.Logger
	clock     func() time.Time
}

// NewSessionInboxService 创建会话收件箱服务。
func NewSessionInboxService(store domain.Store, cfg *config.Config, log *zap.Logger) *SessionInboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionInboxService{
		store:     store,
		cfg:       cfg,
		allocator: NewAddressAllocator(),
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics 附加指标收集，可选。
func (s *SessionInboxService) WithMetrics(m *monitoring.Metrics) *SessionInboxService {
	s.metrics = m
	return s
}

// HashSessionToken 计算会话令牌的 SHA-256 摘要（64 位小写十六进制）。
// 原始令牌从不落库、不写日志，摘要只作为不透明标识比较。
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// shortHash 返回摘要前 8 位，仅用于日志关联。
func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// GetOrCreate 返回会话的活跃收件箱，没有则创建。已有收件箱时刷新
// lastAccessedAt 后返回——这是"多标签页共享"行为：同一会话的并发
// 调用在活跃行存在后收敛到同一行。
func (s *SessionInboxService) GetOrCreate(token string) (*domain.Inbox, error) {
	if token == "" {
		return nil, (&domain.ValidationError{}).Add("sessionToken", "must not be empty")
	}
	hash := HashSessionToken(token)

	inbox, err := s.store.GetActiveInboxBySessionHash(hash)
	if err == nil {
		now := s.clock()
		if err := s.store.TouchInbox(inbox.ID, now); err != nil {
			return nil, fmt.Errorf("touch inbox %s: %w", inbox.ID, err)
		}
		inbox.LastAccessedAt = now
		return inbox, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup active inbox: %w", err)
	}

	var created *domain.Inbox
	err = s.store.WithTransaction(func(tx domain.Store) error {
		fresh, err := s.createFresh(tx, hash)
		if err != nil {
			return err
		}
		created = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InboxesCreated.Inc()
	}
	s.log.Info("inbox created",
		zap.String("inbox_id", created.ID),
		zap.String("session", shortHash(hash)),
		zap.String("address", created.Address()),
	)
	return created, nil
}

// Rotate 放弃当前收件箱并换发新地址。旧收件箱标记为 abandoned，
// 其中的邮件保留；旧地址在原冷却记录下继续冷却，不会立即回到
// 可分配池。
func (s *SessionInboxService) Rotate(token string) (*domain.Inbox, error) {
	if token == "" {
		return nil, (&domain.ValidationError{}).Add("sessionToken", "must not be empty")
	}
	hash := HashSessionToken(token)

	current, err := s.store.GetInboxBySessionHash(hash)
	if err != nil {
		return nil, err
	}

	var created *domain.Inbox
	err = s.store.WithTransaction(func(tx domain.Store) error {
		if current.Status != domain.StatusDeleted {
			if err := tx.TransitionInboxStatus(current.ID, domain.StatusAbandoned, s.clock()); err != nil {
				return fmt.Errorf("abandon inbox %s: %w", current.ID, err)
			}
		}
		fresh, err := s.createFresh(tx, hash)
		if err != nil {
			return err
		}
		created = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InboxesRotated.Inc()
	}
	s.log.Info("inbox rotated",
		zap.String("session", shortHash(hash)),
		zap.String("old_inbox_id", current.ID),
		zap.String("new_inbox_id", created.ID),
	)
	return created, nil
}

// DeleteNow 立即软删除当前收件箱及其全部邮件，并换发新的空收件箱。
func (s *SessionInboxService) DeleteNow(token string) (*domain.Inbox, error) {
	if token == "" {
		return nil, (&domain.ValidationError{}).Add("sessionToken", "must not be empty")
	}
	hash := HashSessionToken(token)

	current, err := s.store.GetInboxBySessionHash(hash)
	if err != nil {
		return nil, err
	}

	var created *domain.Inbox
	err = s.store.WithTransaction(func(tx domain.Store) error {
		if err := tx.SoftDeleteInbox(current.ID, s.clock()); err != nil {
			return fmt.Errorf("soft delete inbox %s: %w", current.ID, err)
		}
		fresh, err := s.createFresh(tx, hash)
		if err != nil {
			return err
		}
		created = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InboxesDeleted.Inc()
	}
	s.log.Info("inbox deleted by user",
		zap.String("session", shortHash(hash)),
		zap.String("old_inbox_id", current.ID),
		zap.String("new_inbox_id", created.ID),
	)
	return created, nil
}

// createFresh 在事务内分配地址、创建活跃收件箱并记录冷却。冷却
// 记录与收件箱创建同事务落地，保证地址占用与限速记录的一致性。
func (s *SessionInboxService) createFresh(tx domain.Store, hash string) (*domain.Inbox, error) {
	now := s.clock()
	domainName := s.cfg.Inbox.AllowedDomains[0]

	localPart, err := s.allocator.Allocate(tx, domainName, s.cfg.Inbox.AddressLength, s.cfg.Inbox.MaxAllocAttempts)
	if err != nil {
		if s.metrics != nil && errors.Is(err, domain.ErrAllocationExhausted) {
			s.metrics.AllocationFailures.Inc()
		}
		return nil, err
	}

	inbox := &domain.Inbox{
		ID:             uuid.NewString(),
		SessionHash:    hash,
		LocalPart:      localPart,
		Domain:         domainName,
		Status:         domain.StatusActive,
		TTLMinutes:     s.cfg.Inbox.TTLMinutes,
		LastAccessedAt: now,
		CreatedAt:      now,
	}
	if err := domain.ValidateInbox(inbox); err != nil {
		return nil, err
	}
	if err := tx.CreateInbox(inbox); err != nil {
		return nil, err
	}

	cooldown := &domain.AddressCooldown{
		LocalPart:     localPart,
		Domain:        domainName,
		LastUsedAt:    now,
		CooldownUntil: now.Add(time.Duration(s.cfg.Inbox.CooldownMinutes) * time.Minute),
	}
	if err := tx.RecordCooldown(cooldown); err != nil {
		return nil, fmt.Errorf("record cooldown for %s: %w", inbox.Address(), err)
	}

	return inbox, nil
}

// Touch 刷新收件箱的最后访问时间，幂等。
func (s *SessionInboxService) Touch(inboxID string) error {
	return s.store.TouchInbox(inboxID, s.clock())
}

// MarkExpired 将收件箱标记为 expired，幂等；expiredAt 只在第一次
// 转换时盖戳。
func (s *SessionInboxService) MarkExpired(inboxID string) error {
	return s.store.TransitionInboxStatus(inboxID, domain.StatusExpired, s.clock())
}

// ProcessExpired 取最多 limit 个 TTL 已耗尽的活跃收件箱并逐个标记
// expired，返回实际转换数。单行失败记日志后继续，不中断整批——
// 这是尽力而为的计数器，不是全有或全无的操作。
func (s *SessionInboxService) ProcessExpired(limit int) (int, error) {
	rows, err := s.store.ListTTLElapsed(s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("scan ttl elapsed: %w", err)
	}

	count := 0
	for i := range rows {
		if err := s.MarkExpired(rows[i].ID); err != nil {
			s.log.Warn("mark expired failed",
				zap.String("inbox_id", rows[i].ID),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	return count, nil
}

// CountExpirable 返回当前 TTL 已耗尽的活跃收件箱数量（只读，供
// 清理演练模式使用）。
func (s *SessionInboxService) CountExpirable() (int, error) {
	count, err := s.store.CountTTLElapsed(s.clock())
	return int(count), err
}

// CleanupOld 物理删除静置满 ageMinutes 的 expired/abandoned 收件箱
// 以及所有已软删除的行，至多 limit 个；邮件由存储层级联删除。
func (s *SessionInboxService) CleanupOld(ageMinutes, limit int) (int, error) {
	cutoff := s.clock().Add(-time.Duration(ageMinutes) * time.Minute)
	deleted, err := s.store.HardDeleteAged(cutoff, limit)
	return int(deleted), err
}

// CleanupExpiredCooldowns 物理删除至多 limit 条已过冷却期的地址
// 记录。
func (s *SessionInboxService) CleanupExpiredCooldowns(limit int) (int, error) {
	deleted, err := s.store.DeleteExpiredCooldowns(s.clock(), limit)
	return int(deleted), err
}

// ListMessages 返回收件箱内未删除的邮件。
func (s *SessionInboxService) ListMessages(inboxID string) ([]domain.Message, error) {
	return s.store.ListMessages(inboxID)
}

// ResolveActiveAddress 按地址定位活跃收件箱，供投递端路由收件人。
func (s *SessionInboxService) ResolveActiveAddress(localPart, domainName string) (*domain.Inbox, error) {
	return s.store.GetActiveInboxByAddress(localPart, domainName)
}

// Deliver 代表投递协作方写入一封邮件。
func (s *SessionInboxService) Deliver(message *domain.Message) error {
	return s.store.SaveMessage(message)
}
