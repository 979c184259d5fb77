package memory

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"tempmail/sessionbox/internal/domain"
)

// Store 是 domain.Store 的内存实现，用于测试和开发模式。
//
// 事务语义：WithTransaction 持有全局锁并在进入时对三张表做快照，
// 回调返回错误时用快照整体回滚，与数据库实现的"要么全落地要么
// 全不落地"保持一致。
type Store struct {
	mu sync.RWMutex

	// inTx 为 true 的实例是事务视图，方法跳过加锁（外层事务已持锁）。
	inTx bool

	inboxes   map[string]*domain.Inbox           // inbox ID -> 行
	cooldowns map[string]*domain.AddressCooldown // localPart@domain -> 行
	messages  map[string][]*domain.Message       // inbox ID -> 邮件

	nextCooldownID uint
}

// NewStore 创建空的内存存储。
func NewStore() *Store {
	return &Store{
		inboxes:   make(map[string]*domain.Inbox),
		cooldowns: make(map[string]*domain.AddressCooldown),
		messages:  make(map[string][]*domain.Message),
	}
}

type snapshot struct {
	inboxes        map[string]*domain.Inbox
	cooldowns      map[string]*domain.AddressCooldown
	messages       map[string][]*domain.Message
	nextCooldownID uint
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		inboxes:        make(map[string]*domain.Inbox, len(s.inboxes)),
		cooldowns:      make(map[string]*domain.AddressCooldown, len(s.cooldowns)),
		messages:       make(map[string][]*domain.Message, len(s.messages)),
		nextCooldownID: s.nextCooldownID,
	}
	for id, inbox := range s.inboxes {
		cp := *inbox
		snap.inboxes[id] = &cp
	}
	for key, cd := range s.cooldowns {
		cp := *cd
		snap.cooldowns[key] = &cp
	}
	for id, msgs := range s.messages {
		list := make([]*domain.Message, len(msgs))
		for i, m := range msgs {
			cp := *m
			list[i] = &cp
		}
		snap.messages[id] = list
	}
	return snap
}

// WithTransaction 在全局锁下执行 fn，出错时恢复快照。嵌套调用直接
// 加入外层事务。
func (s *Store) WithTransaction(fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	tx := &Store{
		inTx:           true,
		inboxes:        s.inboxes,
		cooldowns:      s.cooldowns,
		messages:       s.messages,
		nextCooldownID: s.nextCooldownID,
	}

	if err := fn(tx); err != nil {
		s.inboxes = snap.inboxes
		s.cooldowns = snap.cooldowns
		s.messages = snap.messages
		s.nextCooldownID = snap.nextCooldownID
		return err
	}
	s.nextCooldownID = tx.nextCooldownID
	return nil
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// ========== Inbox ==========

// CreateInbox 插入新收件箱。与数据库的部分唯一索引对应，这里在
// 插入前检查活跃行的会话哈希与地址唯一性，命中即返回 ErrConflict。
func (s *Store) CreateInbox(inbox *domain.Inbox) error {
	defer s.lock()()

	for _, existing := range s.inboxes {
		if existing.DeletedAt.Valid || existing.Status != domain.StatusActive {
			continue
		}
		if existing.SessionHash == inbox.SessionHash {
			return domain.ErrConflict
		}
		if existing.LocalPart == inbox.LocalPart && existing.Domain == inbox.Domain {
			return domain.ErrConflict
		}
	}

	now := time.Now().UTC()
	cp := *inbox
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.inboxes[cp.ID] = &cp
	*inbox = cp
	return nil
}

// GetInbox 按 ID 返回未软删除的收件箱。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	defer s.rlock()()

	inbox, ok := s.inboxes[id]
	if !ok || inbox.DeletedAt.Valid {
		return nil, domain.ErrNotFound
	}
	cp := *inbox
	return &cp, nil
}

// GetInboxBySessionHash 返回会话名下最近创建的未软删除收件箱。
func (s *Store) GetInboxBySessionHash(hash string) (*domain.Inbox, error) {
	defer s.rlock()()

	var latest *domain.Inbox
	for _, inbox := range s.inboxes {
		if inbox.DeletedAt.Valid || inbox.SessionHash != hash {
			continue
		}
		if latest == nil || inbox.CreatedAt.After(latest.CreatedAt) {
			latest = inbox
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// GetActiveInboxBySessionHash 只匹配活跃状态的行。
func (s *Store) GetActiveInboxBySessionHash(hash string) (*domain.Inbox, error) {
	defer s.rlock()()

	for _, inbox := range s.inboxes {
		if inbox.DeletedAt.Valid || inbox.Status != domain.StatusActive {
			continue
		}
		if inbox.SessionHash == hash {
			cp := *inbox
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// GetActiveInboxByAddress 按地址查活跃收件箱。
func (s *Store) GetActiveInboxByAddress(localPart, domainName string) (*domain.Inbox, error) {
	defer s.rlock()()

	for _, inbox := range s.inboxes {
		if inbox.DeletedAt.Valid || inbox.Status != domain.StatusActive {
			continue
		}
		if inbox.LocalPart == localPart && inbox.Domain == domainName {
			cp := *inbox
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// AddressInUse 判断地址是否被活跃收件箱占用。
func (s *Store) AddressInUse(localPart, domainName string) (bool, error) {
	_, err := s.GetActiveInboxByAddress(localPart, domainName)
	if err == nil {
		return true, nil
	}
	return false, nil
}

// TouchInbox 刷新最后访问时间。
func (s *Store) TouchInbox(id string, at time.Time) error {
	defer s.lock()()

	inbox, ok := s.inboxes[id]
	if !ok || inbox.DeletedAt.Valid {
		return domain.ErrNotFound
	}
	inbox.LastAccessedAt = at
	inbox.UpdatedAt = at
	return nil
}

// TransitionInboxStatus 更新状态并在进入 expired 时恰好一次地盖戳。
func (s *Store) TransitionInboxStatus(id string, to domain.InboxStatus, at time.Time) error {
	defer s.lock()()

	inbox, ok := s.inboxes[id]
	if !ok {
		return domain.ErrNotFound
	}
	inbox.Status = to
	if to == domain.StatusExpired && inbox.ExpiredAt == nil {
		expiredAt := at
		inbox.ExpiredAt = &expiredAt
	}
	inbox.UpdatedAt = at
	return nil
}

// SoftDeleteInbox 软删除收件箱及其全部邮件。
func (s *Store) SoftDeleteInbox(id string, at time.Time) error {
	defer s.lock()()

	inbox, ok := s.inboxes[id]
	if !ok || inbox.DeletedAt.Valid {
		return domain.ErrNotFound
	}
	inbox.Status = domain.StatusDeleted
	inbox.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
	inbox.UpdatedAt = at
	for _, msg := range s.messages[id] {
		if !msg.DeletedAt.Valid {
			msg.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
		}
	}
	return nil
}

// ListTTLElapsed 返回 TTL 已耗尽的活跃收件箱，最久未访问的在前。
func (s *Store) ListTTLElapsed(now time.Time, limit int) ([]domain.Inbox, error) {
	defer s.rlock()()

	var out []domain.Inbox
	for _, inbox := range s.inboxes {
		if inbox.DeletedAt.Valid || inbox.Status != domain.StatusActive {
			continue
		}
		if inbox.TTLElapsed(now) {
			out = append(out, *inbox)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountTTLElapsed 统计 TTL 已耗尽的活跃收件箱数量。
func (s *Store) CountTTLElapsed(now time.Time) (int64, error) {
	defer s.rlock()()

	var count int64
	for _, inbox := range s.inboxes {
		if inbox.DeletedAt.Valid || inbox.Status != domain.StatusActive {
			continue
		}
		if inbox.TTLElapsed(now) {
			count++
		}
	}
	return count, nil
}

// HardDeleteAged 物理删除静置到期或已软删除的收件箱，邮件级联。
func (s *Store) HardDeleteAged(cutoff time.Time, limit int) (int64, error) {
	defer s.lock()()

	var candidates []*domain.Inbox
	for _, inbox := range s.inboxes {
		switch {
		case inbox.DeletedAt.Valid:
			candidates = append(candidates, inbox)
		case (inbox.Status == domain.StatusExpired || inbox.Status == domain.StatusAbandoned) &&
			!inbox.UpdatedAt.After(cutoff):
			candidates = append(candidates, inbox)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, inbox := range candidates {
		delete(s.inboxes, inbox.ID)
		delete(s.messages, inbox.ID)
	}
	return int64(len(candidates)), nil
}

// ========== AddressCooldown ==========

func cooldownKey(localPart, domainName string) string {
	return localPart + "@" + domainName
}

// RecordCooldown 写入或刷新冷却记录。
func (s *Store) RecordCooldown(cd *domain.AddressCooldown) error {
	defer s.lock()()

	key := cooldownKey(cd.LocalPart, cd.Domain)
	if existing, ok := s.cooldowns[key]; ok {
		existing.LastUsedAt = cd.LastUsedAt
		existing.CooldownUntil = cd.CooldownUntil
		cd.ID = existing.ID
		return nil
	}
	s.nextCooldownID++
	cp := *cd
	cp.ID = s.nextCooldownID
	s.cooldowns[key] = &cp
	cd.ID = cp.ID
	return nil
}

// AddressInCooldown 判断地址是否处于未过期冷却。
func (s *Store) AddressInCooldown(localPart, domainName string, now time.Time) (bool, error) {
	defer s.rlock()()

	cd, ok := s.cooldowns[cooldownKey(localPart, domainName)]
	if !ok {
		return false, nil
	}
	return cd.Cooling(now), nil
}

// DeleteExpiredCooldowns 物理删除已过冷却期的记录。
func (s *Store) DeleteExpiredCooldowns(now time.Time, limit int) (int64, error) {
	defer s.lock()()

	var keys []string
	for key, cd := range s.cooldowns {
		if !cd.Cooling(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	for _, key := range keys {
		delete(s.cooldowns, key)
	}
	return int64(len(keys)), nil
}

// ========== Message ==========

// SaveMessage 保存一封投递到收件箱的邮件。
func (s *Store) SaveMessage(message *domain.Message) error {
	defer s.lock()()

	inbox, ok := s.inboxes[message.InboxID]
	if !ok || inbox.DeletedAt.Valid {
		return domain.ErrNotFound
	}
	cp := *message
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.messages[message.InboxID] = append(s.messages[message.InboxID], &cp)
	return nil
}

// ListMessages 返回收件箱内未软删除的邮件，新邮件在前。
func (s *Store) ListMessages(inboxID string) ([]domain.Message, error) {
	defer s.rlock()()

	var out []domain.Message
	for _, msg := range s.messages[inboxID] {
		if msg.DeletedAt.Valid {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// ========== 运维 ==========

// Ping 恒为健康。
func (s *Store) Ping() error { return nil }

// Close 无资源可释放。
func (s *Store) Close() error { return nil }
