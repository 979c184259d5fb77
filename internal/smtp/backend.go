package smtp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/monitoring"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/redis"
	"tempmail/sessionbox/internal/websocket"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是只接收的 SMTP 服务器：收件人必须解析到系统内的活跃收件箱，
// 域名必须在配置的允许列表里，其余一律 550 拒绝，不做任何中继。
// 发往 abandoned/expired/deleted 收件箱的邮件同样被拒——地址释放
// 后在冷却期内就不可投递。
type Backend struct {
	inboxes *service.SessionInboxService
	hub     *websocket.Hub // 可以为 nil
	cache   *redis.Cache   // 可以为 nil
	metrics *monitoring.Metrics
	limiter *SenderLimiter
	log     *zap.Logger

	allowedDomains  []string
	maxMessageBytes int64
}

// NewBackend 创建 SMTP Backend。hub、cache 和 metrics 可以为 nil。
// 配置了 Redis 时新邮件通知走发布订阅（多实例部署下所有网关都能
// 收到），否则直接推给本进程的 hub。
func NewBackend(inboxes *service.SessionInboxService, cfg *config.Config, hub *websocket.Hub, cache *redis.Cache, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		inboxes:         inboxes,
		hub:             hub,
		cache:           cache,
		metrics:         metrics,
		limiter:         NewSenderLimiter(cfg.SMTP.MaxPerMinute),
		log:             log,
		allowedDomains:  cfg.Inbox.AllowedDomains,
		maxMessageBytes: cfg.SMTP.MaxMessageBytes,
	}
}

// NewServer 用配置构建 go-smtp 服务器。
func NewServer(backend *Backend, cfg *config.Config) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.SMTP.BindAddr
	server.Domain = cfg.SMTP.Domain
	server.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	server.MaxRecipients = 10
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.AllowInsecureAuth = true
	return server
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []recipient
}

type recipient struct {
	address string
	inboxID string
}

// Mail 处理 MAIL 命令。发件地址级别限速在这里拦截，攒到 DATA 再
// 拒绝会白白接收邮件体。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	from = normalizeAddress(from)

	if !s.backend.limiter.Allow(from) {
		s.backend.reject("rate_limited")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 1},
			Message:      "rate limit exceeded, try again later",
		}
	}

	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。只接受解析到活跃收件箱的地址。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	localPart, domainName, ok := splitAddress(addr)
	if !ok {
		s.backend.reject("invalid_address")
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	domainAllowed := false
	for _, d := range s.backend.allowedDomains {
		if strings.EqualFold(d, domainName) {
			domainAllowed = true
			break
		}
	}
	if !domainAllowed {
		s.backend.reject("relay_denied")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	inbox, err := s.backend.inboxes.ResolveActiveAddress(localPart, domainName)
	if err != nil {
		s.backend.reject("unknown_recipient")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, recipient{
		address: addr,
		inboxID: inbox.ID,
	})
	return nil
}

// Data 处理邮件内容：解析头部、落库并推送 WebSocket 通知。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxMessageBytes))
	if err != nil {
		return err
	}

	envelope := parseEnvelope(rawBytes)
	now := time.Now().UTC()

	for _, rcpt := range s.recipients {
		message := &domain.Message{
			ID:         uuid.NewString(),
			InboxID:    rcpt.inboxID,
			From:       s.fromAddress,
			To:         rcpt.address,
			Subject:    envelope.Subject,
			Raw:        string(rawBytes),
			ReceivedAt: now,
		}

		if err := s.backend.inboxes.Deliver(message); err != nil {
			return fmt.Errorf("deliver to %s: %w", rcpt.address, err)
		}

		if s.backend.metrics != nil {
			s.backend.metrics.MessagesReceived.Inc()
		}
		s.backend.notify(rcpt.inboxID, message)

		s.backend.log.Info("message delivered",
			zap.String("inbox_id", rcpt.inboxID),
			zap.String("to", rcpt.address),
			zap.String("subject", envelope.Subject),
		)
	}

	return nil
}

// AuthPlain 处理 PLAIN 认证（接收端允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

// notify 推送新邮件通知。优先走 Redis 发布订阅（由 WebSocket 网关
// 的订阅桥分发），发布失败或未配置 Redis 时降级为本进程直推。
func (b *Backend) notify(inboxID string, message *domain.Message) {
	if b.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := b.cache.PublishNewMail(ctx, inboxID, message)
		if err == nil {
			return
		}
		b.log.Warn("publish new mail notification failed, falling back to local hub",
			zap.String("inbox_id", inboxID),
			zap.Error(err),
		)
	}
	if b.hub != nil {
		b.hub.NotifyNewMail(inboxID, message)
	}
}

func (b *Backend) reject(reason string) {
	if b.metrics != nil {
		b.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func splitAddress(addr string) (localPart, domainName string, ok bool) {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
