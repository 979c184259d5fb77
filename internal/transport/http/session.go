package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/middleware"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/redis"
)

// 视图缓存的保留时间。只为吸收同一会话的突发读取，取得很短，
// 这样 lastAccessedAt 的刷新最多滞后一个缓存窗口。
const viewCacheTTL = 5 * time.Second

// SessionHandler 处理会话收件箱的 HTTP 端点。会话令牌由中间件从
// Cookie 提取，这里只透传给服务层。
type SessionHandler struct {
	inboxes *service.SessionInboxService
	cache   *redis.Cache // 可以为 nil
	log     *zap.Logger
}

// NewSessionHandler 创建会话收件箱处理器。cache 可以为 nil。
func NewSessionHandler(inboxes *service.SessionInboxService, cache *redis.Cache, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{
		inboxes: inboxes,
		cache:   cache,
		log:     log,
	}
}

type messageResponse struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Raw        string    `json:"raw"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type messageListResponse struct {
	Items []messageResponse `json:"items"`
	Count int               `json:"count"`
}

// getInbox 返回会话的收件箱，没有则创建。
//
// GET /v1/inbox
func (h *SessionHandler) getInbox(c *gin.Context) {
	token := middleware.TokenFromContext(c)

	if h.cache != nil {
		hash := service.HashSessionToken(token)
		if view, err := h.cache.GetCachedInboxView(c.Request.Context(), hash); err == nil {
			Success(c, view)
			return
		}
	}

	inbox, err := h.inboxes.GetOrCreate(token)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	view := inbox.View()
	h.cacheView(c, token, view)
	Success(c, view)
}

// rotateInbox 放弃当前收件箱并换发新地址。
//
// POST /v1/inbox/rotate
func (h *SessionHandler) rotateInbox(c *gin.Context) {
	token := middleware.TokenFromContext(c)

	inbox, err := h.inboxes.Rotate(token)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.invalidateView(c, token)
	Created(c, inbox.View())
}

// deleteInbox 立即删除当前收件箱及其邮件，并换发新的空收件箱。
//
// DELETE /v1/inbox
func (h *SessionHandler) deleteInbox(c *gin.Context) {
	token := middleware.TokenFromContext(c)

	inbox, err := h.inboxes.DeleteNow(token)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.invalidateView(c, token)
	Created(c, inbox.View())
}

// listMessages 返回会话当前收件箱内的邮件。访问本身会刷新 TTL。
//
// GET /v1/inbox/messages
func (h *SessionHandler) listMessages(c *gin.Context) {
	token := middleware.TokenFromContext(c)

	inbox, err := h.inboxes.GetOrCreate(token)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	messages, err := h.inboxes.ListMessages(inbox.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	items := make([]messageResponse, 0, len(messages))
	for i := range messages {
		items = append(items, toMessageResponse(&messages[i]))
	}

	Success(c, messageListResponse{
		Items: items,
		Count: len(items),
	})
}

func (h *SessionHandler) cacheView(c *gin.Context, token string, view domain.InboxView) {
	if h.cache == nil {
		return
	}
	hash := service.HashSessionToken(token)
	if err := h.cache.CacheInboxView(c.Request.Context(), hash, view, viewCacheTTL); err != nil {
		h.log.Warn("cache inbox view failed", zap.Error(err))
	}
}

func (h *SessionHandler) invalidateView(c *gin.Context, token string) {
	if h.cache == nil {
		return
	}
	hash := service.HashSessionToken(token)
	if err := h.cache.InvalidateSession(c.Request.Context(), hash); err != nil {
		h.log.Warn("invalidate inbox view failed", zap.Error(err))
	}
}

// toMessageResponse 转换邮件实体为响应体。
func toMessageResponse(message *domain.Message) messageResponse {
	return messageResponse{
		ID:         message.ID,
		From:       message.From,
		To:         message.To,
		Subject:    message.Subject,
		Raw:        message.Raw,
		ReceivedAt: message.ReceivedAt,
	}
}
