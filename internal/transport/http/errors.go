package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInboxNotFound    = "收件箱不存在"
	MsgSessionConflict  = "会话状态冲突，请重试"
	MsgAllocationFailed = "地址分配失败，请稍后重试"
	MsgInternalError    = "服务器内部错误，请稍后重试"
)

// respondError 按错误类别映射为 HTTP 响应。字段校验失败携带字段级
// 明细；分配耗尽是容量问题而不是客户端错误，映射为 503。
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		UnprocessableEntity(c, MsgInvalidRequest, verr.Fields)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		NotFound(c, MsgInboxNotFound)
	case errors.Is(err, domain.ErrConflict):
		Conflict(c, MsgSessionConflict)
	case errors.Is(err, domain.ErrAllocationExhausted):
		log.Warn("address allocation exhausted", zap.Error(err))
		ServiceUnavailable(c, MsgAllocationFailed)
	default:
		log.Error("request failed", zap.Error(err))
		InternalError(c, MsgInternalError)
	}
}
