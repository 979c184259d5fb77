package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionCookieName 会话令牌 Cookie 名
	SessionCookieName = "sessionbox_token"

	// SessionContextKey 会话令牌在 gin 上下文里的键
	SessionContextKey = "sessionToken"

	// 会话 Cookie 有效期（秒），30 天
	sessionCookieMaxAge = 30 * 24 * 3600
)

// SessionToken 会话令牌中间件。从 Cookie（或 X-Session-Token 头，
// 供非浏览器客户端使用）提取不透明令牌，没有则签发一个新的随机
// 令牌并写回 HttpOnly Cookie。令牌对服务端是不透明值，后续层只
// 使用它的单向摘要。
func SessionToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Session-Token")
		if token == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				token = cookie
			}
		}

		if token == "" {
			token = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookieName, token, sessionCookieMaxAge, "/", "", false, true)
		}

		c.Set(SessionContextKey, token)
		c.Next()
	}
}

// TokenFromContext 取出当前请求的会话令牌。
func TokenFromContext(c *gin.Context) string {
	if v, ok := c.Get(SessionContextKey); ok {
		if token, ok := v.(string); ok {
			return token
		}
	}
	return ""
}
