package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionRouter(captured *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionToken())
	router.GET("/probe", func(c *gin.Context) {
		*captured = TokenFromContext(c)
		c.Status(http.StatusOK)
	})
	return router
}

func TestSessionTokenIssuesCookieWhenAbsent(t *testing.T) {
	var token string
	router := newSessionRouter(&token)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(w, req)

	require.NotEmpty(t, token)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessionTokenReadsCookie(t *testing.T) {
	var token string
	router := newSessionRouter(&token)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "existing-token"})
	router.ServeHTTP(w, req)

	assert.Equal(t, "existing-token", token)
	// 已有令牌时不重复签发
	assert.Empty(t, w.Result().Cookies())
}

func TestSessionTokenHeaderTakesPrecedence(t *testing.T) {
	var token string
	router := newSessionRouter(&token)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Session-Token", "header-token")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	router.ServeHTTP(w, req)

	assert.Equal(t, "header-token", token)
}

func TestTokenFromContextMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, TokenFromContext(c))
}
