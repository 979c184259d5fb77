package httptransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/middleware"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/memory"
)

func newTestRouter(t *testing.T) (*gin.Engine, *service.SessionInboxService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Inbox: config.InboxConfig{
			AllowedDomains:   []string{"temp.mail"},
			TTLMinutes:       60,
			AddressLength:    10,
			MaxAllocAttempts: 10,
			CooldownMinutes:  1440,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
	inboxes := service.NewSessionInboxService(memory.NewStore(), cfg, nil)

	router := NewRouter(RouterDependencies{
		Config:  cfg,
		Inboxes: inboxes,
	})
	return router, inboxes
}

type inboxEnvelope struct {
	Code int              `json:"code"`
	Msg  string           `json:"msg"`
	Data domain.InboxView `json:"data"`
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestGetInboxCreatesAndReturnsSameInbox(t *testing.T) {
	router, _ := newTestRouter(t)
	token := uuid.NewString()

	w := doRequest(router, http.MethodGet, "/v1/inbox", token)
	require.Equal(t, http.StatusOK, w.Code)

	var first inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, CodeSuccess, first.Code)
	assert.True(t, strings.HasSuffix(first.Data.Address, "@temp.mail"))
	assert.Equal(t, domain.StatusActive, first.Data.Status)

	// 同一会话再次请求返回同一个收件箱
	w = doRequest(router, http.MethodGet, "/v1/inbox", token)
	require.Equal(t, http.StatusOK, w.Code)

	var second inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, first.Data.Address, second.Data.Address)
}

func TestGetInboxWithoutTokenIssuesCookie(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/v1/inbox", "")
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestDistinctSessionsGetDistinctInboxes(t *testing.T) {
	router, _ := newTestRouter(t)

	var views []domain.InboxView
	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodGet, "/v1/inbox", uuid.NewString())
		require.Equal(t, http.StatusOK, w.Code)

		var env inboxEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		views = append(views, env.Data)
	}

	assert.NotEqual(t, views[0].ID, views[1].ID)
	assert.NotEqual(t, views[0].Address, views[1].Address)
}

func TestRotateInboxIssuesNewAddress(t *testing.T) {
	router, _ := newTestRouter(t)
	token := uuid.NewString()

	w := doRequest(router, http.MethodGet, "/v1/inbox", token)
	require.Equal(t, http.StatusOK, w.Code)
	var before inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))

	w = doRequest(router, http.MethodPost, "/v1/inbox/rotate", token)
	require.Equal(t, http.StatusCreated, w.Code)

	var after inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.Equal(t, CodeCreated, after.Code)
	assert.NotEqual(t, before.Data.ID, after.Data.ID)
	assert.NotEqual(t, before.Data.Address, after.Data.Address)
	assert.Equal(t, domain.StatusActive, after.Data.Status)
}

func TestRotateWithoutInboxReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/inbox/rotate", uuid.NewString())
	require.Equal(t, http.StatusNotFound, w.Code)

	var env inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, CodeNotFound, env.Code)
}

func TestDeleteInboxDiscardsMessages(t *testing.T) {
	router, inboxes := newTestRouter(t)
	token := uuid.NewString()

	w := doRequest(router, http.MethodGet, "/v1/inbox", token)
	require.Equal(t, http.StatusOK, w.Code)
	var before inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))

	require.NoError(t, inboxes.Deliver(&domain.Message{
		ID:         uuid.NewString(),
		InboxID:    before.Data.ID,
		From:       "sender@example.com",
		To:         before.Data.Address,
		Subject:    "secret",
		Raw:        "raw",
		ReceivedAt: time.Now().UTC(),
	}))

	w = doRequest(router, http.MethodDelete, "/v1/inbox", token)
	require.Equal(t, http.StatusCreated, w.Code)

	var after inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.NotEqual(t, before.Data.ID, after.Data.ID)

	// 新收件箱不继承旧邮件
	w = doRequest(router, http.MethodGet, "/v1/inbox/messages", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestListMessagesReturnsDelivered(t *testing.T) {
	router, inboxes := newTestRouter(t)
	token := uuid.NewString()

	w := doRequest(router, http.MethodGet, "/v1/inbox", token)
	require.Equal(t, http.StatusOK, w.Code)
	var env inboxEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))

	require.NoError(t, inboxes.Deliver(&domain.Message{
		ID:         uuid.NewString(),
		InboxID:    env.Data.ID,
		From:       "sender@example.com",
		To:         env.Data.Address,
		Subject:    "welcome",
		Raw:        "raw content",
		ReceivedAt: time.Now().UTC(),
	}))

	w = doRequest(router, http.MethodGet, "/v1/inbox/messages", token)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Code int                 `json:"code"`
		Data messageListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Data.Count)
	assert.Equal(t, "welcome", list.Data.Items[0].Subject)
	assert.Equal(t, "sender@example.com", list.Data.Items[0].From)
}
