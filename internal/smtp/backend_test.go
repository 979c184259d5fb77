package smtp

import (
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/memory"
)

func newTestBackend(t *testing.T) (*Backend, *service.SessionInboxService) {
	t.Helper()

	cfg := &config.Config{
		Inbox: config.InboxConfig{
			AllowedDomains:   []string{"temp.mail"},
			TTLMinutes:       60,
			AddressLength:    10,
			MaxAllocAttempts: 10,
			CooldownMinutes:  1440,
		},
		SMTP: config.SMTPConfig{
			BindAddr:        ":2525",
			Domain:          "temp.mail",
			MaxMessageBytes: 1024 * 1024,
			MaxPerMinute:    100,
		},
	}
	inboxes := service.NewSessionInboxService(memory.NewStore(), cfg, nil)
	return NewBackend(inboxes, cfg, nil, nil, nil, nil), inboxes
}

func TestRcptAcceptsActiveInbox(t *testing.T) {
	backend, inboxes := newTestBackend(t)

	inbox, err := inboxes.GetOrCreate("session-token")
	require.NoError(t, err)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))
	require.NoError(t, s.Rcpt("<"+inbox.Address()+">", nil))

	require.Len(t, s.recipients, 1)
	assert.Equal(t, inbox.ID, s.recipients[0].inboxID)
	assert.Equal(t, inbox.Address(), s.recipients[0].address)
}

func TestRcptRejectsUnknownRecipient(t *testing.T) {
	backend, _ := newTestBackend(t)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))

	err := s.Rcpt("nobody@temp.mail", nil)
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
	assert.Empty(t, s.recipients)
}

func TestRcptRejectsForeignDomain(t *testing.T) {
	backend, _ := newTestBackend(t)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))

	err := s.Rcpt("anyone@gmail.com", nil)
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
}

func TestRcptRejectsMalformedAddress(t *testing.T) {
	backend, _ := newTestBackend(t)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))

	for _, addr := range []string{"no-at-sign", "@temp.mail", "user@"} {
		err := s.Rcpt(addr, nil)
		require.Error(t, err, addr)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code, addr)
	}
}

// 轮换后旧地址必须立刻拒收，冷却期内不可重新投递。
func TestRcptRejectsRotatedAddress(t *testing.T) {
	backend, inboxes := newTestBackend(t)

	oldInbox, err := inboxes.GetOrCreate("session-token")
	require.NoError(t, err)

	_, err = inboxes.Rotate("session-token")
	require.NoError(t, err)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))

	err = s.Rcpt(oldInbox.Address(), nil)
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
}

func TestDataDeliversMessage(t *testing.T) {
	backend, inboxes := newTestBackend(t)

	inbox, err := inboxes.GetOrCreate("session-token")
	require.NoError(t, err)

	raw := "From: Alice <alice@example.com>\r\n" +
		"To: " + inbox.Address() + "\r\n" +
		"Subject: hello\r\n" +
		"\r\n" +
		"message body\r\n"

	s := &session{backend: backend}
	require.NoError(t, s.Mail("alice@example.com", nil))
	require.NoError(t, s.Rcpt(inbox.Address(), nil))
	require.NoError(t, s.Data(strings.NewReader(raw)))

	messages, err := inboxes.ListMessages(inbox.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Subject)
	assert.Equal(t, "alice@example.com", messages[0].From)
	assert.Equal(t, inbox.Address(), messages[0].To)
	assert.Contains(t, messages[0].Raw, "message body")
}

func TestMailRateLimited(t *testing.T) {
	backend, _ := newTestBackend(t)
	backend.limiter = NewSenderLimiter(1)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("flooder@example.com", nil))

	err := s.Mail("flooder@example.com", nil)
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)
}

func TestResetClearsSessionState(t *testing.T) {
	backend, inboxes := newTestBackend(t)

	inbox, err := inboxes.GetOrCreate("session-token")
	require.NoError(t, err)

	s := &session{backend: backend}
	require.NoError(t, s.Mail("sender@example.com", nil))
	require.NoError(t, s.Rcpt(inbox.Address(), nil))

	s.Reset()
	assert.Empty(t, s.fromAddress)
	assert.Empty(t, s.recipients)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "user@temp.mail", normalizeAddress(" <User@Temp.Mail> "))
	assert.Equal(t, "user@temp.mail", normalizeAddress("user@temp.mail"))
}

func TestParseEnvelope(t *testing.T) {
	raw := []byte("From: Bob <bob@example.com>\r\n" +
		"To: someone@temp.mail\r\n" +
		"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
		"\r\n" +
		"body\r\n")

	env := parseEnvelope(raw)
	assert.Equal(t, "你好", env.Subject)
	assert.Equal(t, "Bob <bob@example.com>", env.From)
	assert.Equal(t, "someone@temp.mail", env.To)
}

func TestParseEnvelopeMalformedHeaders(t *testing.T) {
	env := parseEnvelope([]byte("not an email at all"))
	assert.Empty(t, env.Subject)
	assert.Empty(t, env.From)
}

func TestSenderLimiterPerSender(t *testing.T) {
	limiter := NewSenderLimiter(2)

	assert.True(t, limiter.Allow("a@example.com"))
	assert.True(t, limiter.Allow("a@example.com"))
	assert.False(t, limiter.Allow("a@example.com"))

	// 其他发件人不受影响
	assert.True(t, limiter.Allow("b@example.com"))
}

func TestSenderLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := NewSenderLimiter(10)
	limiter.Allow("idle@example.com")

	limiter.mu.Lock()
	limiter.buckets["idle@example.com"].lastSeen = time.Now().Add(-20 * time.Minute)
	limiter.lastSwep = time.Now().Add(-20 * time.Minute)
	limiter.mu.Unlock()

	limiter.Allow("active@example.com")

	limiter.mu.Lock()
	_, ok := limiter.buckets["idle@example.com"]
	limiter.mu.Unlock()
	assert.False(t, ok)
}
