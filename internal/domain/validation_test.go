package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validInbox() *Inbox {
	now := time.Now().UTC()
	return &Inbox{
		ID:             "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		SessionHash:    strings.Repeat("ab", 32),
		LocalPart:      "k3x9p2m1",
		Domain:         "temp.mail",
		Status:         StatusActive,
		TTLMinutes:     60,
		LastAccessedAt: now,
		CreatedAt:      now,
	}
}

func TestValidateInbox(t *testing.T) {
	t.Run("合法实体通过校验", func(t *testing.T) {
		assert.NoError(t, ValidateInbox(validInbox()))
	})

	t.Run("会话哈希长度错误", func(t *testing.T) {
		inbox := validInbox()
		inbox.SessionHash = "abc123"

		err := ValidateInbox(inbox)

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)

		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, "sessionHash", verr.Fields[0].Field)
	})

	t.Run("会话哈希必须是小写十六进制", func(t *testing.T) {
		inbox := validInbox()
		inbox.SessionHash = strings.Repeat("AB", 32)

		assert.ErrorIs(t, ValidateInbox(inbox), ErrValidation)
	})

	t.Run("TTL必须为正", func(t *testing.T) {
		inbox := validInbox()
		inbox.TTLMinutes = 0

		err := ValidateInbox(inbox)

		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, "ttlMinutes", verr.Fields[0].Field)
	})

	t.Run("未知状态被拒绝", func(t *testing.T) {
		inbox := validInbox()
		inbox.Status = InboxStatus("zombie")

		assert.ErrorIs(t, ValidateInbox(inbox), ErrValidation)
	})

	t.Run("多个字段错误同时上报", func(t *testing.T) {
		inbox := validInbox()
		inbox.SessionHash = "xx"
		inbox.TTLMinutes = -5
		inbox.LocalPart = "a"

		var verr *ValidationError
		assert.ErrorAs(t, ValidateInbox(inbox), &verr)
		assert.Len(t, verr.Fields, 3)
	})
}

func TestValidateLocalPart(t *testing.T) {
	assert.NoError(t, ValidateLocalPart("abcd1234"))
	assert.Error(t, ValidateLocalPart("abc"))
	assert.Error(t, ValidateLocalPart(strings.Repeat("a", 65)))
	assert.Error(t, ValidateLocalPart("ABCD1234"))
	assert.Error(t, ValidateLocalPart("ab.cd"))
}

func TestValidateDomain(t *testing.T) {
	assert.NoError(t, ValidateDomain("temp.mail"))
	assert.NoError(t, ValidateDomain("mx1.example.co.uk"))
	assert.Error(t, ValidateDomain(""))
	assert.Error(t, ValidateDomain("nodot"))
	assert.Error(t, ValidateDomain(strings.Repeat("a", 254)+".io"))
}

func TestAllocationError(t *testing.T) {
	err := &AllocationError{Domain: "temp.mail", Attempts: 10}

	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.Contains(t, err.Error(), "10 attempts")
}

func TestTTLElapsed(t *testing.T) {
	now := time.Now().UTC()
	inbox := validInbox()
	inbox.TTLMinutes = 60

	inbox.LastAccessedAt = now.Add(-61 * time.Minute)
	assert.True(t, inbox.TTLElapsed(now))

	inbox.LastAccessedAt = now.Add(-59 * time.Minute)
	assert.False(t, inbox.TTLElapsed(now))

	// 恰好到达边界也算耗尽
	inbox.LastAccessedAt = now.Add(-60 * time.Minute)
	assert.True(t, inbox.TTLElapsed(now))
}

func TestInboxView(t *testing.T) {
	inbox := validInbox()
	view := inbox.View()

	assert.Equal(t, "k3x9p2m1@temp.mail", view.Address)
	assert.Equal(t, inbox.ID, view.ID)
	// 视图里不存在会话哈希字段，这里确认序列化载体没有夹带它
	assert.NotContains(t, view.Address, inbox.SessionHash)
}

func TestCooldownCooling(t *testing.T) {
	now := time.Now().UTC()
	cd := &AddressCooldown{
		LocalPart:     "k3x9p2m1",
		Domain:        "temp.mail",
		LastUsedAt:    now.Add(-time.Hour),
		CooldownUntil: now.Add(time.Minute),
	}

	assert.True(t, cd.Cooling(now))
	assert.False(t, cd.Cooling(now.Add(2*time.Minute)))
}

func TestErrConflictIsDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrConflict, ErrNotFound))
	assert.False(t, errors.Is(ErrConflict, ErrValidation))
}
