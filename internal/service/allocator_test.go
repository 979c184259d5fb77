package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/storage/memory"
)

// collidingStore 让每次地址查询都报告占用，用于验证耗尽路径。
type collidingStore struct {
	domain.Store
	inUseCalls    int
	cooldownCalls int
}

func (s *collidingStore) AddressInUse(localPart, domainName string) (bool, error) {
	s.inUseCalls++
	return true, nil
}

func (s *collidingStore) AddressInCooldown(localPart, domainName string, now time.Time) (bool, error) {
	s.cooldownCalls++
	return true, nil
}

// cooldownOnlyStore 地址未被占用但全部处于冷却期，用于验证两类检查
// 都会阻止分配。
type cooldownOnlyStore struct {
	domain.Store
}

func (s *cooldownOnlyStore) AddressInUse(localPart, domainName string) (bool, error) {
	return false, nil
}

func (s *cooldownOnlyStore) AddressInCooldown(localPart, domainName string, now time.Time) (bool, error) {
	return true, nil
}

func TestAllocateSucceedsOnEmptyStore(t *testing.T) {
	store := memory.NewStore()
	alloc := NewAddressAllocator()

	localPart, err := alloc.Allocate(store, "temp.mail", 10, 10)
	require.NoError(t, err)
	assert.Len(t, localPart, 10)

	// 字符集仅限小写字母与数字
	for _, r := range localPart {
		assert.Contains(t, addressAlphabet, string(r))
	}
}

func TestAllocateExhaustsAfterMaxAttempts(t *testing.T) {
	store := &collidingStore{}
	alloc := NewAddressAllocator()

	_, err := alloc.Allocate(store, "temp.mail", 10, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllocationExhausted)

	var allocErr *domain.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "temp.mail", allocErr.Domain)
	assert.Equal(t, 10, allocErr.Attempts)

	// 恰好尝试 maxAttempts 次，不多也不少
	assert.Equal(t, 10, store.inUseCalls)
	// 占用命中后不再查冷却表
	assert.Zero(t, store.cooldownCalls)
}

func TestAllocateRejectsCooldownAddresses(t *testing.T) {
	store := &cooldownOnlyStore{}
	alloc := NewAddressAllocator()

	_, err := alloc.Allocate(store, "temp.mail", 10, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllocationExhausted)
}

func TestAllocateValidatesParameters(t *testing.T) {
	store := memory.NewStore()
	alloc := NewAddressAllocator()

	t.Run("长度过短", func(t *testing.T) {
		_, err := alloc.Allocate(store, "temp.mail", domain.MinLocalPartLength-1, 10)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("尝试次数为零", func(t *testing.T) {
		_, err := alloc.Allocate(store, "temp.mail", 10, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("空域名", func(t *testing.T) {
		_, err := alloc.Allocate(store, "", 10, 10)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestAllocateDistinctDraws(t *testing.T) {
	store := memory.NewStore()
	alloc := NewAddressAllocator()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		localPart, err := alloc.Allocate(store, "temp.mail", 12, 10)
		require.NoError(t, err)
		seen[localPart] = true
	}
	// 50 次抽样出现重复的概率可以忽略
	assert.Len(t, seen, 50)
}

func TestRandomLocalPartCharset(t *testing.T) {
	for i := 0; i < 20; i++ {
		localPart, err := randomLocalPart(16)
		require.NoError(t, err)
		assert.Len(t, localPart, 16)
		assert.Equal(t, strings.ToLower(localPart), localPart)
	}
}

func TestAllocationErrorMessage(t *testing.T) {
	err := &domain.AllocationError{Domain: "temp.mail", Attempts: 10}
	assert.True(t, errors.Is(err, domain.ErrAllocationExhausted))
	assert.Contains(t, err.Error(), "temp.mail")
}
