package service

import (
	"crypto/rand"
	"fmt"
	"time"

	"tempmail/sessionbox/internal/domain"
)

// addressAlphabet 是本地部分的候选字符集：36 个小写字母数字。
const addressAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// AddressAllocator 负责生成无冲突的本地部分。每次分配独立抽取
// 密码学随机候选，接受第一个同时满足两个条件的：既不被活跃收件箱
// 占用，也不在未过期冷却记录里。两项检查都是强制的，只查其一就
// 接受属于正确性缺陷。
//
// 分配本身没有副作用：冷却记录由调用方在创建收件箱的同一个事务里
// 写入。
type AddressAllocator struct {
	clock func() time.Time
}

// NewAddressAllocator 创建地址分配器。
func NewAddressAllocator() *AddressAllocator {
	return &AddressAllocator{clock: func() time.Time { return time.Now().UTC() }}
}

// Allocate 在 maxAttempts 次尝试内返回可用的本地部分。候选之间是
// 独立随机抽取，不做去重（重复碰撞无害）。预算耗尽时返回携带尝试
// 次数的 ErrAllocationExhausted 类别错误。
func (a *AddressAllocator) Allocate(store domain.Store, domainName string, length, maxAttempts int) (string, error) {
	if length < domain.MinLocalPartLength || length > domain.MaxLocalPartLength {
		return "", (&domain.ValidationError{}).Add("length", "address length out of range")
	}
	if maxAttempts < 1 {
		return "", (&domain.ValidationError{}).Add("maxAttempts", "must be >= 1")
	}
	if err := domain.ValidateDomain(domainName); err != nil {
		return "", err
	}

	now := a.clock()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := randomLocalPart(length)
		if err != nil {
			return "", fmt.Errorf("draw candidate: %w", err)
		}

		inUse, err := store.AddressInUse(candidate, domainName)
		if err != nil {
			return "", fmt.Errorf("check address in use: %w", err)
		}
		if inUse {
			continue
		}

		cooling, err := store.AddressInCooldown(candidate, domainName, now)
		if err != nil {
			return "", fmt.Errorf("check address cooldown: %w", err)
		}
		if cooling {
			continue
		}

		return candidate, nil
	}

	return "", &domain.AllocationError{Domain: domainName, Attempts: maxAttempts}
}

// randomLocalPart 从密码学随机源抽取 length 个字符。用拒绝采样
// 避免 256 % 36 带来的分布偏差。
func randomLocalPart(length int) (string, error) {
	// 252 是不超过 256 的最大 36 倍数
	const limit = byte(252)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, addressAlphabet[int(b)%len(addressAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
