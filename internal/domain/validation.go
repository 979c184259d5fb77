package domain

import (
	"regexp"
)

// 校验常量。
const (
	// SessionHashLength 会话摘要的十六进制长度（SHA-256）。
	SessionHashLength = 64

	// 本地部分长度限制（RFC 5321 上限 64，系统内生成地址不低于 4）。
	MinLocalPartLength = 4
	MaxLocalPartLength = 64

	MaxDomainLength = 253
)

var (
	sessionHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)
	localPartRegex   = regexp.MustCompile(`^[a-z0-9]+$`)
	domainRegex      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,61}[a-z0-9]?(\.[a-z0-9][a-z0-9-]{0,61}[a-z0-9]?)+$`)
)

// ValidateInbox 校验收件箱实体的字段级约束，失败时返回
// *ValidationError（类别 ErrValidation）。
func ValidateInbox(inbox *Inbox) error {
	verr := &ValidationError{}

	if !sessionHashRegex.MatchString(inbox.SessionHash) {
		verr.Add("sessionHash", "must be 64 lowercase hex characters")
	}
	if err := ValidateLocalPart(inbox.LocalPart); err != nil {
		verr.Add("localPart", err.Error())
	}
	if err := ValidateDomain(inbox.Domain); err != nil {
		verr.Add("domain", err.Error())
	}
	if inbox.TTLMinutes <= 0 {
		verr.Add("ttlMinutes", "must be a positive integer")
	}
	switch inbox.Status {
	case StatusActive, StatusAbandoned, StatusExpired, StatusDeleted:
	default:
		verr.Add("status", "unknown status")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// ValidateSessionHash 校验会话摘要格式。
func ValidateSessionHash(hash string) error {
	if !sessionHashRegex.MatchString(hash) {
		return (&ValidationError{}).Add("sessionHash", "must be 64 lowercase hex characters")
	}
	return nil
}

// ValidateLocalPart 校验生成的本地部分（系统只生成小写字母数字）。
func ValidateLocalPart(localPart string) error {
	if len(localPart) < MinLocalPartLength {
		return (&ValidationError{}).Add("localPart", "too short")
	}
	if len(localPart) > MaxLocalPartLength {
		return (&ValidationError{}).Add("localPart", "too long")
	}
	if !localPartRegex.MatchString(localPart) {
		return (&ValidationError{}).Add("localPart", "must be lowercase alphanumeric")
	}
	return nil
}

// ValidateDomain 校验域名格式。
func ValidateDomain(name string) error {
	if name == "" || len(name) > MaxDomainLength {
		return (&ValidationError{}).Add("domain", "length out of range")
	}
	if !domainRegex.MatchString(name) {
		return (&ValidationError{}).Add("domain", "invalid format")
	}
	return nil
}
