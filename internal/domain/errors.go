package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 业务错误分类。调用方用 errors.Is/As 判断类别，HTTP 层据此映射
// 状态码：NotFound/Validation 属于调用方可恢复错误，Conflict 是
// 可重试的并发竞争，AllocationExhausted 和存储失败属于运维故障。
var (
	// ErrNotFound 表示会话名下没有任何收件箱。
	ErrNotFound = errors.New("inbox not found")

	// ErrConflict 表示唯一约束竞争失败（两个并发首次访问只有一个
	// 赢家），调用方可以安全重试。
	ErrConflict = errors.New("concurrent create conflict")

	// ErrAllocationExhausted 表示地址分配在重试预算内没有找到可用
	// 候选。
	ErrAllocationExhausted = errors.New("address allocation exhausted")

	// ErrValidation 是所有字段级校验错误的类别哨兵。
	ErrValidation = errors.New("validation failed")

	// ErrConfigInvalid 是清理参数越界错误的类别哨兵。
	ErrConfigInvalid = errors.New("cleanup configuration invalid")
)

// AllocationError 携带分配失败时已经消耗的尝试次数。
type AllocationError struct {
	Domain   string
	Attempts int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("address allocation exhausted after %d attempts on %s", e.Attempts, e.Domain)
}

func (e *AllocationError) Unwrap() error { return ErrAllocationExhausted }

// FieldError 描述单个字段的校验失败原因。
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError 聚合一次操作中所有字段级校验失败。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add 追加一条字段错误并返回自身，便于链式构造。
func (e *ValidationError) Add(field, reason string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
	return e
}

// Empty 判断是否没有积累任何字段错误。
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// ConfigError 描述清理参数越界，携带字段名与非法值。
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cleanup configuration invalid: %s=%v (%s)", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfigInvalid }
