package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderClosed 配置源已关闭
	ErrProviderClosed = errors.New("config provider is closed")
)

// FormatError reports a value that could not be parsed into the
// requested type. It is returned at the point of conversion and never
// swallowed: a malformed value is always an error, a missing key never is.
type FormatError struct {
	// Key 被查询的配置键
	Key string

	// Value 原始字符串值
	Value string

	// Target 目标类型（int, bool, ...）
	Target string

	// Err 底层解析错误
	Err error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("config value %q for key %q is not a valid %s: %v", e.Value, e.Key, e.Target, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *FormatError) Unwrap() error {
	return e.Err
}
