package provider

import (
	"encoding/json"
	"strconv"
)

// --- 配置源类型 ---

// SourceType identifies the kind of backing store behind a provider.
type SourceType int

const (
	// SourceProperties 进程内存属性
	SourceProperties SourceType = iota
	// SourceEnvironment 进程环境变量
	SourceEnvironment
	// SourceFlatFile 平面 key=value 文件
	SourceFlatFile
	// SourceDocumentFile 层级文档文件
	SourceDocumentFile
	// SourceRemote 远程/自定义配置源（由外部实现）
	SourceRemote
)

// String returns the string representation of SourceType.
func (s SourceType) String() string {
	switch s {
	case SourceProperties:
		return "properties"
	case SourceEnvironment:
		return "environment"
	case SourceFlatFile:
		return "flat_file"
	case SourceDocumentFile:
		return "document_file"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// --- Provider 契约 ---

// Provider is the uniform read-only key/value contract every
// configuration source implements. A provider has a unique name within
// its manager and an integer priority: lower values are resolved first
// and win on key conflicts.
//
// ContainsKey must be consistent with GetString: a key is contained
// exactly when GetString reports it present.
type Provider interface {
	// Name returns the provider's unique identity.
	Name() string

	// Priority returns the resolution order; lower resolves first.
	Priority() int

	// SourceType reports the kind of backing store.
	SourceType() SourceType

	// GetString returns the raw string value for key, if present.
	GetString(key string) (string, bool)

	// GetObject deserializes the value for key into out. The decoding
	// is provider-specific; the default decodes a JSON-looking value.
	GetObject(key string, out any) (bool, error)

	// GetProperties returns all entries whose key starts with prefix.
	GetProperties(prefix string) map[string]string

	// Keys returns every key the provider currently holds.
	Keys() []string

	// KeysWithPrefix returns the keys starting with prefix.
	KeysWithPrefix(prefix string) []string

	// ContainsKey reports whether key resolves to a value.
	ContainsKey(key string) bool

	// Refresh forces a reload from the backing store. Watchable
	// providers may emit change events as a side effect of
	// reconciling old vs. new state.
	Refresh() error

	// AddListener subscribes l to this provider's change stream.
	// Providers whose backing store cannot change treat this as a no-op.
	AddListener(l ChangeListener)

	// RemoveListener unsubscribes l.
	RemoveListener(l ChangeListener)

	// Available reports whether the backing store is reachable,
	// e.g. false when a backing file does not exist.
	Available() bool

	// Close releases background resources (watchers, listener lists).
	Close() error
}

// --- 类型化转换 ---
//
// 类型化访问从字符串形式解析，解析失败返回 *FormatError，
// 绝不静默回退到默认值。

// ParseInt parses value as an int. A malformed value yields *FormatError.
func ParseInt(key, value string) (int, error) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, &FormatError{Key: key, Value: value, Target: "int", Err: err}
	}
	return i, nil
}

// ParseInt64 parses value as an int64.
func ParseInt64(key, value string) (int64, error) {
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, &FormatError{Key: key, Value: value, Target: "int64", Err: err}
	}
	return i, nil
}

// ParseFloat64 parses value as a float64.
func ParseFloat64(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &FormatError{Key: key, Value: value, Target: "float64", Err: err}
	}
	return f, nil
}

// ParseBool parses value as a bool, accepting the strconv forms
// (1, t, true, 0, f, false, case-insensitive).
func ParseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &FormatError{Key: key, Value: value, Target: "bool", Err: err}
	}
	return b, nil
}

// DecodeObject is the default object decoding shared by providers:
// the string form is treated as a JSON document.
func DecodeObject(key, value string, out any) error {
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return &FormatError{Key: key, Value: value, Target: "object", Err: err}
	}
	return nil
}
