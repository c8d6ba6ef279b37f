// 配置变更事件模型。
//
// 将"文件变了"转化为按键分类的 Added/Modified/Deleted 事件。
package provider

import (
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- 变更类型 ---

// ChangeType classifies a single-key configuration transition.
type ChangeType string

const (
	// ChangeAdded 键在新状态中出现
	ChangeAdded ChangeType = "added"
	// ChangeModified 键在新旧状态中都存在且值不同
	ChangeModified ChangeType = "modified"
	// ChangeDeleted 键在新状态中消失
	ChangeDeleted ChangeType = "deleted"
)

// --- 变更事件 ---

// ChangeEvent is an immutable record of one classified key transition
// from one provider. Invariants: Type==ChangeDeleted implies NewValue
// is nil; Type==ChangeAdded implies OldValue is nil; ChangeModified
// implies both are present and unequal.
type ChangeEvent struct {
	// ID 事件唯一标识
	ID string `json:"id"`

	// Key 发生变更的配置键
	Key string `json:"key"`

	// OldValue 变更前的值，nil 表示此前不存在
	OldValue *string `json:"old_value,omitempty"`

	// NewValue 变更后的值，nil 表示已删除
	NewValue *string `json:"new_value,omitempty"`

	// Type 变更分类
	Type ChangeType `json:"type"`

	// Source 产生事件的配置源名称
	Source string `json:"source"`

	// Timestamp 事件发生时间
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeEvent derives a classified event from the presence/absence
// of old vs. new. The second return is false when there is no
// transition to report (both absent, or both present and equal).
func NewChangeEvent(source, key string, oldValue, newValue *string) (ChangeEvent, bool) {
	ev := ChangeEvent{
		ID:        uuid.NewString(),
		Key:       key,
		Source:    source,
		Timestamp: time.Now(),
	}

	switch {
	case oldValue == nil && newValue == nil:
		return ChangeEvent{}, false
	case oldValue == nil:
		ev.Type = ChangeAdded
		ev.NewValue = newValue
	case newValue == nil:
		ev.Type = ChangeDeleted
		ev.OldValue = oldValue
	case *oldValue == *newValue:
		return ChangeEvent{}, false
	default:
		ev.Type = ChangeModified
		ev.OldValue = oldValue
		ev.NewValue = newValue
	}

	return ev, true
}

// DiffMaps computes the classified change events between two snapshots
// of a provider's key space. Keys present in both with equal values
// produce no event. Events are ordered by key so delivery is
// deterministic.
func DiffMaps(source string, oldValues, newValues map[string]string) []ChangeEvent {
	// 新旧键集合的对称并集
	union := make(map[string]struct{}, len(oldValues)+len(newValues))
	for k := range oldValues {
		union[k] = struct{}{}
	}
	for k := range newValues {
		union[k] = struct{}{}
	}

	keys := make([]string, 0, len(union))
	for k := range union {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var events []ChangeEvent
	for _, k := range keys {
		var oldPtr, newPtr *string
		if v, ok := oldValues[k]; ok {
			v := v
			oldPtr = &v
		}
		if v, ok := newValues[k]; ok {
			v := v
			newPtr = &v
		}
		if ev, ok := NewChangeEvent(source, k, oldPtr, newPtr); ok {
			events = append(events, ev)
		}
	}

	return events
}

// --- 监听器契约 ---

// ChangeListener receives classified change events. InterestedIn lets
// a listener filter delivery to the keys it cares about.
type ChangeListener interface {
	// OnConfigChange 处理一次变更
	OnConfigChange(event ChangeEvent)

	// InterestedIn 是否关心该键的变更
	InterestedIn(key string) bool
}

// ListenerFunc adapts a plain function into a ChangeListener that is
// interested in every key.
type ListenerFunc func(ChangeEvent)

// OnConfigChange implements ChangeListener.
func (f ListenerFunc) OnConfigChange(event ChangeEvent) {
	f(event)
}

// InterestedIn implements ChangeListener; it always returns true.
func (f ListenerFunc) InterestedIn(string) bool {
	return true
}

// SameListener reports whether a and b are the same registered
// listener. Func-typed listeners such as ListenerFunc are not
// comparable with ==, so they compare by code pointer instead.
func SameListener(a, b ChangeListener) bool {
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Kind() == reflect.Func || vb.Kind() == reflect.Func {
		return va.Kind() == vb.Kind() && va.Pointer() == vb.Pointer()
	}
	return a == b
}

// Dispatch delivers event to l, isolating listener panics so one
// failing listener cannot block or corrupt delivery to others.
func Dispatch(logger *zap.Logger, l ChangeListener, event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("config listener panicked",
				zap.String("key", event.Key),
				zap.String("source", event.Source),
				zap.Any("panic", r))
		}
	}()
	l.OnConfigChange(event)
}
