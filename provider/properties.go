// 进程属性配置源。
//
// 只读内存键值表，无后台监听；查找对键的大小写与分隔符变体容错。
package provider

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// --- 静态配置源公共实现 ---

// staticProvider is the shared implementation behind the read-only
// in-memory providers (process properties, process environment). The
// backing store cannot change within process lifetime in a way the
// provider observes, so Refresh and listener registration are no-ops.
type staticProvider struct {
	mu         sync.RWMutex
	name       string
	priority   int
	prefix     string
	sourceType SourceType
	values     map[string]string
	logger     *zap.Logger
}

// keyVariants returns the lookup candidates for a dotted key, in probe
// order: PREFIX_UPPER_SNAKE, prefix_lower_snake, PREFIX.original,
// original, then the prefix-free snake forms. Differently-cased or
// differently-delimited backing keys still resolve this way.
func keyVariants(prefix, key string) []string {
	snake := strings.ReplaceAll(key, ".", "_")

	var candidates []string
	if prefix != "" {
		candidates = append(candidates,
			strings.ToUpper(prefix+"_"+snake),
			strings.ToLower(prefix+"_"+snake),
			prefix+"."+key,
		)
	}
	candidates = append(candidates,
		key,
		strings.ToUpper(snake),
		strings.ToLower(snake),
	)

	// 去重，保持探测顺序
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (p *staticProvider) Name() string           { return p.name }
func (p *staticProvider) Priority() int          { return p.priority }
func (p *staticProvider) SourceType() SourceType { return p.sourceType }

// GetString resolves key, probing case-folded and separator-substituted
// variants of the dotted key.
func (p *staticProvider) GetString(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, candidate := range keyVariants(p.prefix, key) {
		if v, ok := p.values[candidate]; ok {
			return v, true
		}
	}
	return "", false
}

// GetObject decodes the value for key as a JSON document.
func (p *staticProvider) GetObject(key string, out any) (bool, error) {
	v, ok := p.GetString(key)
	if !ok {
		return false, nil
	}
	return true, DecodeObject(key, v, out)
}

// GetProperties returns all entries whose stored key starts with prefix
// or one of its tolerant variants.
func (p *staticProvider) GetProperties(prefix string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	variants := keyVariants(p.prefix, prefix)
	result := make(map[string]string)
	for k, v := range p.values {
		for _, variant := range variants {
			if strings.HasPrefix(k, variant) {
				result[k] = v
				break
			}
		}
	}
	return result
}

// Keys returns every stored key, sorted.
func (p *staticProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the stored keys starting with prefix or one of
// its tolerant variants, sorted.
func (p *staticProvider) KeysWithPrefix(prefix string) []string {
	props := p.GetProperties(prefix)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContainsKey reports whether GetString would find key.
func (p *staticProvider) ContainsKey(key string) bool {
	_, ok := p.GetString(key)
	return ok
}

// Refresh is a no-op: the backing store cannot change observably.
func (p *staticProvider) Refresh() error { return nil }

// AddListener is a no-op: this provider never emits change events.
func (p *staticProvider) AddListener(ChangeListener) {}

// RemoveListener is a no-op.
func (p *staticProvider) RemoveListener(ChangeListener) {}

// Available always reports true.
func (p *staticProvider) Available() bool { return true }

// Close is a no-op: there are no background resources.
func (p *staticProvider) Close() error { return nil }

// --- 进程属性配置源 ---

// PropertiesProvider serves configuration from an in-memory key/value
// map supplied at construction, typically the process's startup
// properties. Read-only: Refresh and listener registration are no-ops.
type PropertiesProvider struct {
	staticProvider
}

// PropertiesOption configures a PropertiesProvider.
type PropertiesOption func(*PropertiesProvider)

// WithPropertiesPrefix sets the optional key prefix probed during
// tolerant lookup.
func WithPropertiesPrefix(prefix string) PropertiesOption {
	return func(p *PropertiesProvider) {
		p.prefix = prefix
	}
}

// WithPropertiesLogger sets the logger.
func WithPropertiesLogger(logger *zap.Logger) PropertiesOption {
	return func(p *PropertiesProvider) {
		p.logger = logger
	}
}

// NewPropertiesProvider creates a read-only in-memory provider over a
// copy of values.
func NewPropertiesProvider(name string, priority int, values map[string]string, opts ...PropertiesOption) *PropertiesProvider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}

	p := &PropertiesProvider{
		staticProvider: staticProvider{
			name:       name,
			priority:   priority,
			sourceType: SourceProperties,
			values:     copied,
			logger:     zap.NewNop(),
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}
