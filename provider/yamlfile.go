// 层级 YAML 文档配置源。
//
// 读取时把嵌套映射展平为点连接的平面键；按需重载。
package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// YAMLFileProvider exposes a nested YAML mapping document through the
// flat dotted-key contract: nested maps flatten to dot-joined keys on
// enumeration (a.b.c) and point lookups walk the dotted path.
//
// Unlike FlatFileProvider there is no background watcher and no
// diff-based change notification: Refresh compares the file's
// last-modified timestamp and, when it advanced, replaces the tree
// outright without emitting events. This asymmetry is part of the
// contract — document files are expected to be reloaded on demand.
// Callers that need per-key change events should use FlatFileProvider.
type YAMLFileProvider struct {
	mu sync.RWMutex

	name     string
	priority int
	path     string

	tree    map[string]any
	lastMod time.Time

	logger *zap.Logger
}

// YAMLFileOption configures a YAMLFileProvider.
type YAMLFileOption func(*YAMLFileProvider)

// WithYAMLFileLogger sets the logger.
func WithYAMLFileLogger(logger *zap.Logger) YAMLFileOption {
	return func(p *YAMLFileProvider) {
		p.logger = logger
	}
}

// NewYAMLFileProvider parses path into an in-memory tree. A missing
// file is not an error: the provider reports Available()==false until
// the file appears and Refresh is called.
func NewYAMLFileProvider(name string, priority int, path string, opts ...YAMLFileOption) (*YAMLFileProvider, error) {
	p := &YAMLFileProvider{
		name:     name,
		priority: priority,
		path:     path,
		tree:     make(map[string]any),
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.load(); err != nil {
		if os.IsNotExist(err) {
			p.logger.Warn("document file does not exist",
				zap.String("provider", name), zap.String("path", path))
			return p, nil
		}
		return nil, err
	}

	return p, nil
}

func (p *YAMLFileProvider) Name() string           { return p.name }
func (p *YAMLFileProvider) Priority() int          { return p.priority }
func (p *YAMLFileProvider) SourceType() SourceType { return SourceDocumentFile }

// GetString walks the dotted path through the tree and renders the
// scalar leaf. An intermediate or leaf mapping is not a value.
func (p *YAMLFileProvider) GetString(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	if _, isMap := node.(map[string]any); isMap {
		return "", false
	}
	return renderScalar(node), true
}

// GetObject decodes the subtree at key into out by round-tripping it
// through YAML, so nested sections bind to structs directly.
func (p *YAMLFileProvider) GetObject(key string, out any) (bool, error) {
	p.mu.RLock()
	node, ok := p.lookup(key)
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return true, &FormatError{Key: key, Value: fmt.Sprintf("%v", node), Target: "object", Err: err}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return true, &FormatError{Key: key, Value: string(data), Target: "object", Err: err}
	}
	return true, nil
}

// GetProperties flattens the tree and returns all entries whose dotted
// key starts with prefix.
func (p *YAMLFileProvider) GetProperties(prefix string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range flattenTree("", p.tree) {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result
}

// Keys returns every flattened dotted key, sorted.
func (p *YAMLFileProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flat := flattenTree("", p.tree)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the flattened keys starting with prefix, sorted.
func (p *YAMLFileProvider) KeysWithPrefix(prefix string) []string {
	props := p.GetProperties(prefix)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContainsKey reports whether key resolves to a scalar value.
func (p *YAMLFileProvider) ContainsKey(key string) bool {
	_, ok := p.GetString(key)
	return ok
}

// Refresh reloads the document only when the file's last-modified
// timestamp advanced, replacing the tree outright. No change events
// are emitted; see the type documentation.
func (p *YAMLFileProvider) Refresh() error {
	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", p.path, err)
	}

	p.mu.RLock()
	unchanged := !info.ModTime().After(p.lastMod)
	p.mu.RUnlock()
	if unchanged {
		return nil
	}

	if err := p.load(); err != nil {
		p.logger.Error("failed to reload document file, keeping previous tree",
			zap.String("provider", p.name), zap.Error(err))
		return err
	}

	p.logger.Info("document file reloaded",
		zap.String("provider", p.name), zap.String("path", p.path))
	return nil
}

// AddListener is a no-op: this provider never emits change events.
func (p *YAMLFileProvider) AddListener(ChangeListener) {}

// RemoveListener is a no-op.
func (p *YAMLFileProvider) RemoveListener(ChangeListener) {}

// Available reports whether the backing file exists.
func (p *YAMLFileProvider) Available() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// Close is a no-op: there is no background watcher to stop.
func (p *YAMLFileProvider) Close() error { return nil }

// load parses the document and swaps the tree.
func (p *YAMLFileProvider) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse %s: %w", p.path, err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.tree = tree
	p.lastMod = info.ModTime()
	p.mu.Unlock()

	return nil
}

// lookup walks the dotted path. Caller holds at least the read lock.
func (p *YAMLFileProvider) lookup(key string) (any, bool) {
	parts := strings.Split(key, ".")
	var node any = p.tree
	for _, part := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// flattenTree converts nested maps into dot-joined flat keys.
func flattenTree(prefix string, node map[string]any) map[string]string {
	flat := make(map[string]string)
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			for ck, cv := range flattenTree(key, child) {
				flat[ck] = cv
			}
			continue
		}
		flat[key] = renderScalar(v)
	}
	return flat
}

// renderScalar stringifies a YAML scalar (or sequence) value.
func renderScalar(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
