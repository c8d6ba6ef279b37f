// 进程环境变量配置源。
//
// 构造时对 os.Environ 做快照，之后不再触碰进程全局状态；
// 测试可通过 WithEnviron 注入固定环境。
package provider

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// EnvProvider serves configuration from the process environment,
// snapshotted at construction. Dotted keys resolve against environment
// names through the tolerant variants (PREFIX_UPPER_SNAKE,
// prefix_lower_snake, PREFIX.original, original). Read-only: the
// provider never observes later environment mutation, so Refresh and
// listener registration are no-ops.
type EnvProvider struct {
	staticProvider
}

// EnvOption configures an EnvProvider.
type EnvOption func(*EnvProvider)

// WithEnvPrefix sets the prefix probed during tolerant lookup,
// e.g. "APP" makes "app.timeout" probe APP_APP_TIMEOUT first.
func WithEnvPrefix(prefix string) EnvOption {
	return func(p *EnvProvider) {
		p.prefix = prefix
	}
}

// WithEnviron injects a fixed environment in "KEY=value" form instead
// of snapshotting os.Environ, making the provider substitutable in
// tests.
func WithEnviron(environ []string) EnvOption {
	return func(p *EnvProvider) {
		p.values = parseEnviron(environ)
	}
}

// WithEnvLogger sets the logger.
func WithEnvLogger(logger *zap.Logger) EnvOption {
	return func(p *EnvProvider) {
		p.logger = logger
	}
}

// NewEnvProvider creates a provider over a snapshot of the process
// environment.
func NewEnvProvider(name string, priority int, opts ...EnvOption) *EnvProvider {
	p := &EnvProvider{
		staticProvider: staticProvider{
			name:       name,
			priority:   priority,
			sourceType: SourceEnvironment,
			logger:     zap.NewNop(),
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.values == nil {
		p.values = parseEnviron(os.Environ())
	}

	return p
}

// parseEnviron splits "KEY=value" entries into a map. Entries without
// a separator are skipped.
func parseEnviron(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			continue
		}
		values[k] = v
	}
	return values
}
