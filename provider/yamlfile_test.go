package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAMLDoc = `
app:
  name: demo
  timeout: 30
a:
  b:
    c: 5
db:
  host: localhost
  port: 5432
flag: true
empty:
`

func newTestYAMLFile(t *testing.T, content string) (*YAMLFileProvider, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := NewYAMLFileProvider("yaml", 200, path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, path
}

// --- Dotted lookup ---

func TestYAMLFileProvider_DottedLookup(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	v, ok := p.GetString("app.name")
	require.True(t, ok)
	assert.Equal(t, "demo", v)

	// 非字符串标量统一渲染为字符串
	v, ok = p.GetString("a.b.c")
	require.True(t, ok)
	assert.Equal(t, "5", v)

	v, ok = p.GetString("flag")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	v, ok = p.GetString("empty")
	require.True(t, ok)
	assert.Equal(t, "", v)
}

func TestYAMLFileProvider_MappingNodeIsNotAValue(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	_, ok := p.GetString("app")
	assert.False(t, ok, "an intermediate mapping is not a scalar value")
	assert.False(t, p.ContainsKey("app"))
	assert.True(t, p.ContainsKey("app.name"))
}

func TestYAMLFileProvider_MissingPath(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	_, ok := p.GetString("app.nope")
	assert.False(t, ok)

	// 穿过标量继续下钻同样失败
	_, ok = p.GetString("app.name.deeper")
	assert.False(t, ok)
}

// --- Flattening ---

func TestYAMLFileProvider_FlattensNestedKeys(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	keys := p.Keys()
	assert.Contains(t, keys, "a.b.c")
	assert.Contains(t, keys, "app.name")
	assert.Contains(t, keys, "db.port")
	assert.NotContains(t, keys, "app", "intermediate nodes do not enumerate")
	assert.IsIncreasing(t, keys)

	assert.Equal(t, map[string]string{"a.b.c": "5"}, p.GetProperties("a.b"))
	assert.Equal(t, []string{"app.name", "app.timeout"}, p.KeysWithPrefix("app."))
}

// --- GetObject ---

func TestYAMLFileProvider_GetObjectBindsSubtree(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	var out struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}
	found, err := p.GetObject("db", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "localhost", out.Host)
	assert.Equal(t, 5432, out.Port)

	found, err = p.GetObject("db.missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Metadata ---

func TestYAMLFileProvider_Metadata(t *testing.T) {
	p, _ := newTestYAMLFile(t, testYAMLDoc)

	assert.Equal(t, "yaml", p.Name())
	assert.Equal(t, 200, p.Priority())
	assert.Equal(t, SourceDocumentFile, p.SourceType())
	assert.True(t, p.Available())
}

func TestYAMLFileProvider_MissingFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	p, err := NewYAMLFileProvider("yaml", 200, path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	assert.False(t, p.Available())
	assert.Empty(t, p.Keys())
	assert.NoError(t, p.Refresh(), "refresh with a missing file is not an error")
}

func TestYAMLFileProvider_MalformedFileIsConstructionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not: [valid"), 0644))

	_, err := NewYAMLFileProvider("yaml", 200, path)
	assert.Error(t, err)
}

// --- Refresh ---

func TestYAMLFileProvider_RefreshReloadsOnModTimeAdvance(t *testing.T) {
	p, path := newTestYAMLFile(t, "app:\n  timeout: 30\n")

	require.NoError(t, os.WriteFile(path, []byte("app:\n  timeout: 45\n"), 0644))
	// 确保修改时间前移
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, p.Refresh())

	v, ok := p.GetString("app.timeout")
	require.True(t, ok)
	assert.Equal(t, "45", v)
}

func TestYAMLFileProvider_RefreshSkipsUnchangedFile(t *testing.T) {
	p, path := newTestYAMLFile(t, "k: v\n")

	// 内容变化但修改时间未前移：不重载
	require.NoError(t, os.WriteFile(path, []byte("k: other\n"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	require.NoError(t, p.Refresh())

	v, ok := p.GetString("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestYAMLFileProvider_RefreshFailureKeepsPreviousTree(t *testing.T) {
	p, path := newTestYAMLFile(t, "k: v\n")

	require.NoError(t, os.WriteFile(path, []byte("{broken: [yaml"), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Error(t, p.Refresh())

	v, ok := p.GetString("k")
	require.True(t, ok, "previous tree must survive a failed reload")
	assert.Equal(t, "v", v)
}
