package provider

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, paths []string, opts ...WatcherOption) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(paths, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })
	return w
}

// --- 生命周期 ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	w := newTestWatcher(t, []string{path})
	assert.False(t, w.IsRunning())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	// 重复启动报错
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	// 重复停止无害
	assert.NoError(t, w.Stop())
}

func TestFileWatcher_PathsAreAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rel.conf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	w := newTestWatcher(t, []string{path})
	paths := w.Paths()
	require.Len(t, paths, 1)
	assert.True(t, filepath.IsAbs(paths[0]))
}

func TestFileWatcher_MissingFileIsWatchedForCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet.conf")

	w := newTestWatcher(t, []string{path},
		WithDebounceDelay(20*time.Millisecond),
		WithPollInterval(50*time.Millisecond))

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(ev FileEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("created"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// 新建文件可能上报 CREATE，或在防抖窗口内被后继 WRITE 合并
	assert.Contains(t, []FileOp{FileOpCreate, FileOpWrite}, events[0].Op)
	abs, _ := filepath.Abs(path)
	assert.Equal(t, abs, events[0].Path)
}

// --- 变更检测 ---

func TestFileWatcher_DetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	w := newTestWatcher(t, []string{path},
		WithDebounceDelay(20*time.Millisecond),
		WithPollInterval(50*time.Millisecond))

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(ev FileEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	abs, _ := filepath.Abs(path)
	assert.Equal(t, abs, events[0].Path)
}

func TestFileWatcher_IgnoresUnwatchedSiblings(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.conf")
	sibling := filepath.Join(dir, "other.conf")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0644))

	w := newTestWatcher(t, []string{watched},
		WithDebounceDelay(20*time.Millisecond))

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(ev FileEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	// 同目录下未监听文件的事件必须被过滤
	require.NoError(t, os.WriteFile(sibling, []byte("noise"), 0644))
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, events)
}

// --- 防抖合并 ---

func TestFileWatcher_CoalescesBurstWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.conf")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0644))

	w := newTestWatcher(t, []string{path},
		WithDebounceDelay(150*time.Millisecond),
		WithPollInterval(time.Hour)) // 只依赖系统通知，避免轮询干扰计数

	var mu sync.Mutex
	var count int
	w.OnChange(func(FileEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	// 防抖窗口内的连续写入合并为一次回调
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("burst"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, count, 2, "burst writes should coalesce inside the debounce window")
}

// --- 上下文取消 ---

func TestFileWatcher_StopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	w := newTestWatcher(t, []string{path},
		WithDebounceDelay(20*time.Millisecond),
		WithPollInterval(50*time.Millisecond))

	var mu sync.Mutex
	var count int
	w.OnChange(func(FileEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	time.Sleep(100 * time.Millisecond)

	// 取消后不再分发
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}
