package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/forgedev/codeforge/archive"
	"github.com/forgedev/codeforge/config"
	"github.com/forgedev/codeforge/generation"
	"github.com/forgedev/codeforge/jobs"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// mockGenerator 可控的生成器替身：可阻塞、可注入失败。
type mockGenerator struct {
	mu      sync.Mutex
	started int
	block   chan struct{}
	err     error
}

func (g *mockGenerator) GenerateFiles(ctx context.Context, text string) (*generation.FileSet, error) {
	g.mu.Lock()
	g.started++
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if g.err != nil {
		return nil, g.err
	}

	fileSet := generation.NewFileSet()
	fileSet.Add(generation.GeneratedFile{Path: "main.py", Content: "# " + text + "\n"})
	fileSet.Add(generation.GeneratedFile{Path: "docs/readme.md", Content: text + "\n"})
	return fileSet, nil
}

func (g *mockGenerator) startedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// handlerEnv 聚合一套完整的任务服务栈供 Handler 测试使用。
type handlerEnv struct {
	service  *jobs.Service
	store    jobs.Store
	archives *archive.Store
}

func newHandlerEnv(t *testing.T, generator generation.Generator, cfg jobs.ServiceConfig) *handlerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := jobs.NewGormStore(db, zap.NewNop())
	require.NoError(t, err)

	artifacts := config.DefaultArtifactsConfig()
	artifacts.Root = t.TempDir()
	archives, err := archive.NewStore(artifacts, nil, zap.NewNop())
	require.NoError(t, err)

	hub := jobs.NewHub(zap.NewNop())
	service := jobs.NewService(store, generator, archives, hub, nil, cfg, zap.NewNop())
	t.Cleanup(func() {
		service.Close()
		_ = archives.Close()
		_ = store.Close()
	})

	return &handlerEnv{service: service, store: store, archives: archives}
}

func waitForJobStatus(t *testing.T, store jobs.Store, ref string, want jobs.Status) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByRef(context.Background(), ref)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", ref, want)
	return nil
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// extractZip 解包 zip 字节为 路径 → 内容 映射。
func extractZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string]string, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[zf.Name] = string(content)
	}
	return files
}

// decodeData 把统一响应的 data 段解码为目标类型。
func decodeData(t *testing.T, resp Response, dst any) {
	t.Helper()
	dataBytes, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dataBytes, dst))
}
