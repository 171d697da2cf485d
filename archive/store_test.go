package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/forgedev/codeforge/config"
	"github.com/forgedev/codeforge/generation"
	"github.com/forgedev/codeforge/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultArtifactsConfig()
	cfg.Root = t.TempDir()

	s, err := NewStore(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFileSet() *generation.FileSet {
	fs := generation.NewFileSet()
	fs.Add(generation.GeneratedFile{Path: "backend_python_fastapi/main.py", Content: "app = FastAPI()\n"})
	fs.Add(generation.GeneratedFile{Path: "frontend_react/src/App.jsx", Content: "export default App;\n"})
	fs.Add(generation.GeneratedFile{Path: "database/schema.sql", Content: "CREATE TABLE users (id INT);\n"})
	return fs
}

func TestStore_WriteFileSet(t *testing.T) {
	s := newTestStore(t)

	n, err := s.WriteFileSet("20260822143501123456-8f3ab2c1", sampleFileSet())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(s.WorkDir("20260822143501123456-8f3ab2c1"),
		"backend_python_fastapi", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "app = FastAPI()\n", string(data))
}

func TestStore_WriteFileSet_SanitizesTraversal(t *testing.T) {
	s := newTestStore(t)

	fs := generation.NewFileSet()
	fs.Add(generation.GeneratedFile{Path: "../../evil.sh", Content: "rm -rf /"})
	fs.Add(generation.GeneratedFile{Path: "/etc/passwd", Content: "root:x:0:0"})
	fs.Add(generation.GeneratedFile{Path: "ok/../nested/file.txt", Content: "fine"})

	n, err := s.WriteFileSet("work-1", fs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	workDir := s.WorkDir("work-1")

	// 逃逸路径被拉回工作目录内部
	assert.FileExists(t, filepath.Join(workDir, "evil.sh"))
	assert.FileExists(t, filepath.Join(workDir, "etc", "passwd"))
	assert.FileExists(t, filepath.Join(workDir, "nested", "file.txt"))

	// 工作目录的父目录里没有任何泄漏
	assert.NoFileExists(t, filepath.Join(workDir, "..", "evil.sh"))
	assert.NoFileExists(t, filepath.Join(workDir, "..", "..", "evil.sh"))
}

func TestStore_WriteFileSet_InvalidID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteFileSet("../escape", sampleFileSet())
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidPath, types.GetErrorCode(err))

	_, err = s.WriteFileSet("", sampleFileSet())
	require.Error(t, err)
}

func TestStore_CompressAndOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteFileSet("work-1", sampleFileSet())
	require.NoError(t, err)

	// 发布前: 归档不可用
	_, _, err = s.Open("arch-1", "work-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrArchiveNotReady, types.GetErrorCode(err))
	assert.False(t, s.Published("arch-1", "work-1"))

	require.NoError(t, s.Compress(ctx, "arch-1", "work-1"))
	assert.True(t, s.Published("arch-1", "work-1"))

	f, fi, err := s.Open("arch-1", "work-1")
	require.NoError(t, err)
	defer f.Close()
	assert.Positive(t, fi.Size())

	zr, err := zip.NewReader(f, fi.Size())
	require.NoError(t, err)

	got := map[string]string{}
	for _, entry := range zr.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		got[entry.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"backend_python_fastapi/main.py": "app = FastAPI()\n",
		"frontend_react/src/App.jsx":     "export default App;\n",
		"database/schema.sql":            "CREATE TABLE users (id INT);\n",
	}, got)
}

func TestStore_Compress_NoTempLeftovers(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteFileSet("work-1", sampleFileSet())
	require.NoError(t, err)
	require.NoError(t, s.Compress(context.Background(), "arch-1", "work-1"))

	entries, err := os.ReadDir(filepath.Dir(s.ArchivePath("arch-1", "work-1")))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "generated_code_work-1.zip", entries[0].Name())
}

func TestStore_Compress_CanceledContext(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteFileSet("work-1", sampleFileSet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Compress(ctx, "arch-1", "work-1")
	require.Error(t, err)

	// 取消后最终路径上不能出现归档, 临时文件也要被清掉
	assert.False(t, s.Published("arch-1", "work-1"))
	entries, err := os.ReadDir(filepath.Dir(s.ArchivePath("arch-1", "work-1")))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Compress_MissingWorkDir(t *testing.T) {
	s := newTestStore(t)

	err := s.Compress(context.Background(), "arch-1", "never-written")
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestStore_Open_InvalidRefs(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{"../up", "a/b", "", ".hidden", "a\\b"} {
		_, _, err := s.Open(bad, "work-1")
		require.Error(t, err, "archive id %q", bad)
		_, _, err = s.Open("arch-1", bad)
		require.Error(t, err, "work id %q", bad)
	}
}

func TestStore_RemoveWorkDir(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteFileSet("work-1", sampleFileSet())
	require.NoError(t, err)
	require.DirExists(t, s.WorkDir("work-1"))

	require.NoError(t, s.RemoveWorkDir("work-1"))
	assert.NoDirExists(t, s.WorkDir("work-1"))

	err = s.RemoveWorkDir("../escape")
	require.Error(t, err)
}

func TestStore_Sweep(t *testing.T) {
	s := newTestStore(t)
	s.retentionTTL = time.Hour

	_, err := s.WriteFileSet("old-work", sampleFileSet())
	require.NoError(t, err)
	_, err = s.WriteFileSet("fresh-work", sampleFileSet())
	require.NoError(t, err)
	require.NoError(t, s.Compress(context.Background(), "old-arch", "old-work"))

	// 把旧条目的修改时间拨回保留期之前
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.WorkDir("old-work"), stale, stale))
	require.NoError(t, os.Chtimes(filepath.Join(s.archiveRoot, "old-arch"), stale, stale))

	s.sweep(time.Now())

	assert.NoDirExists(t, s.WorkDir("old-work"))
	assert.False(t, s.Published("old-arch", "old-work"))
	assert.DirExists(t, s.WorkDir("fresh-work"))
}

func TestValidRef(t *testing.T) {
	assert.True(t, ValidRef("20260822143501123456-8f3ab2c1"))
	assert.True(t, ValidRef("work_1"))
	assert.False(t, ValidRef(""))
	assert.False(t, ValidRef("../up"))
	assert.False(t, ValidRef("a/b"))
	assert.False(t, ValidRef("a b"))
	assert.False(t, ValidRef(".hidden"))
	assert.False(t, ValidRef("-leading"))
}

func TestArchiveFileName(t *testing.T) {
	assert.Equal(t, "generated_code_w1.zip", ArchiveFileName("w1"))
}

// 任意输入净化后的路径都解析在根目录之内
func TestProperty_SanitizeRelPath_NeverEscapes(t *testing.T) {
	root := string(filepath.Separator) + filepath.Join("artifacts", "work")

	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.String().Draw(rt, "raw")

		clean := SanitizeRelPath(raw)
		if clean == "" {
			return
		}

		assert.False(rt, strings.HasPrefix(clean, "/"), "clean path %q must be relative", clean)
		assert.False(rt, clean == ".." || strings.HasPrefix(clean, "../"),
			"clean path %q must not climb", clean)

		resolved := filepath.Clean(filepath.Join(root, filepath.FromSlash(clean)))
		assert.True(rt, strings.HasPrefix(resolved, root+string(filepath.Separator)),
			"raw %q resolved to %q outside %q", raw, resolved, root)
	})
}

func TestSanitizeRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"src/App.jsx", "src/App.jsx"},
		{"../../etc/passwd", "etc/passwd"},
		{"/etc/passwd", "etc/passwd"},
		{"a/../b", "b"},
		{"a/./b", "a/b"},
		{"..", ""},
		{".", ""},
		{"", ""},
		{"win\\style\\path", "win/style/path"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeRelPath(tt.in), "SanitizeRelPath(%q)", tt.in)
	}
}
