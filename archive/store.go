package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forgedev/codeforge/config"
	"github.com/forgedev/codeforge/generation"
	"github.com/forgedev/codeforge/internal/metrics"
	"github.com/forgedev/codeforge/internal/pool"
	"github.com/forgedev/codeforge/types"
)

// refRe 约束目录标识: 时间戳基串加随机后缀, 不含路径分隔符
var refRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Store 管理生成产物的两棵目录树: 工作目录（解压后的文件）与归档目录（zip）。
// 归档先写临时文件再原子改名, 下载方看到的路径上永远不会出现半成品。
type Store struct {
	workRoot    string
	archiveRoot string
	collector   *metrics.Collector
	logger      *zap.Logger

	retentionTTL time.Duration
	stopSweep    chan struct{}
}

// NewStore 创建产物存储并确保目录树存在。
// RetentionEnabled 打开时启动后台清理 goroutine, 记得 Close。
func NewStore(cfg config.ArtifactsConfig, collector *metrics.Collector, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	workRoot := filepath.Join(cfg.Root, cfg.WorkSubdir)
	archiveRoot := filepath.Join(cfg.Root, cfg.ArchiveSubdir)
	for _, dir := range []string{workRoot, archiveRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create artifacts directory %s: %w", dir, err)
		}
	}

	s := &Store{
		workRoot:     workRoot,
		archiveRoot:  archiveRoot,
		collector:    collector,
		logger:       logger,
		retentionTTL: cfg.RetentionTTL,
		stopSweep:    make(chan struct{}),
	}

	if cfg.RetentionEnabled && cfg.RetentionTTL > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = time.Hour
		}
		go s.sweepLoop(interval)
	}

	return s, nil
}

// Close 停止后台清理
func (s *Store) Close() error {
	select {
	case <-s.stopSweep:
	default:
		close(s.stopSweep)
	}
	return nil
}

// ValidRef 判断标识是否可以安全用作目录名
func ValidRef(id string) bool {
	return refRe.MatchString(id)
}

// ArchiveFileName 返回归档文件名
func ArchiveFileName(workDirID string) string {
	return "generated_code_" + workDirID + ".zip"
}

// WorkDir 返回某个工作目录标识对应的绝对目录
func (s *Store) WorkDir(workDirID string) string {
	return filepath.Join(s.workRoot, workDirID)
}

// ArchivePath 返回归档 zip 的最终路径
func (s *Store) ArchivePath(archiveDirID, workDirID string) string {
	return filepath.Join(s.archiveRoot, archiveDirID, ArchiveFileName(workDirID))
}

// WriteFileSet 把文件集写入工作目录, 自动创建中间目录。
// 路径在写入前经过净化, 不可能写出工作目录之外。
func (s *Store) WriteFileSet(workDirID string, fileSet *generation.FileSet) (int, error) {
	if !ValidRef(workDirID) {
		return 0, types.NewError(types.ErrInvalidPath, fmt.Sprintf("invalid work directory id %q", workDirID))
	}

	workDir := s.WorkDir(workDirID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return 0, types.NewError(types.ErrStorage, "create work directory").WithCause(err)
	}

	written := 0
	for _, f := range fileSet.Files() {
		rel := SanitizeRelPath(f.Path)
		if rel == "" {
			s.logger.Warn("丢弃路径净化后为空的文件", zap.String("path", f.Path))
			continue
		}

		target := filepath.Join(workDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, types.NewError(types.ErrStorage, fmt.Sprintf("create directory for %s", rel)).WithCause(err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return written, types.NewError(types.ErrStorage, fmt.Sprintf("write %s", rel)).WithCause(err)
		}
		written++
	}

	return written, nil
}

// SanitizeRelPath 把不可信的相对路径净化成不会逃逸根目录的形式。
// 绝对路径去掉前导分隔符, ".." 段被剥离而不是报错, 尽量保留文件本身。
func SanitizeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return p
}

// Compress 把工作目录压缩成归档 zip 并原子发布。
// 写入临时文件, fsync 后改名到最终路径; 失败时清理临时文件。
func (s *Store) Compress(ctx context.Context, archiveDirID, workDirID string) error {
	if !ValidRef(archiveDirID) || !ValidRef(workDirID) {
		return types.NewError(types.ErrInvalidPath, "invalid archive reference")
	}

	workDir := s.WorkDir(workDirID)
	if _, err := os.Stat(workDir); err != nil {
		return types.NewError(types.ErrStorage, "work directory missing").WithCause(err)
	}

	finalPath := s.ArchivePath(archiveDirID, workDirID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return types.NewError(types.ErrStorage, "create archive directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-*.zip")
	if err != nil {
		return types.NewError(types.ErrStorage, "create temp archive").WithCause(err)
	}
	tmpPath := tmp.Name()

	size, err := s.writeZip(ctx, tmp, workDir)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return types.NewError(types.ErrStorage, "write archive").WithCause(err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return types.NewError(types.ErrStorage, "publish archive").WithCause(err)
	}

	if s.collector != nil {
		s.collector.RecordArchivePublished(size)
	}
	s.logger.Info("归档已发布",
		zap.String("archive", finalPath),
		zap.Int64("size_bytes", size))
	return nil
}

// writeZip 把 dir 下的所有常规文件写入 zip, 条目路径相对 dir
func (s *Store) writeZip(ctx context.Context, w io.Writer, dir string) (int64, error) {
	counting := &countingWriter{w: w}
	zw := zip.NewWriter(counting)

	buf := pool.CopyBufferPool.Get()
	defer pool.CopyBufferPool.Put(buf)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.CopyBuffer(entry, src, buf)
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err != nil {
		zw.Close()
		return 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}
	return counting.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Open 打开已发布的归档用于下载。
// 归档还不存在时返回 ErrArchiveNotReady, 调用方据此回 404。
func (s *Store) Open(archiveDirID, workDirID string) (*os.File, os.FileInfo, error) {
	if !ValidRef(archiveDirID) || !ValidRef(workDirID) {
		return nil, nil, types.NewError(types.ErrInvalidPath, "invalid archive reference").
			WithHTTPStatus(http.StatusNotFound)
	}

	f, err := os.Open(s.ArchivePath(archiveDirID, workDirID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, types.NewError(types.ErrArchiveNotReady, "archive not yet available").
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, nil, types.NewError(types.ErrStorage, "open archive").WithCause(err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, types.NewError(types.ErrStorage, "stat archive").WithCause(err)
	}
	return f, fi, nil
}

// Published 报告归档是否已经发布
func (s *Store) Published(archiveDirID, workDirID string) bool {
	if !ValidRef(archiveDirID) || !ValidRef(workDirID) {
		return false
	}
	_, err := os.Stat(s.ArchivePath(archiveDirID, workDirID))
	return err == nil
}

// RemoveWorkDir 删除某个工作目录及其内容
func (s *Store) RemoveWorkDir(workDirID string) error {
	if !ValidRef(workDirID) {
		return types.NewError(types.ErrInvalidPath, fmt.Sprintf("invalid work directory id %q", workDirID))
	}
	return os.RemoveAll(s.WorkDir(workDirID))
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep 清理两棵目录树中超过保留期的条目
func (s *Store) sweep(now time.Time) {
	cutoff := now.Add(-s.retentionTTL)
	removed := 0

	for _, root := range []string{s.workRoot, s.archiveRoot} {
		entries, err := os.ReadDir(root)
		if err != nil {
			s.logger.Warn("清理时读取目录失败", zap.String("root", root), zap.Error(err))
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				s.logger.Warn("清理条目失败", zap.String("entry", e.Name()), zap.Error(err))
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("🧹 过期产物清理完成", zap.Int("removed", removed))
	}
}
