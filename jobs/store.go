package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/forgedev/codeforge/types"
)

// Store 定义任务记录的持久化接口。实现必须可被多个工作协程并发调用。
type Store interface {
	// Create 插入一条新记录，ref 或 archive_ref 冲突时返回错误
	Create(ctx context.Context, job *Job) error

	// GetByRef 按工作目录 id 查询，不存在时返回 JOB_NOT_FOUND
	GetByRef(ctx context.Context, ref string) (*Job, error)

	// GetByArchiveRef 按归档目录 id 查询，不存在时返回 JOB_NOT_FOUND
	GetByArchiveRef(ctx context.Context, archiveRef string) (*Job, error)

	// Update 整体保存一条已存在的记录
	Update(ctx context.Context, job *Job) error

	// ListRecent 按创建时间倒序返回最近的记录
	ListRecent(ctx context.Context, limit int) ([]*Job, error)

	// Close 释放底层连接
	Close() error
}

// defaultListLimit 未指定 limit 时 ListRecent 返回的最大条数。
const defaultListLimit = 50

// GormStore 基于 GORM 的任务存储，支持 sqlite、mysql、postgres。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore 创建 GORM 任务存储并确保表结构存在。
// 生产环境的版本化变更走迁移工具，AutoMigrate 只补齐缺失列。
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store requires a database handle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "job_store")),
	}, nil
}

// Create 插入一条新任务记录。
func (s *GormStore) Create(ctx context.Context, job *Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return types.NewError(types.ErrStorage, "create job record").WithCause(err)
	}
	return nil
}

// GetByRef 按工作目录 id 查询任务记录。
func (s *GormStore) GetByRef(ctx context.Context, ref string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("ref = ?", ref).First(&job).Error
	if err != nil {
		return nil, s.wrapLookup(err, ref)
	}
	return &job, nil
}

// GetByArchiveRef 按归档目录 id 查询任务记录。
func (s *GormStore) GetByArchiveRef(ctx context.Context, archiveRef string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("archive_ref = ?", archiveRef).First(&job).Error
	if err != nil {
		return nil, s.wrapLookup(err, archiveRef)
	}
	return &job, nil
}

// Update 整体保存一条已存在的记录。
func (s *GormStore) Update(ctx context.Context, job *Job) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return types.NewError(types.ErrStorage, "update job record").WithCause(err)
	}
	return nil
}

// ListRecent 按创建时间倒序返回最近的任务记录。
func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var out []*Job
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list job records").WithCause(err)
	}
	return out, nil
}

// Close 关闭底层数据库连接。
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) wrapLookup(err error, ref string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewError(types.ErrJobNotFound, fmt.Sprintf("job %s not found", ref)).
			WithHTTPStatus(http.StatusNotFound)
	}
	return types.NewError(types.ErrStorage, "load job record").WithCause(err)
}
