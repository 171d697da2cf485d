package jobs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/forgedev/codeforge/archive"
	"github.com/forgedev/codeforge/generation"
	"github.com/forgedev/codeforge/internal/ctxkeys"
	"github.com/forgedev/codeforge/internal/metrics"
	"github.com/forgedev/codeforge/internal/pool"
	"github.com/forgedev/codeforge/types"
)

// ServiceConfig 控制后台执行的并发与超时。
type ServiceConfig struct {
	// Workers 并发执行任务的工作协程上限
	Workers int

	// QueueSize 等待执行的任务队列容量
	QueueSize int

	// JobTimeout 单个任务内生成调用的总时限，0 表示不限制
	JobTimeout time.Duration
}

// Service 调度代码生成任务。提交路径全程同步且有界：
// 铸造标识、落库 pending、投递工作池，队列满时立刻拒绝。
// 执行路径在工作协程里逐条处理设计文本并发布归档。
type Service struct {
	store     Store
	generator generation.Generator
	archives  *archive.Store
	hub       *Hub
	pool      *pool.WorkerPool
	collector *metrics.Collector
	logger    *zap.Logger

	jobTimeout time.Duration

	// baseCtx 贯穿任务的整个后台生命周期，与提交请求的 ctx 无关
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewService 创建任务调度服务。
func NewService(store Store, generator generation.Generator, archives *archive.Store, hub *Hub, collector *metrics.Collector, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "job_service"))

	poolCfg := pool.DefaultWorkerPoolConfig()
	if cfg.Workers > 0 {
		poolCfg.MaxWorkers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		poolCfg.QueueSize = cfg.QueueSize
	}
	poolCfg.PanicHandler = func(v any) {
		logger.Error("任务协程 panic 已恢复", zap.Any("panic", v))
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Service{
		store:      store,
		generator:  generator,
		archives:   archives,
		hub:        hub,
		pool:       pool.NewWorkerPool(poolCfg),
		collector:  collector,
		logger:     logger,
		jobTimeout: cfg.JobTimeout,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// Submit 接收一次生成请求：铸造标识对、持久化 pending 记录、
// 投递后台执行。队列饱和时同步返回 pool.ErrQueueFull，
// 此时记录被改写为 failed，不会有永远 pending 的孤儿。
func (s *Service) Submit(ctx context.Context, texts []string) (Ref, error) {
	if len(texts) == 0 {
		return Ref{}, types.NewError(types.ErrInvalidRequest, "no design texts provided").
			WithHTTPStatus(http.StatusBadRequest)
	}

	ref := NewRef()
	now := time.Now().UTC()
	job := &Job{
		Ref:        ref.WorkID,
		ArchiveRef: ref.ArchiveID,
		Status:     StatusPending,
		Items:      len(texts),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.recordSubmission("store_error")
		return Ref{}, err
	}

	task := func(taskCtx context.Context) error {
		s.run(taskCtx, ref, texts)
		return nil
	}
	if err := s.pool.Submit(s.baseCtx, task); err != nil {
		s.rejectJob(ctx, job, err)
		s.recordSubmission("rejected")
		s.updateQueueDepth()
		return Ref{}, err
	}

	s.recordSubmission("accepted")
	s.updateQueueDepth()
	s.logger.Info("任务已入队",
		zap.String("ref", ref.WorkID),
		zap.String("archive_ref", ref.ArchiveID),
		zap.Int("items", len(texts)))
	return ref, nil
}

// Job 按工作目录 id 返回任务记录。
func (s *Service) Job(ctx context.Context, ref string) (*Job, error) {
	return s.store.GetByRef(ctx, ref)
}

// RecentJobs 返回最近的任务记录，供管理端点使用。
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.store.ListRecent(ctx, limit)
}

// Hub 返回状态事件中枢。
func (s *Service) Hub() *Hub {
	return s.hub
}

// PoolStats 返回工作池运行指标。
func (s *Service) PoolStats() pool.WorkerPoolStats {
	return s.pool.Stats()
}

// Close 停止接收新任务，等待在途任务完成后释放资源。
func (s *Service) Close() {
	s.pool.Close()
	s.cancel()
	if s.hub != nil {
		s.hub.Close()
	}
}

// run 在工作协程中执行一个任务：逐条生成、写入工作目录、
// 全部条目处理完后发布归档并落终态。
func (s *Service) run(ctx context.Context, ref Ref, texts []string) {
	start := time.Now()
	ctx = ctxkeys.WithJobRef(ctx, ref.WorkID)
	logger := s.logger.With(zap.String("ref", ref.WorkID))
	defer s.updateQueueDepth()

	job, err := s.store.GetByRef(ctx, ref.WorkID)
	if err != nil {
		// 状态回写尽力而为，生成本身照常进行
		logger.Error("读取任务记录失败", zap.Error(err))
		job = nil
	}
	s.transition(ctx, job, func(j *Job, now time.Time) {
		j.Status = StatusRunning
		j.StartedAt = &now
	})

	// 生成调用受任务时限约束，写盘与归档不受
	genCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	succeeded := 0
	var firstErr error
	for i, text := range texts {
		if err := s.runItem(genCtx, ref, i, text, len(texts)); err != nil {
			logger.Warn("条目生成失败",
				zap.Int("item", i+1),
				zap.Error(err))
			s.recordItem("failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.recordItem("succeeded")
		succeeded++
	}

	if succeeded == 0 {
		msg := "all items failed"
		if firstErr != nil {
			msg = firstErr.Error()
		}
		s.finish(ctx, job, StatusFailed, msg, "", 0)
		s.recordExecution("failed", time.Since(start))
		logger.Warn("任务失败，未发布归档",
			zap.Int("items", len(texts)),
			zap.String("error", msg))
		return
	}

	if err := s.archives.Compress(ctx, ref.ArchiveID, ref.WorkID); err != nil {
		s.finish(ctx, job, StatusFailed, fmt.Sprintf("archive publish failed: %v", err), "", 0)
		s.recordExecution("failed", time.Since(start))
		logger.Error("归档发布失败", zap.Error(err))
		return
	}

	archivePath := s.archives.ArchivePath(ref.ArchiveID, ref.WorkID)
	var archiveSize int64
	if f, fi, err := s.archives.Open(ref.ArchiveID, ref.WorkID); err == nil {
		archiveSize = fi.Size()
		_ = f.Close()
	}

	s.finish(ctx, job, StatusSucceeded, "", archivePath, archiveSize)
	s.recordExecution("succeeded", time.Since(start))
	logger.Info("✅ 任务完成",
		zap.Int("items", len(texts)),
		zap.Int("succeeded", succeeded),
		zap.Int64("archive_size", archiveSize),
		zap.Duration("duration", time.Since(start)))
}

// runItem 处理一条设计文本：生成文件集并写入工作目录。
// 一次提交包含多条文本时各条落入 item_<N>/ 子目录。
func (s *Service) runItem(ctx context.Context, ref Ref, index int, text string, total int) error {
	fileSet, err := s.generator.GenerateFiles(ctx, text)
	if err != nil {
		return err
	}
	if total > 1 {
		fileSet.Prefix(fmt.Sprintf("item_%d", index+1))
	}
	if _, err := s.archives.WriteFileSet(ref.WorkID, fileSet); err != nil {
		return err
	}
	return nil
}

// rejectJob 把被工作池拒绝的记录改写为 failed。
func (s *Service) rejectJob(ctx context.Context, job *Job, cause error) {
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Error = fmt.Sprintf("submission rejected: %v", cause)
	job.FinishedAt = &now
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.logger.Error("回写被拒任务记录失败",
			zap.String("ref", job.Ref),
			zap.Error(err))
	}
}

// transition 应用一次状态变更并发布事件。job 为 nil 时跳过。
func (s *Service) transition(ctx context.Context, job *Job, mutate func(*Job, time.Time)) {
	if job == nil {
		return
	}
	now := time.Now().UTC()
	mutate(job, now)
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.logger.Error("更新任务状态失败",
			zap.String("ref", job.Ref),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
	s.publish(job, now)
}

func (s *Service) finish(ctx context.Context, job *Job, status Status, errMsg, archivePath string, archiveSize int64) {
	s.transition(ctx, job, func(j *Job, now time.Time) {
		j.Status = status
		j.Error = errMsg
		j.FinishedAt = &now
		j.ArchivePath = archivePath
		j.ArchiveSize = archiveSize
	})
}

func (s *Service) publish(job *Job, now time.Time) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(Event{
		Ref:        job.Ref,
		Status:     job.Status,
		Items:      job.Items,
		Error:      job.Error,
		OccurredAt: now,
	})
}

func (s *Service) recordSubmission(outcome string) {
	if s.collector != nil {
		s.collector.RecordJobSubmission(outcome)
	}
}

func (s *Service) recordExecution(status string, duration time.Duration) {
	if s.collector != nil {
		s.collector.RecordJobExecution(status, duration)
	}
}

func (s *Service) recordItem(status string) {
	if s.collector != nil {
		s.collector.RecordJobItem(status)
	}
}

func (s *Service) updateQueueDepth() {
	if s.collector != nil {
		s.collector.SetJobQueueDepth(s.pool.QueueDepth())
	}
}
