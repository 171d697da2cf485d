package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/forgedev/codeforge/api"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 任务状态接口 Handler
// =============================================================================

// JobsHandler 任务状态查询与事件流处理器
type JobsHandler struct {
	service *jobs.Service
	logger  *zap.Logger
}

// NewJobsHandler 创建任务状态处理器
func NewJobsHandler(service *jobs.Service, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		service: service,
		logger:  logger,
	}
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleGetJob 查询单个任务状态
// @Summary 查询任务状态
// @Description 按任务 ID（工作目录标识）返回任务记录
// @Tags 任务
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=api.JobStatus} "任务状态"
// @Failure 404 {object} Response "任务不存在"
// @Security ApiKeyAuth
// @Router /api/v1/jobs/{id} [get]
func (h *JobsHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r)
	if jobID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "job ID is required", h.logger)
		return
	}

	job, err := h.service.Job(r.Context(), jobID)
	if err != nil {
		h.handleJobError(w, err)
		return
	}

	WriteSuccess(w, toJobStatus(job))
}

// HandleListJobs 列出近期任务（管理端）
// @Summary 近期任务列表
// @Description 按创建时间倒序返回近期任务记录
// @Tags 管理
// @Produce json
// @Param limit query int false "返回条数上限"
// @Success 200 {object} Response{data=api.JobListResponse} "任务列表"
// @Failure 400 {object} Response "无效请求"
// @Security BearerAuth
// @Router /api/v1/admin/jobs [get]
func (h *JobsHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be an integer", h.logger)
			return
		}
		limit = parsed
	}

	records, err := h.service.RecentJobs(r.Context(), limit)
	if err != nil {
		h.handleJobError(w, err)
		return
	}

	list := api.JobListResponse{
		Jobs:  make([]api.JobStatus, 0, len(records)),
		Count: len(records),
	}
	for _, job := range records {
		list.Jobs = append(list.Jobs, toJobStatus(job))
	}

	WriteSuccess(w, list)
}

// HandleJobEvents 推送任务状态变更事件
// @Summary 任务事件流
// @Description 升级为 WebSocket 连接，推送任务状态变更直至终态
// @Tags 任务
// @Param id path string true "任务 ID"
// @Success 101 {string} string "协议切换"
// @Failure 404 {object} Response "任务不存在"
// @Security ApiKeyAuth
// @Router /api/v1/jobs/{id}/events [get]
func (h *JobsHandler) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r)
	if jobID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "job ID is required", h.logger)
		return
	}

	// 升级前确认任务存在，未知 ID 返回普通 404
	job, err := h.service.Job(r.Context(), jobID)
	if err != nil {
		h.handleJobError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// 只写连接：CloseRead 负责消费控制帧，客户端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	// 先订阅再发快照，状态变更不会落在两者之间的空隙里
	sub := h.service.Hub().Subscribe(job.Ref)
	defer sub.Close()

	if err := writeJobEvent(ctx, conn, api.JobEvent{
		ID:         job.Ref,
		Status:     string(job.Status),
		Items:      job.Items,
		Error:      job.Error,
		OccurredAt: job.UpdatedAt,
	}); err != nil {
		return
	}
	if job.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "job finished")
		return
	}

	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			// 客户端断开或服务关停
			return
		}

		if err := writeJobEvent(ctx, conn, api.JobEvent{
			ID:         evt.Ref,
			Status:     string(evt.Status),
			Items:      evt.Items,
			Error:      evt.Error,
			OccurredAt: evt.OccurredAt,
		}); err != nil {
			return
		}

		if evt.Status.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "job finished")
			return
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// writeJobEvent 将事件序列化为 JSON 并通过 WebSocket 发送
func writeJobEvent(ctx context.Context, conn *websocket.Conn, evt api.JobEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// toJobStatus 将任务记录转换为 API 状态视图
func toJobStatus(job *jobs.Job) api.JobStatus {
	return api.JobStatus{
		ID:          job.Ref,
		ArchiveID:   job.ArchiveRef,
		Status:      string(job.Status),
		Items:       job.Items,
		Error:       job.Error,
		ArchiveSize: job.ArchiveSize,
		ZipDownloadURL: DownloadPath(jobs.Ref{
			WorkID:    job.Ref,
			ArchiveID: job.ArchiveRef,
		}),
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// handleJobError 处理任务查询错误
func (h *JobsHandler) handleJobError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	internalErr := types.NewError(types.ErrInternalError, "job lookup failed").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}

// extractJobID 从 URL 路径提取任务 ID。
// 支持 /api/v1/jobs/{id} 与 /api/v1/jobs/{id}/events 两种形式。
func extractJobID(r *http.Request) string {
	// 优先使用 Go 1.22+ PathValue
	if id := r.PathValue("id"); id != "" {
		return id
	}
	// 回退：从路径手动解析
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if path == r.URL.Path {
		return ""
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), "/events")
	path = strings.Trim(path, "/")
	if path == "" || strings.Contains(path, "/") {
		return ""
	}
	return path
}
