package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/forgedev/codeforge/api"
	"github.com/forgedev/codeforge/internal/pool"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 代码生成接口 Handler
// =============================================================================

// acceptedMessage 202 受理文案，保持与既有客户端的契约一致
const acceptedMessage = "Code generation started. Please use the provided URL to download the zip file."

// GenerateHandler 代码生成提交处理器
type GenerateHandler struct {
	service *jobs.Service
	logger  *zap.Logger
}

// NewGenerateHandler 创建代码生成处理器
func NewGenerateHandler(service *jobs.Service, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGenerateCode 处理代码生成提交请求
// @Summary 提交代码生成任务
// @Description 接收技术设计文档文本，异步生成代码并返回压缩包下载地址
// @Tags 代码生成
// @Accept json
// @Produce json
// @Param request body api.GenerateCodeRequest true "代码生成请求"
// @Success 202 {object} api.GenerateCodeResponse "任务已受理"
// @Failure 400 {object} Response "无效请求"
// @Failure 401 {object} Response "认证失败"
// @Failure 503 {object} Response "队列已满"
// @Security ApiKeyAuth
// @Router /generate-code [post]
func (h *GenerateHandler) HandleGenerateCode(w http.ResponseWriter, r *http.Request) {
	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.GenerateCodeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求，校验失败时同步返回 400，不产生任何任务
	if err := h.validateGenerateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 提交任务，队列满时同步拒绝
	ref, err := h.service.Submit(r.Context(), req.TDDText)
	if err != nil {
		h.handleSubmitError(w, err)
		return
	}

	h.logger.Info("code generation accepted",
		zap.String("work_id", ref.WorkID),
		zap.String("archive_id", ref.ArchiveID),
		zap.Int("items", len(req.TDDText)),
	)

	// 202 响应保持裸响应体，与既有客户端协议兼容
	WriteJSON(w, http.StatusAccepted, api.GenerateCodeResponse{
		Message:        acceptedMessage,
		ZipDownloadURL: DownloadPath(ref),
	})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// DownloadPath 拼出压缩包下载路径，归档目录在前、工作目录在后
func DownloadPath(ref jobs.Ref) string {
	return "/download-zip/" + ref.ArchiveID + "/" + ref.WorkID
}

// validateGenerateRequest 验证代码生成请求
func (h *GenerateHandler) validateGenerateRequest(req *api.GenerateCodeRequest) *types.Error {
	if len(req.TDDText) == 0 {
		return types.NewError(types.ErrInvalidRequest, "tdd_text must be a non-empty array")
	}

	for _, text := range req.TDDText {
		if strings.TrimSpace(text) != "" {
			return nil
		}
	}

	return types.NewError(types.ErrInvalidRequest, "tdd_text must contain at least one non-empty entry")
}

// handleSubmitError 处理任务提交错误
func (h *GenerateHandler) handleSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrQueueFull):
		h.logger.Warn("job queue saturated, submission rejected")
		WriteError(w, types.NewError(types.ErrQueueFull, "job queue is full, please retry later").
			WithCause(err).
			WithRetryable(true), h.logger)
		return
	case errors.Is(err, pool.ErrPoolClosed):
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "service is shutting down").
			WithCause(err), h.logger)
		return
	}

	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	// 未知错误，包装为内部错误
	internalErr := types.NewError(types.ErrInternalError, "job submission failed").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}
