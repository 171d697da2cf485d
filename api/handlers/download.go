package handlers

import (
	"net/http"
	"strings"

	"github.com/forgedev/codeforge/archive"
	"github.com/forgedev/codeforge/internal/metrics"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 压缩包下载接口 Handler
// =============================================================================

// 404 重试文案，保持与既有客户端的契约一致
const notReadyMessage = "Code generation in progress or failed. Zip file not yet available. Please wait and retry."

// 410 终止文案，任务永久失败后轮询客户端据此停止
const jobFailedMessage = "Code generation failed permanently. The zip file will not become available."

// DownloadHandler 压缩包下载处理器
type DownloadHandler struct {
	archives  *archive.Store
	store     jobs.Store
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewDownloadHandler 创建压缩包下载处理器
func NewDownloadHandler(archives *archive.Store, store jobs.Store, collector *metrics.Collector, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		archives:  archives,
		store:     store,
		collector: collector,
		logger:    logger,
	}
}

// HandleDownloadZip 处理压缩包下载请求
// @Summary 下载生成的代码压缩包
// @Description 压缩包就绪时流式返回 zip，未就绪返回 404，任务永久失败返回 410
// @Tags 代码生成
// @Produce application/zip
// @Param archiveId path string true "归档目录标识"
// @Param workId path string true "工作目录标识"
// @Success 200 {file} binary "zip 压缩包"
// @Failure 401 {object} Response "认证失败"
// @Failure 404 {object} Response "压缩包尚未就绪"
// @Failure 410 {object} Response "任务永久失败"
// @Security ApiKeyAuth
// @Router /download-zip/{archiveId}/{workId} [get]
func (h *DownloadHandler) HandleDownloadZip(w http.ResponseWriter, r *http.Request) {
	archiveID, workID, ok := extractArchiveRef(r)
	if !ok {
		h.recordDownload("invalid")
		WriteError(w, types.NewError(types.ErrInvalidPath, notReadyMessage).
			WithHTTPStatus(http.StatusNotFound), h.logger)
		return
	}

	f, fi, err := h.archives.Open(archiveID, workID)
	if err != nil {
		h.handleArchiveMiss(w, r, archiveID, err)
		return
	}
	defer f.Close()

	h.logger.Info("archive downloaded",
		zap.String("archive_id", archiveID),
		zap.String("work_id", workID),
		zap.Int64("size_bytes", fi.Size()),
	)
	h.recordDownload("success")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename=`+archive.ArchiveFileName(workID))
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// handleArchiveMiss 区分 404 未就绪、410 永久失败与 500 存储错误
func (h *DownloadHandler) handleArchiveMiss(w http.ResponseWriter, r *http.Request, archiveID string, err error) {
	switch types.GetErrorCode(err) {
	case types.ErrArchiveNotReady, types.ErrInvalidPath:
		// 任务记录说失败时归档永远不会出现，返回 410 让客户端停止轮询
		job, lookupErr := h.store.GetByArchiveRef(r.Context(), archiveID)
		if lookupErr == nil && job.Status == jobs.StatusFailed {
			h.recordDownload("failed")
			WriteError(w, types.NewError(types.ErrJobFailed, jobFailedMessage).
				WithRetryable(false), h.logger)
			return
		}
		if lookupErr != nil && types.GetErrorCode(lookupErr) != types.ErrJobNotFound {
			h.logger.Warn("job record lookup failed during download",
				zap.String("archive_id", archiveID),
				zap.Error(lookupErr),
			)
		}

		h.recordDownload("not_ready")
		WriteError(w, types.NewError(types.ErrArchiveNotReady, notReadyMessage).
			WithHTTPStatus(http.StatusNotFound).
			WithRetryable(true), h.logger)
		return
	}

	h.recordDownload("error")
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrStorage, "open archive").WithCause(err), h.logger)
}

func (h *DownloadHandler) recordDownload(outcome string) {
	if h.collector != nil {
		h.collector.RecordArchiveDownload(outcome)
	}
}

// extractArchiveRef 从路径提取归档目录与工作目录标识。
// 优先使用 Go 1.22+ PathValue，回退到手动解析。
func extractArchiveRef(r *http.Request) (archiveID, workID string, ok bool) {
	archiveID = r.PathValue("archiveId")
	workID = r.PathValue("workId")
	if archiveID != "" && workID != "" {
		return archiveID, workID, true
	}

	rest := strings.TrimPrefix(r.URL.Path, "/download-zip/")
	if rest == r.URL.Path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
