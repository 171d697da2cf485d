package api

import (
	"time"
)

// =============================================================================
// 代码生成类型
// =============================================================================

// GenerateCodeRequest 表示代码生成提交请求。
// @Description 代码生成请求结构
type GenerateCodeRequest struct {
	// 技术设计文档文本序列，至少包含一个非空元素
	TDDText []string `json:"tdd_text" binding:"required"`
}

// GenerateCodeResponse 表示代码生成受理响应。
// @Description 代码生成受理响应结构
type GenerateCodeResponse struct {
	// 受理提示信息
	Message string `json:"message" example:"Code generation started. Please use the provided URL to download the zip file."`
	// 压缩包下载地址，任务完成前访问返回 404
	ZipDownloadURL string `json:"zip_download_url,omitempty" example:"/download-zip/20260822143501123456-8f3ab2c1/20260822143501123456-04d9e7aa"`
}

// =============================================================================
// 任务状态类型
// =============================================================================

// JobStatus 表示单个任务的状态视图。
// @Description 任务状态结构
type JobStatus struct {
	// 任务 ID（工作目录标识）
	ID string `json:"id" example:"20260822143501123456-04d9e7aa"`
	// 归档目录标识
	ArchiveID string `json:"archive_id" example:"20260822143501123456-8f3ab2c1"`
	// 任务状态（pending、running、succeeded、failed）
	Status string `json:"status" example:"succeeded"`
	// 请求中的条目总数
	Items int `json:"items" example:"1"`
	// 失败原因（仅失败时出现）
	Error string `json:"error,omitempty"`
	// 压缩包字节数（仅成功后出现）
	ArchiveSize int64 `json:"archive_size,omitempty" example:"10240"`
	// 压缩包下载地址
	ZipDownloadURL string `json:"zip_download_url,omitempty" example:"/download-zip/20260822143501123456-8f3ab2c1/20260822143501123456-04d9e7aa"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
	// 更新时间
	UpdatedAt time.Time `json:"updated_at"`
	// 开始执行时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// 结束时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobEvent 表示任务状态变更事件，经 WebSocket 推送。
// @Description 任务状态事件结构
type JobEvent struct {
	// 任务 ID
	ID string `json:"id" example:"20260822143501123456-04d9e7aa"`
	// 变更后的状态
	Status string `json:"status" example:"running"`
	// 已成功的条目数
	Items int `json:"items" example:"0"`
	// 失败原因（仅失败事件出现）
	Error string `json:"error,omitempty"`
	// 事件发生时间
	OccurredAt time.Time `json:"occurred_at"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse 表示错误响应。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"400"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
}

// =============================================================================
// 列出响应类型
// =============================================================================

// JobListResponse 表示近期任务列表。
// @Description 任务列表响应
type JobListResponse struct {
	// 任务清单，按创建时间倒序
	Jobs []JobStatus `json:"jobs"`
	// 清单长度
	Count int `json:"count" example:"2"`
}
