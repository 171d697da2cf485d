// config 包的 HTTP 配置管理 API。
//
// 提供配置查询、热重载触发与变更历史查询能力。
// 认证由外层路由的 JWT 中间件处理。
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// --- API 类型定义 ---

// ConfigAPIHandler 处理配置 API 请求
type ConfigAPIHandler struct {
	reloader      *Reloader
	allowedOrigin string
}

// configResponse 是配置 API 的响应信封
type configResponse struct {
	Success   bool         `json:"success"`
	Data      *configData  `json:"data,omitempty"`
	Error     *configError `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// configError 配置 API 的错误结构
type configError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// configData 是配置 API 响应中 Data 字段的内部结构
type configData struct {
	// 消息提供附加信息
	Message string `json:"message,omitempty"`

	// 当前配置（已脱敏）
	Config map[string]any `json:"config,omitempty"`

	// 配置版本号
	Version int `json:"version,omitempty"`

	// 当前配置的加载时间
	LoadedAt time.Time `json:"loaded_at,omitempty"`

	// 变更历史
	Changes []ConfigChange `json:"changes,omitempty"`
}

// --- API 处理器实现 ---

// NewConfigAPIHandler 创建一个新的配置 API 处理程序。
// allowedOrigin 指定 CORS 允许的来源，为空时默认不设置 Access-Control-Allow-Origin。
func NewConfigAPIHandler(reloader *Reloader, allowedOrigin ...string) *ConfigAPIHandler {
	origin := ""
	if len(allowedOrigin) > 0 && allowedOrigin[0] != "" {
		origin = allowedOrigin[0]
	}
	return &ConfigAPIHandler{
		reloader:      reloader,
		allowedOrigin: origin,
	}
}

// RegisterRoutes 注册配置 API 路由
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/config", h.HandleConfig)
	mux.HandleFunc("/api/v1/admin/config/reload", h.HandleReload)
	mux.HandleFunc("/api/v1/admin/config/changes", h.HandleChanges)
}

// HandleConfig 返回当前配置（已脱敏）
// @Summary 获取当前配置
// @Description 返回当前配置并编辑敏感字段
// @Tags config
// @Produce json
// @Success 200 {object} configResponse "当前配置"
// @Router /api/v1/admin/config [get]
func (h *ConfigAPIHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.handleCORS(w)
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}

	writeConfigJSON(w, http.StatusOK, configResponse{
		Success: true,
		Data: &configData{
			Message:  "Configuration retrieved successfully",
			Config:   h.reloader.Sanitized(),
			Version:  h.reloader.Version(),
			LoadedAt: h.reloader.LoadedAt(),
		},
		Timestamp: time.Now(),
	})
}

// HandleReload 处理 POST 请求以从文件重新加载配置
// @Summary 从文件热重载配置
// @Description 从配置文件重新加载并应用最新配置
// @Tags config
// @Produce json
// @Success 200 {object} configResponse "配置已重载"
// @Failure 500 {object} configResponse "重载失败"
// @Router /api/v1/admin/config/reload [post]
func (h *ConfigAPIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.handleCORS(w)
		return
	}
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}

	if _, err := h.reloader.Reload(); err != nil {
		writeConfigJSON(w, http.StatusInternalServerError, configResponse{
			Success: false,
			Error: &configError{
				Code:    "INTERNAL_ERROR",
				Message: fmt.Sprintf("Failed to reload configuration: %v", err),
			},
			Timestamp: time.Now(),
		})
		return
	}

	writeConfigJSON(w, http.StatusOK, configResponse{
		Success: true,
		Data: &configData{
			Message:  "Configuration reloaded successfully",
			Config:   h.reloader.Sanitized(),
			Version:  h.reloader.Version(),
			LoadedAt: h.reloader.LoadedAt(),
		},
		Timestamp: time.Now(),
	})
}

// HandleChanges 返回配置更改历史记录
// @Summary 获取配置变更历史
// @Description 返回最近的配置变更记录
// @Tags config
// @Produce json
// @Param limit query int false "返回的最大变更数量" default(50)
// @Success 200 {object} configResponse "配置变更"
// @Router /api/v1/admin/config/changes [get]
func (h *ConfigAPIHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.handleCORS(w)
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}

	// 解析 limit 参数
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	changes := h.reloader.ChangeLog(limit)

	writeConfigJSON(w, http.StatusOK, configResponse{
		Success: true,
		Data: &configData{
			Message: fmt.Sprintf("Retrieved %d configuration changes", len(changes)),
			Changes: changes,
		},
		Timestamp: time.Now(),
	})
}

// --- 辅助方法 ---

// writeConfigJSON 先序列化再写出，序列化失败时返回固定的错误体
func writeConfigJSON(w http.ResponseWriter, status int, data configResponse) {
	buf, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`)) //nolint:errcheck // Write 错误可安全忽略（客户端断开）
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf) //nolint:errcheck // Write 错误可安全忽略（客户端断开）
}

// handleCORS 处理 CORS 预检请求
func (h *ConfigAPIHandler) handleCORS(w http.ResponseWriter) {
	if h.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// methodNotAllowed 返回 405 方法不允许响应
func (h *ConfigAPIHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeConfigJSON(w, http.StatusMethodNotAllowed, configResponse{
		Success: false,
		Error: &configError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: fmt.Sprintf("Method %s not allowed", r.Method),
		},
		Timestamp: time.Now(),
	})
}
