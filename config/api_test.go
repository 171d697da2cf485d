// 配置 API 处理器测试。
package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIHandler(t *testing.T) (*ConfigAPIHandler, *Reloader, string) {
	t.Helper()
	path := writeConfigFile(t, `
server:
  http_port: 8080
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	r := NewReloader(cfg, WithReloadConfigPath(path))
	return NewConfigAPIHandler(r), r, path
}

func decodeConfigResponse(t *testing.T, rec *httptest.ResponseRecorder) configResponse {
	t.Helper()
	var resp configResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConfigAPIHandler_GetConfig(t *testing.T) {
	handler, _, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeConfigResponse(t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.NotNil(t, resp.Data.Config)
	assert.Equal(t, 1, resp.Data.Version)
}

func TestConfigAPIHandler_GetConfig_MethodNotAllowed(t *testing.T) {
	handler, _, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	resp := decodeConfigResponse(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "METHOD_NOT_ALLOWED", resp.Error.Code)
}

func TestConfigAPIHandler_Reload(t *testing.T) {
	handler, reloader, path := newTestAPIHandler(t)

	// 修改配置文件
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
`), 0644))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/config/reload", nil)
	rec := httptest.NewRecorder()
	handler.HandleReload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeConfigResponse(t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2, resp.Data.Version)

	// 重载后的配置生效
	assert.Equal(t, 9090, reloader.Current().Server.HTTPPort)
}

func TestConfigAPIHandler_Reload_Failure(t *testing.T) {
	handler, reloader, path := newTestAPIHandler(t)

	// 写入无法通过校验的配置
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  count: 0
`), 0644))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/config/reload", nil)
	rec := httptest.NewRecorder()
	handler.HandleReload(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeConfigResponse(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)

	// 原配置保持不变
	assert.Equal(t, 8080, reloader.Current().Server.HTTPPort)
}

func TestConfigAPIHandler_Changes(t *testing.T) {
	handler, _, path := newTestAPIHandler(t)

	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
`), 0644))

	reloadReq := httptest.NewRequest(http.MethodPost, "/api/v1/admin/config/reload", nil)
	handler.HandleReload(httptest.NewRecorder(), reloadReq)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/config/changes?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.HandleChanges(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeConfigResponse(t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.NotEmpty(t, resp.Data.Changes)
}

func TestConfigAPIHandler_CORSPreflight(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 8080
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	handler := NewConfigAPIHandler(NewReloader(cfg), "https://console.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
