package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgedev/codeforge/api"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/types"
)

// =============================================================================
// 🧪 GenerateHandler 测试
// =============================================================================

func postGenerateCode(handler *GenerateHandler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/generate-code", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler.HandleGenerateCode(w, r)
	return w
}

// splitDownloadURL 按 /download-zip/<archiveId>/<workId> 形状拆出两个标识。
func splitDownloadURL(t *testing.T, url string) (archiveID, workID string) {
	t.Helper()
	rest := strings.TrimPrefix(url, "/download-zip/")
	require.NotEqual(t, url, rest, "download url must start with /download-zip/")
	parts := strings.Split(rest, "/")
	require.Len(t, parts, 2)
	return parts[0], parts[1]
}

func TestGenerateHandler_HandleGenerateCode(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "single item accepted",
			body:       `{"tdd_text":["design doc A"]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "multiple items accepted",
			body:       `{"tdd_text":["design doc A","design doc B"]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "empty array rejected",
			body:       `{"tdd_text":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing field rejected",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "blank entries rejected",
			body:       `{"tdd_text":["   ",""]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field rejected",
			body:       `{"tdd_text":["design doc A"],"mode":"fast"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed JSON rejected",
			body:       `{"tdd_text":[`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 2, QueueSize: 8})
			handler := NewGenerateHandler(env.service, logger)

			w := postGenerateCode(handler, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusAccepted {
				// 202 为裸响应体，包含受理文案和下载地址
				var resp api.GenerateCodeResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, acceptedMessage, resp.Message)

				archiveID, workID := splitDownloadURL(t, resp.ZipDownloadURL)
				assert.True(t, jobs.ValidID(archiveID))
				assert.True(t, jobs.ValidID(workID))

				// 任务记录在响应返回时已存在
				job, err := env.store.GetByRef(context.Background(), workID)
				require.NoError(t, err)
				assert.Equal(t, archiveID, job.ArchiveRef)
				return
			}

			// 校验失败必须同步发生，不留下任何任务记录
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)

			records, err := env.store.ListRecent(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestGenerateHandler_ContentTypeRequired(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	handler := NewGenerateHandler(env.service, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/generate-code", strings.NewReader(`{"tdd_text":["x"]}`))
	r.Header.Set("Content-Type", "text/plain")
	handler.HandleGenerateCode(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	records, err := env.store.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGenerateHandler_AcceptIsNonBlocking(t *testing.T) {
	gen := &mockGenerator{block: make(chan struct{})}
	env := newHandlerEnv(t, gen, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	handler := NewGenerateHandler(env.service, zap.NewNop())

	released := false
	defer func() {
		if !released {
			close(gen.block)
		}
	}()

	// 生成器仍然阻塞时 202 必须已经返回
	w := postGenerateCode(handler, `{"tdd_text":["slow design"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp api.GenerateCodeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	archiveID, workID := splitDownloadURL(t, resp.ZipDownloadURL)

	job, err := env.store.GetByRef(context.Background(), workID)
	require.NoError(t, err)
	assert.Contains(t, []jobs.Status{jobs.StatusPending, jobs.StatusRunning}, job.Status)
	assert.False(t, env.archives.Published(archiveID, workID))

	close(gen.block)
	released = true
	waitForJobStatus(t, env.store, workID, jobs.StatusSucceeded)
	assert.True(t, env.archives.Published(archiveID, workID))
}

func TestGenerateHandler_QueueSaturationRejects(t *testing.T) {
	gen := &mockGenerator{block: make(chan struct{})}
	env := newHandlerEnv(t, gen, jobs.ServiceConfig{Workers: 1, QueueSize: 1})
	handler := NewGenerateHandler(env.service, zap.NewNop())

	released := false
	defer func() {
		if !released {
			close(gen.block)
		}
	}()

	wA := postGenerateCode(handler, `{"tdd_text":["design A"]}`)
	require.Equal(t, http.StatusAccepted, wA.Code)
	waitForCondition(t, "first job to start", func() bool { return gen.startedCount() == 1 })

	wB := postGenerateCode(handler, `{"tdd_text":["design B"]}`)
	require.Equal(t, http.StatusAccepted, wB.Code)

	// 工作协程被占满、队列占满，第三次提交被同步拒绝
	wC := postGenerateCode(handler, `{"tdd_text":["design C"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, wC.Code)

	var rejected Response
	require.NoError(t, json.NewDecoder(wC.Body).Decode(&rejected))
	assert.False(t, rejected.Success)
	require.NotNil(t, rejected.Error)
	assert.Equal(t, string(types.ErrQueueFull), rejected.Error.Code)
	assert.True(t, rejected.Error.Retryable)

	close(gen.block)
	released = true

	// 被拒提交的记录在 503 返回时已经是 failed，不会永远停在 pending
	records, err := env.store.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	failed := 0
	for _, job := range records {
		if job.Status == jobs.StatusFailed {
			failed++
			assert.Contains(t, job.Error, "queue is full")
			continue
		}
		waitForJobStatus(t, env.store, job.Ref, jobs.StatusSucceeded)
	}
	assert.Equal(t, 1, failed)
}
