package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgedev/codeforge/api"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// getJob 以路径参数方式调用 HandleGetJob。
func getJob(t *testing.T, h *JobsHandler, jobID string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.SetPathValue("id", jobID)
	w := httptest.NewRecorder()
	h.HandleGetJob(w, req)
	return w
}

// listJobs 调用 HandleListJobs，limit 为空时不带查询参数。
func listJobs(t *testing.T, h *JobsHandler, limit string) *httptest.ResponseRecorder {
	t.Helper()

	target := "/api/v1/admin/jobs"
	if limit != "" {
		target += "?limit=" + limit
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.HandleListJobs(w, req)
	return w
}

// decodeJobStatus 解出统一响应 data 段中的任务状态。
func decodeJobStatus(t *testing.T, w *httptest.ResponseRecorder) api.JobStatus {
	t.Helper()

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	var status api.JobStatus
	decodeData(t, resp, &status)
	return status
}

// newEventsServer 把事件端点挂到真实 HTTP 服务器上，WebSocket 握手需要它。
func newEventsServer(t *testing.T, h *JobsHandler) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.HandleJobEvents)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func jobEventsURL(srv *httptest.Server, jobID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + jobID + "/events"
}

// readJobEvent 读取一帧事件并解码。
func readJobEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) api.JobEvent {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var evt api.JobEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

// =============================================================================
// 🎯 状态查询测试
// =============================================================================

func TestJobsHandler_HandleGetJob(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())

	ref, err := env.service.Submit(context.Background(), []string{"billing service design"})
	require.NoError(t, err)
	waitForJobStatus(t, env.store, ref.WorkID, jobs.StatusSucceeded)

	w := getJob(t, h, ref.WorkID)
	require.Equal(t, http.StatusOK, w.Code)

	status := decodeJobStatus(t, w)
	assert.Equal(t, ref.WorkID, status.ID)
	assert.Equal(t, ref.ArchiveID, status.ArchiveID)
	assert.Equal(t, string(jobs.StatusSucceeded), status.Status)
	assert.Equal(t, 1, status.Items)
	assert.Empty(t, status.Error)
	assert.Equal(t, DownloadPath(ref), status.ZipDownloadURL)
	assert.Positive(t, status.ArchiveSize)
	require.NotNil(t, status.FinishedAt)
	assert.False(t, status.FinishedAt.Before(status.CreatedAt))
}

func TestJobsHandler_GetJobNotFound(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())

	w := getJob(t, h, jobs.NewRef().WorkID)

	require.Equal(t, http.StatusNotFound, w.Code)
	errInfo := decodeErrorResponse(t, w)
	assert.Equal(t, string(types.ErrJobNotFound), errInfo.Code)
}

func TestJobsHandler_GetJobMissingID(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/", nil)
	w := httptest.NewRecorder()
	h.HandleGetJob(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	errInfo := decodeErrorResponse(t, w)
	assert.Equal(t, string(types.ErrInvalidRequest), errInfo.Code)
}

// =============================================================================
// 🎯 任务列表测试
// =============================================================================

func TestJobsHandler_HandleListJobs(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 2, QueueSize: 8})
	h := NewJobsHandler(env.service, zap.NewNop())

	texts := []string{"auth design", "payment design", "report design"}
	refs := make([]jobs.Ref, 0, len(texts))
	for _, text := range texts {
		ref, err := env.service.Submit(context.Background(), []string{text})
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	for _, ref := range refs {
		waitForJobStatus(t, env.store, ref.WorkID, jobs.StatusSucceeded)
	}

	w := listJobs(t, h, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	var list api.JobListResponse
	decodeData(t, resp, &list)

	require.Equal(t, len(refs), list.Count)
	require.Len(t, list.Jobs, len(refs))

	// 创建时间倒序：最后提交的排最前
	for i, job := range list.Jobs {
		want := refs[len(refs)-1-i]
		assert.Equal(t, want.WorkID, job.ID)
		assert.Equal(t, want.ArchiveID, job.ArchiveID)
		assert.Equal(t, string(jobs.StatusSucceeded), job.Status)
	}
}

func TestJobsHandler_ListJobsLimit(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 2, QueueSize: 8})
	h := NewJobsHandler(env.service, zap.NewNop())

	var last jobs.Ref
	for _, text := range []string{"first design", "second design", "third design"} {
		ref, err := env.service.Submit(context.Background(), []string{text})
		require.NoError(t, err)
		waitForJobStatus(t, env.store, ref.WorkID, jobs.StatusSucceeded)
		last = ref
	}

	w := listJobs(t, h, "2")
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	var list api.JobListResponse
	decodeData(t, resp, &list)

	require.Equal(t, 2, list.Count)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, last.WorkID, list.Jobs[0].ID)
}

func TestJobsHandler_ListJobsInvalidLimit(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())

	w := listJobs(t, h, "abc")

	require.Equal(t, http.StatusBadRequest, w.Code)
	errInfo := decodeErrorResponse(t, w)
	assert.Equal(t, string(types.ErrInvalidRequest), errInfo.Code)
}

// =============================================================================
// 🎯 事件流测试
// =============================================================================

func TestJobsHandler_HandleJobEvents(t *testing.T) {
	gen := &mockGenerator{block: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(gen.block)
		}
	}()

	env := newHandlerEnv(t, gen, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())
	srv := newEventsServer(t, h)

	ref, err := env.service.Submit(context.Background(), []string{"streaming design"})
	require.NoError(t, err)
	waitForCondition(t, "generator started", func() bool { return gen.startedCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, jobEventsURL(srv, ref.WorkID), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// 连接后的第一帧是当前状态快照
	snapshot := readJobEvent(t, ctx, conn)
	assert.Equal(t, ref.WorkID, snapshot.ID)
	assert.Contains(t,
		[]string{string(jobs.StatusPending), string(jobs.StatusRunning)},
		snapshot.Status)

	released = true
	close(gen.block)

	evt := snapshot
	for evt.Status != string(jobs.StatusSucceeded) {
		evt = readJobEvent(t, ctx, conn)
		assert.Equal(t, ref.WorkID, evt.ID)
	}
	assert.Equal(t, 1, evt.Items)
	assert.Empty(t, evt.Error)

	// 终态帧之后服务端正常关闭连接
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestJobsHandler_JobEventsTerminalSnapshot(t *testing.T) {
	gen := &mockGenerator{err: errors.New("provider down")}
	env := newHandlerEnv(t, gen, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())
	srv := newEventsServer(t, h)

	ref, err := env.service.Submit(context.Background(), []string{"doomed design"})
	require.NoError(t, err)
	waitForJobStatus(t, env.store, ref.WorkID, jobs.StatusFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, jobEventsURL(srv, ref.WorkID), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// 已终态的任务只收到一帧快照，随后连接正常关闭
	snapshot := readJobEvent(t, ctx, conn)
	assert.Equal(t, ref.WorkID, snapshot.ID)
	assert.Equal(t, string(jobs.StatusFailed), snapshot.Status)
	assert.NotEmpty(t, snapshot.Error)

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestJobsHandler_JobEventsUnknownJob(t *testing.T) {
	env := newHandlerEnv(t, &mockGenerator{}, jobs.ServiceConfig{Workers: 1, QueueSize: 4})
	h := NewJobsHandler(env.service, zap.NewNop())
	srv := newEventsServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, jobEventsURL(srv, jobs.NewRef().WorkID), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// 🔧 辅助函数测试
// =============================================================================

func TestExtractJobID(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		pathValue string
		want      string
	}{
		{
			name:      "path value wins",
			path:      "/api/v1/jobs/ignored",
			pathValue: "job-1",
			want:      "job-1",
		},
		{
			name: "plain job path",
			path: "/api/v1/jobs/job-2",
			want: "job-2",
		},
		{
			name: "events suffix stripped",
			path: "/api/v1/jobs/job-3/events",
			want: "job-3",
		},
		{
			name: "missing id",
			path: "/api/v1/jobs/",
			want: "",
		},
		{
			name: "unrelated path",
			path: "/health",
			want: "",
		},
		{
			name: "nested segments rejected",
			path: "/api/v1/jobs/job-4/extra/segments",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.pathValue != "" {
				req.SetPathValue("id", tt.pathValue)
			}
			assert.Equal(t, tt.want, extractJobID(req))
		})
	}
}
