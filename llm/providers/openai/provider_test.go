package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgedev/codeforge/llm"
	"github.com/forgedev/codeforge/llm/providers"
	"github.com/forgedev/codeforge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Defaults(t *testing.T) {
	p := New(Config{APIKey: "test-key"}, nil)
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "https://api.openai.com", p.cfg.BaseURL)
	assert.Equal(t, "/v1/chat/completions", p.cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.cfg.ModelsEndpoint)
	assert.Equal(t, 120*time.Second, p.client.Timeout)
	assert.NotNil(t, p.logger)
}

func TestNew_CustomConfig(t *testing.T) {
	p := New(Config{
		Name:           "azure",
		APIKey:         "k",
		BaseURL:        "https://example.azure.com",
		EndpointPath:   "/openai/deployments/gpt/chat/completions",
		ModelsEndpoint: "/openai/models",
		Timeout:        10 * time.Second,
	}, zap.NewNop())

	assert.Equal(t, "azure", p.Name())
	assert.Equal(t, 10*time.Second, p.client.Timeout)
	assert.Equal(t, "https://example.azure.com/openai/models", p.endpoint(p.cfg.ModelsEndpoint))
}

func TestProvider_Completion_Success(t *testing.T) {
	var gotBody providers.OpenAICompatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "resp-1",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{
				{
					Index:        0,
					FinishReason: "stop",
					Message:      providers.OpenAICompatMessage{Role: "assistant", Content: "```go\npackage main\n```"},
				},
			},
			Usage:   &providers.OpenAICompatUsage{PromptTokens: 50, CompletionTokens: 20, TotalTokens: 70},
			Created: 1766400000,
		})
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "gpt-4o"}, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Generate a backend"}},
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Contains(t, resp.Choices[0].Message.Content, "package main")
	assert.Equal(t, 70, resp.Usage.TotalTokens)
	assert.False(t, resp.CreatedAt.IsZero())

	// 请求体携带配置与请求参数
	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.Equal(t, 4096, gotBody.MaxTokens)
	assert.InDelta(t, 0.2, gotBody.Temperature, 0.001)
}

func TestProvider_Completion_ModelFallback(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID: "r1", Model: gotModel,
			Choices: []providers.OpenAICompatChoice{
				{Index: 0, FinishReason: "stop", Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}},
			},
		})
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "k", BaseURL: server.URL}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", gotModel)
}

func TestProvider_Completion_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   types.ErrorCode
		wantRetry  bool
	}{
		{
			name:       "401 unauthorized",
			statusCode: http.StatusUnauthorized,
			body:       `{"error":{"message":"invalid key","type":"auth"}}`,
			wantCode:   types.ErrUnauthorized,
		},
		{
			name:       "429 rate limited",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error":{"message":"slow down"}}`,
			wantCode:   types.ErrRateLimited,
			wantRetry:  true,
		},
		{
			name:       "400 context too long",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"maximum context length exceeded"}}`,
			wantCode:   types.ErrContextTooLong,
		},
		{
			name:       "500 server error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":{"message":"oops"}}`,
			wantCode:   types.ErrUpstreamError,
			wantRetry:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			p := New(Config{APIKey: "key", BaseURL: server.URL}, zap.NewNop())

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
			})
			require.Error(t, err)
			var terr *types.Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantCode, terr.Code)
			assert.Equal(t, tt.wantRetry, terr.Retryable)
			assert.Equal(t, "openai", terr.Provider)
		})
	}
}

func TestProvider_Completion_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "not json")
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "key", BaseURL: server.URL}, zap.NewNop())

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.Error(t, err)
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrUpstreamError, terr.Code)
	assert.True(t, terr.Retryable)
}

func TestProvider_Completion_OrganizationHeader(t *testing.T) {
	var gotOrg string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("OpenAI-Organization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID: "r1", Model: "m",
			Choices: []providers.OpenAICompatChoice{
				{Index: 0, FinishReason: "stop", Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}},
			},
		})
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "k", BaseURL: server.URL, Organization: "org-codeforge"}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-codeforge", gotOrg)
}

func TestProvider_Completion_RequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "k", BaseURL: server.URL}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
		Timeout:  20 * time.Millisecond,
	})
	require.Error(t, err)
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrTimeout, terr.Code)
	assert.True(t, terr.Retryable)
}

func TestProvider_Completion_ConnectionRefused(t *testing.T) {
	// 对已关闭的端口发起请求, 传输层直接失败
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	p := New(Config{APIKey: "k", BaseURL: addr}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.Error(t, err)
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrProviderUnavailable, terr.Code)
	assert.True(t, terr.Retryable)
}

func TestProvider_HealthCheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.True(t, status.Latency >= 0)
}

func TestProvider_HealthCheck_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
