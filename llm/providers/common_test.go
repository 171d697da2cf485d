package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/forgedev/codeforge/llm"
	"github.com/forgedev/codeforge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 验证所有 HTTP 状态码被正确映射到错误码、
// 重试标记与提供者名称。
func TestMapHTTPError(t *testing.T) {
	testCases := []struct {
		name          string
		status        int
		msg           string
		provider      string
		expectedCode  types.ErrorCode
		expectedRetry bool
	}{
		{
			name:         "401 unauthorized",
			status:       http.StatusUnauthorized,
			msg:          "Invalid API key",
			provider:     "openai",
			expectedCode: types.ErrUnauthorized,
		},
		{
			name:         "403 forbidden",
			status:       http.StatusForbidden,
			msg:          "This service is not available in your region",
			provider:     "openai",
			expectedCode: types.ErrForbidden,
		},
		{
			name:          "429 rate limited",
			status:        http.StatusTooManyRequests,
			msg:           "Rate limit exceeded. Please retry after 60 seconds",
			provider:      "openai",
			expectedCode:  types.ErrRateLimited,
			expectedRetry: true,
		},
		{
			name:         "400 invalid request",
			status:       http.StatusBadRequest,
			msg:          "Invalid parameter: temperature must be between 0 and 2",
			provider:     "openai",
			expectedCode: types.ErrInvalidRequest,
		},
		{
			name:         "400 context length exceeded",
			status:       http.StatusBadRequest,
			msg:          "This model's maximum context length is 128000 tokens",
			provider:     "openai",
			expectedCode: types.ErrContextTooLong,
		},
		{
			name:         "400 too many tokens",
			status:       http.StatusBadRequest,
			msg:          "Request contains too many tokens",
			provider:     "azure",
			expectedCode: types.ErrContextTooLong,
		},
		{
			name:         "400 content filter",
			status:       http.StatusBadRequest,
			msg:          "The response was filtered due to the prompt triggering content management policy",
			provider:     "azure",
			expectedCode: types.ErrContentFiltered,
		},
		{
			name:         "400 content policy",
			status:       http.StatusBadRequest,
			msg:          "Your request was rejected by our content policy",
			provider:     "openai",
			expectedCode: types.ErrContentFiltered,
		},
		{
			name:         "404 model not found",
			status:       http.StatusNotFound,
			msg:          "The model 'gpt-9' does not exist",
			provider:     "openai",
			expectedCode: types.ErrModelNotFound,
		},
		{
			name:         "404 plain not found",
			status:       http.StatusNotFound,
			msg:          "Resource not found",
			provider:     "openai",
			expectedCode: types.ErrUpstreamError,
		},
		{
			name:          "408 request timeout",
			status:        http.StatusRequestTimeout,
			msg:           "Request timeout",
			provider:      "openai",
			expectedCode:  types.ErrUpstreamTimeout,
			expectedRetry: true,
		},
		{
			name:          "504 gateway timeout",
			status:        http.StatusGatewayTimeout,
			msg:           "Gateway timeout",
			provider:      "proxy",
			expectedCode:  types.ErrUpstreamTimeout,
			expectedRetry: true,
		},
		{
			name:          "502 bad gateway",
			status:        http.StatusBadGateway,
			msg:           "Bad gateway",
			provider:      "proxy",
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
		{
			name:          "503 service unavailable",
			status:        http.StatusServiceUnavailable,
			msg:           "Service temporarily unavailable",
			provider:      "openai",
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
		{
			name:          "500 internal server error",
			status:        http.StatusInternalServerError,
			msg:           "An unexpected error occurred",
			provider:      "openai",
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
		{
			name:          "529 overloaded",
			status:        529,
			msg:           "Model is overloaded",
			provider:      "openai",
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
		{
			name:         "418 other 4xx not retryable",
			status:       http.StatusTeapot,
			msg:          "I'm a teapot",
			provider:     "openai",
			expectedCode: types.ErrUpstreamError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := MapHTTPError(tc.status, tc.msg, tc.provider)

			require.NotNil(t, err)
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.Equal(t, tc.msg, err.Message, "错误消息必须保留")
			assert.Equal(t, tc.status, err.HTTPStatus, "HTTP 状态必须保留")
			assert.Equal(t, tc.expectedRetry, err.Retryable)
			assert.Equal(t, tc.provider, err.Provider, "提供者名称必须携带")
		})
	}
}

// 验证上下文/审核关键字检测对大小写不敏感
func TestMapHTTPError_KeywordCaseInsensitive(t *testing.T) {
	for _, msg := range []string{
		"Maximum Context length exceeded",
		"MAXIMUM CONTEXT reached",
		"Too Many Tokens in request",
	} {
		err := MapHTTPError(http.StatusBadRequest, msg, "openai")
		assert.Equal(t, types.ErrContextTooLong, err.Code, "msg=%s", msg)
	}

	for _, msg := range []string{
		"Content Policy violation",
		"CONTENT_FILTER triggered",
	} {
		err := MapHTTPError(http.StatusBadRequest, msg, "openai")
		assert.Equal(t, types.ErrContentFiltered, err.Code, "msg=%s", msg)
	}
}

// 验证传输层失败按超时与不可达分类, 且都标记可重试
func TestTransportError(t *testing.T) {
	err := TransportError(context.DeadlineExceeded, "openai")
	assert.Equal(t, types.ErrTimeout, err.Code)
	assert.Equal(t, http.StatusGatewayTimeout, err.HTTPStatus)
	assert.True(t, err.Retryable)

	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err = TransportError(netErr, "openai")
	assert.Equal(t, types.ErrProviderUnavailable, err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.Equal(t, "openai", err.Provider)
}

func TestReadErrorMessage(t *testing.T) {
	t.Run("json with type", func(t *testing.T) {
		body := strings.NewReader(`{"error":{"message":"invalid key","type":"auth"}}`)
		assert.Equal(t, "invalid key (type: auth)", ReadErrorMessage(body))
	})

	t.Run("json without type", func(t *testing.T) {
		body := strings.NewReader(`{"error":{"message":"slow down"}}`)
		assert.Equal(t, "slow down", ReadErrorMessage(body))
	})

	t.Run("raw text fallback", func(t *testing.T) {
		body := strings.NewReader("upstream exploded")
		assert.Equal(t, "upstream exploded", ReadErrorMessage(body))
	})
}

func TestChooseModel(t *testing.T) {
	req := &llm.ChatRequest{Model: "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o-mini", ChooseModel(req, "default", "fallback"))
	assert.Equal(t, "default", ChooseModel(&llm.ChatRequest{}, "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel(nil, "", "fallback"))
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a code generator."},
		{Role: llm.RoleUser, Content: "Generate a login page.", Name: "designer"},
	}

	out := ConvertMessagesToOpenAI(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "You are a code generator.", out[0].Content)
	assert.Equal(t, "designer", out[1].Name)
}

func TestToLLMChatResponse(t *testing.T) {
	oa := OpenAICompatResponse{
		ID:    "resp-1",
		Model: "gpt-4o",
		Choices: []OpenAICompatChoice{
			{Index: 0, FinishReason: "stop", Message: OpenAICompatMessage{Role: "assistant", Content: "done"}},
		},
		Usage: &OpenAICompatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	resp := ToLLMChatResponse(oa, "openai")
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAICompatRequest_JSONShape(t *testing.T) {
	body := OpenAICompatRequest{
		Model:       "gpt-4o",
		Messages:    []OpenAICompatMessage{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
	}

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"model":"gpt-4o"`)
	assert.NotContains(t, string(data), "max_tokens", "零值字段不得出现在请求体中")
}
