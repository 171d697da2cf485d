package generation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgedev/codeforge/llm"
	"github.com/forgedev/codeforge/llm/tokenizer"
	"github.com/forgedev/codeforge/types"
)

// fakeProvider 按提示词内容路由响应, 并记录所有收到的提示词
type fakeProvider struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := req.Messages[0].Content
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	content, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Model: req.Model,
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: content}},
		},
		Usage: llm.ChatUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeProvider) promptContaining(marker string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prompts {
		if strings.Contains(p, marker) {
			return p
		}
	}
	return ""
}

// fullStackReply 模拟一次覆盖三层的完整生成会话
func fullStackReply(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "frontend framework detector"):
		return "React", nil
	case strings.Contains(prompt, "backend language classifier"):
		return "Python", nil
	case strings.Contains(prompt, "backend framework detector"):
		return "FastAPI", nil
	case strings.Contains(prompt, "database system detector"):
		return "PostgreSQL", nil
	case strings.Contains(prompt, "intelligent frontend architect"):
		return `{"ui_components": ["LoginForm"]}`, nil
	case strings.Contains(prompt, "database design assistant"):
		return `{"users": ["id", "email"]}`, nil
	case strings.Contains(prompt, "API endpoint extraction specialist"):
		return `[{"method": "POST", "path": "/api/auth/register", "description": "Register a new user"}]`, nil
	case strings.Contains(prompt, "full-stack code generator"):
		return "```js filename: LoginForm.jsx\n" +
			"import React from 'react';\n" +
			"function LoginForm() {\n" +
			"  return (<form />);\n" +
			"}\n" +
			"```", nil
	case strings.Contains(prompt, "highly skilled"):
		return "```python filename: main.py\n" +
			"from fastapi import FastAPI\n" +
			"app = FastAPI()\n" +
			"```\n" +
			"```python filename: models.py\n" +
			"class User:\n" +
			"    pass\n" +
			"```", nil
	case strings.Contains(prompt, "SQL expert"):
		return "```sql\nCREATE TABLE users (id SERIAL PRIMARY KEY);\n```", nil
	}
	return "", nil
}

func filesByPath(fs *FileSet) map[string]string {
	out := make(map[string]string, fs.Len())
	for _, f := range fs.Files() {
		out[f.Path] = f.Content
	}
	return out
}

func TestPipeline_GenerateFiles_FullStack(t *testing.T) {
	fake := &fakeProvider{reply: fullStackReply}
	p := NewPipeline(fake, nil, nil, PipelineConfig{Model: "test-model"}, zap.NewNop())

	fs, err := p.GenerateFiles(context.Background(),
		"Users register via POST /api/auth/register. React frontend, FastAPI backend, PostgreSQL.")
	require.NoError(t, err)

	files := filesByPath(fs)
	assert.Contains(t, files, "frontend_react/src/components/LoginForm.jsx")
	assert.Contains(t, files, "backend_python_fastapi/main.py")
	assert.Contains(t, files, "backend_python_fastapi/models.py")
	assert.Contains(t, files, "database/schema.sql")

	// Python 后端自动补依赖清单
	require.Contains(t, files, "backend_python_fastapi/requirements.txt")
	assert.Contains(t, files["backend_python_fastapi/requirements.txt"], "fastapi")

	assert.Equal(t, "CREATE TABLE users (id SERIAL PRIMARY KEY);", files["database/schema.sql"])

	// 4 次检测 + 3 次提取 + 3 次生成
	assert.Equal(t, 10, fake.callCount())

	// 生成提示词携带提取结果
	backendPrompt := fake.promptContaining("highly skilled")
	assert.Contains(t, backendPrompt, "/api/auth/register")
	assert.Contains(t, backendPrompt, "Table users")
	frontendPrompt := fake.promptContaining("full-stack code generator")
	assert.Contains(t, frontendPrompt, "LoginForm")
}

func TestPipeline_GenerateFiles_EmptyText(t *testing.T) {
	fake := &fakeProvider{reply: fullStackReply}
	p := NewPipeline(fake, nil, nil, PipelineConfig{}, zap.NewNop())

	_, err := p.GenerateFiles(context.Background(), "   \n\t  ")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Zero(t, fake.callCount())
}

func TestPipeline_GenerateFiles_SkipsLayersWithoutInputs(t *testing.T) {
	fake := &fakeProvider{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "frontend framework detector"):
			return "React", nil
		case strings.Contains(prompt, "backend language classifier"):
			return "Python", nil
		case strings.Contains(prompt, "backend framework detector"):
			return "FastAPI", nil
		case strings.Contains(prompt, "database system detector"):
			return "None", nil
		case strings.Contains(prompt, "full-stack code generator"):
			return "Here is a sketch without any code fences.", nil
		}
		// 提取响应全部是坏 JSON, 解析降级为空值
		return "not valid json at all", nil
	}}
	p := NewPipeline(fake, nil, nil, PipelineConfig{}, zap.NewNop())

	fs, err := p.GenerateFiles(context.Background(), "A purely static marketing site.")
	require.NoError(t, err)

	// 只有前端层产出, 且解析不出代码块时退回原始文本文件
	files := filesByPath(fs)
	require.Len(t, files, 1)
	assert.Equal(t, "Here is a sketch without any code fences.", files["frontend_react/frontend_output.txt"])

	// 后端和 SQL 层被跳过: 4 检测 + 3 提取 + 1 生成
	assert.Equal(t, 8, fake.callCount())
}

func TestPipeline_GenerateFiles_NothingGenerated(t *testing.T) {
	fake := &fakeProvider{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "database system detector"):
			return "None", nil
		case strings.Contains(prompt, "API endpoint extraction specialist"):
			return "[]", nil
		}
		return "", nil
	}}
	p := NewPipeline(fake, nil, nil, PipelineConfig{}, zap.NewNop())

	_, err := p.GenerateFiles(context.Background(), "An empty design document with no recognizable stack.")
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationFailed, types.GetErrorCode(err))
}

func TestPipeline_GenerateFiles_DetectionFailure(t *testing.T) {
	upstreamErr := types.NewError(types.ErrUpstreamError, "model exploded")
	fake := &fakeProvider{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "backend language classifier") {
			return "", upstreamErr
		}
		return "React", nil
	}}
	p := NewPipeline(fake, nil, nil, PipelineConfig{}, zap.NewNop())

	_, err := p.GenerateFiles(context.Background(), "Some design text.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detect-stack")

	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrUpstreamError, typedErr.Code)
}

func TestPipeline_GenerateFiles_BackendKeywordFallback(t *testing.T) {
	fake := &fakeProvider{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "frontend framework detector"):
			return "", nil
		case strings.Contains(prompt, "backend language classifier"):
			return "", nil // 语言缺省为 Python
		case strings.Contains(prompt, "backend framework detector"):
			return "Ruby on Rails", nil // 不在允许列表里
		case strings.Contains(prompt, "database system detector"):
			return "None", nil
		case strings.Contains(prompt, "API endpoint extraction specialist"):
			return `[{"method": "GET", "path": "/api/items", "description": "List items"}]`, nil
		case strings.Contains(prompt, "highly skilled"):
			return "```python filename: views.py\nclass ItemViewSet(viewsets.ModelViewSet):\n    pass\n```", nil
		}
		return "not json", nil
	}}
	p := NewPipeline(fake, nil, nil, PipelineConfig{}, zap.NewNop())

	fs, err := p.GenerateFiles(context.Background(),
		"The backend is built with Django and exposes a list endpoint.")
	require.NoError(t, err)

	// 检测结果不可信时从设计文本里识别出 Django
	backendPrompt := fake.promptContaining("highly skilled")
	assert.Contains(t, backendPrompt, "the Django framework")

	files := filesByPath(fs)
	assert.Contains(t, files, "backend_python_django/views.py")
	assert.Contains(t, files, "backend_python_django/requirements.txt")
}

func TestPipeline_GenerateFiles_CacheReuse(t *testing.T) {
	fake := &fakeProvider{reply: fullStackReply}
	cache := llm.NewMultiLevelCache(nil, &llm.CacheConfig{
		EnableLocal:  true,
		LocalMaxSize: 64,
		LocalTTL:     time.Minute,
		RedisTTL:     time.Hour,
	}, zap.NewNop())

	p := NewPipeline(fake, cache, nil, PipelineConfig{CacheTTL: time.Hour}, zap.NewNop())

	text := "Users register via POST /api/auth/register. React frontend, FastAPI backend, PostgreSQL."

	fs1, err := p.GenerateFiles(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, 10, fake.callCount())

	// 第二次生成相同文本, 全部命中缓存, 不再调用上游
	fs2, err := p.GenerateFiles(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, 10, fake.callCount())
	assert.Equal(t, fs1.Len(), fs2.Len())
}

func TestPipeline_GenerateFiles_TokenBudget(t *testing.T) {
	// 上下文窗口刻意设得比默认补全预算还小
	tokenizer.RegisterTokenizer("codeforge-budget-test",
		tokenizer.NewEstimatorTokenizer("codeforge-budget-test", 100))

	fake := &fakeProvider{reply: fullStackReply}
	p := NewPipeline(fake, nil, nil, PipelineConfig{
		Model:              "codeforge-budget-test",
		EnforceTokenBudget: true,
	}, zap.NewNop())

	_, err := p.GenerateFiles(context.Background(), "A very modest design document.")
	require.Error(t, err)

	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrContextTooLong, typedErr.Code)

	// 预算检查在发起调用之前, 上游一次都不会被触达
	assert.Zero(t, fake.callCount())
}

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		detected string
		text     string
		want     string
	}{
		{"FastAPI", "", "FastAPI"},
		{"Django", "", "Django"},
		{"Express.js", "", "Express.js"},
		{"", "the API uses Django REST framework", "Django"},
		{"Ruby on Rails", "we prefer flask for small apps", "Flask"},
		{"", "an express middleware chain", "Express.js"},
		{"", "a Spring Boot microservice", "SpringBoot"},
		{"", "nothing recognizable here", "FastAPI"},
		// 多个关键字命中时按固定优先级取第一个
		{"", "migrating from django to flask", "Django"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeBackend(tt.detected, tt.text),
			"normalizeBackend(%q, %q)", tt.detected, tt.text)
	}
}

func TestStripJSONFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n[1, 2]\n```", "[1, 2]"},
		{"  \n```json\n{}\n```\n  ", "{}"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripJSONFence(tt.in), "stripJSONFence(%q)", tt.in)
	}
}

func TestPipeline_ParseComponents(t *testing.T) {
	p := &Pipeline{logger: zap.NewNop()}

	assert.Equal(t, []string{"LoginForm", "Dashboard"},
		p.parseComponents(`{"ui_components": ["LoginForm", "Dashboard"]}`))
	assert.Equal(t, []string{"LoginForm"},
		p.parseComponents("```json\n{\"ui_components\": [\"LoginForm\"]}\n```"))
	assert.Nil(t, p.parseComponents("the model returned prose instead"))
}

func TestPipeline_ParseTableSchema(t *testing.T) {
	p := &Pipeline{logger: zap.NewNop()}

	tables := p.parseTableSchema(`{"users": ["id", "email"], "note": "single"}`)
	require.Len(t, tables, 2)
	assert.Equal(t, []string{"id", "email"}, tables["users"])
	// 非列表值归一化为单元素列表
	assert.Equal(t, []string{"single"}, tables["note"])

	assert.Nil(t, p.parseTableSchema("broken {"))
}

func TestPipeline_ParseEndpoints(t *testing.T) {
	p := &Pipeline{logger: zap.NewNop()}

	eps := p.parseEndpoints(`[
		{"method": "POST", "path": "/api/users", "description": "Create"},
		{"method": "GET", "path": ""},
		{"path": "/orphan"},
		{"method": "DELETE", "path": "/api/users/1"}
	]`)
	require.Len(t, eps, 2)
	assert.Equal(t, endpoint{Method: "POST", Path: "/api/users", Description: "Create"}, eps[0])
	assert.Equal(t, endpoint{Method: "DELETE", Path: "/api/users/1"}, eps[1])

	assert.Nil(t, p.parseEndpoints("no endpoints here"))
}
