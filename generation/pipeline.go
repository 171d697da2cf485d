package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/forgedev/codeforge/internal/ctxkeys"
	"github.com/forgedev/codeforge/internal/metrics"
	"github.com/forgedev/codeforge/internal/telemetry"
	"github.com/forgedev/codeforge/llm"
	"github.com/forgedev/codeforge/llm/retry"
	"github.com/forgedev/codeforge/llm/tokenizer"
	"github.com/forgedev/codeforge/types"
	"github.com/forgedev/codeforge/workflow"
)

// endpoint 是从设计文档中提取的 API 端点
type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// draft 承载流水线各阶段之间的中间状态。
// 生成阶段的并行步骤各写各的字段，互不冲突。
type draft struct {
	Text string

	Frontend string
	Language string
	Backend  string
	Database string

	Components []string
	Tables     map[string][]string
	Endpoints  []endpoint

	FrontendCode string
	BackendCode  string
	SQLCode      string
}

// PipelineConfig 配置生成流水线
type PipelineConfig struct {
	Model              string
	Temperature        float64
	MaxTokens          int
	MaxRetries         int
	CacheTTL           time.Duration
	EnforceTokenBudget bool
}

// Pipeline 把设计文档变成可下载的代码文件集。
// 三个阶段串联执行：技术栈检测、设计要素提取、分层代码生成，
// 前两个阶段内部再并行扇出各自的模型调用。
type Pipeline struct {
	provider  llm.Provider
	cache     *llm.MultiLevelCache
	collector *metrics.Collector
	retryer   retry.Retryer
	cfg       PipelineConfig
	logger    *zap.Logger
}

var _ Generator = (*Pipeline)(nil)

// NewPipeline 创建生成流水线。cache 和 collector 可以为 nil。
func NewPipeline(provider llm.Provider, cache *llm.MultiLevelCache, collector *metrics.Collector, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.RetryIf = types.IsRetryable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("模型调用失败, 准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Pipeline{
		provider:  provider,
		cache:     cache,
		collector: collector,
		retryer:   retry.NewBackoffRetryer(policy, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// GenerateFiles 执行完整的生成流水线
func (p *Pipeline) GenerateFiles(ctx context.Context, designText string) (*FileSet, error) {
	text := strings.TrimSpace(designText)
	if text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "design text is empty").
			WithHTTPStatus(http.StatusBadRequest)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "generation.pipeline")
	defer span.End()

	// 任务标识从 context 透传, 让并发任务的日志与追踪可归属
	logger := p.logger
	if ref, ok := ctxkeys.JobRef(ctx); ok {
		logger = logger.With(zap.String("job", ref))
		span.SetAttributes(attribute.String("job.ref", ref))
	}

	logger.Info("🚀 开始代码生成流水线",
		zap.String("model", p.cfg.Model),
		zap.Int("text_chars", len(text)))

	chain := workflow.NewChainWorkflow("code-generation",
		"检测技术栈, 提取设计要素, 生成各层代码",
		workflow.NewFuncStep("detect-stack", p.detectStack),
		workflow.NewFuncStep("extract-design", p.extractDesign),
		workflow.NewFuncStep("generate-layers", p.generateLayers),
	)

	out, err := chain.Execute(ctx, &draft{Text: text})
	if err != nil {
		return nil, err
	}
	d := out.(*draft)

	span.SetAttributes(
		attribute.String("generation.frontend", d.Frontend),
		attribute.String("generation.language", d.Language),
		attribute.String("generation.backend", d.Backend),
		attribute.String("generation.database", d.Database),
	)

	fs := assembleFileSet(d)
	if fs.Len() == 0 {
		return nil, types.NewError(types.ErrGenerationFailed, "no code was generated for any layer")
	}
	span.SetAttributes(attribute.Int("generation.files", fs.Len()))

	logger.Info("📦 代码生成完成", zap.Int("files", fs.Len()))
	return fs, nil
}

// detectStack 并行检测前端框架、后端语言、后端框架与数据库
func (p *Pipeline) detectStack(ctx context.Context, input any) (any, error) {
	d := input.(*draft)

	par := workflow.NewParallelWorkflow("detect-stack", "并行检测技术栈",
		workflow.NewPromptStep("frontend", promptDetectFrontend, p.complete),
		workflow.NewPromptStep("language", promptDetectLanguage, p.complete),
		workflow.NewPromptStep("backend", promptDetectBackend, p.complete),
		workflow.NewPromptStep("database", promptDetectDatabase, p.complete),
	)

	out, err := par.Execute(ctx, d.Text)
	if err != nil {
		return nil, err
	}
	results := out.(map[string]any)

	d.Frontend = asString(results["frontend"])
	d.Language = asString(results["language"])
	if d.Language == "" {
		d.Language = "Python"
	}
	d.Backend = normalizeBackend(asString(results["backend"]), d.Text)
	d.Database = asString(results["database"])

	p.logger.Info("🔍 技术栈检测完成",
		zap.String("frontend", d.Frontend),
		zap.String("language", d.Language),
		zap.String("backend", d.Backend),
		zap.String("database", d.Database))
	return d, nil
}

// extractDesign 并行提取 UI 组件、表结构与 API 端点。
// 任何一类提取结果解析失败都只记警告并降级为空值, 不中断流水线。
func (p *Pipeline) extractDesign(ctx context.Context, input any) (any, error) {
	d := input.(*draft)

	par := workflow.NewParallelWorkflow("extract-design", "并行提取设计要素",
		workflow.NewPromptStep("ui-components", promptExtractUIComponents, p.complete),
		workflow.NewPromptStep("table-schema", promptExtractTableSchema, p.complete),
		workflow.NewPromptStep("api-endpoints", promptExtractAPIEndpoints, p.complete),
	)

	out, err := par.Execute(ctx, d.Text)
	if err != nil {
		return nil, err
	}
	results := out.(map[string]any)

	d.Components = p.parseComponents(asString(results["ui-components"]))
	d.Tables = p.parseTableSchema(asString(results["table-schema"]))
	d.Endpoints = p.parseEndpoints(asString(results["api-endpoints"]))

	p.logger.Info("提取设计要素完成",
		zap.Int("components", len(d.Components)),
		zap.Int("tables", len(d.Tables)),
		zap.Int("endpoints", len(d.Endpoints)))
	return d, nil
}

// generateLayers 为每个检测到的层并行生成代码, 缺少输入的层直接跳过
func (p *Pipeline) generateLayers(ctx context.Context, input any) (any, error) {
	d := input.(*draft)

	var steps []workflow.Step

	if d.Frontend != "" {
		steps = append(steps, workflow.NewFuncStep("frontend", func(ctx context.Context, _ any) (any, error) {
			out, err := p.complete(ctx, buildFrontendPrompt(d.Frontend, d.Components))
			if err != nil {
				return nil, err
			}
			d.FrontendCode = out
			return nil, nil
		}))
	} else {
		p.logger.Warn("未检测到前端框架, 跳过前端代码生成")
	}

	if d.Language != "" && d.Backend != "" && len(d.Endpoints) > 0 {
		steps = append(steps, workflow.NewFuncStep("backend", func(ctx context.Context, _ any) (any, error) {
			out, err := p.complete(ctx, buildBackendPrompt(d.Language, d.Backend, d.Database, d.Endpoints, d.Tables))
			if err != nil {
				return nil, err
			}
			d.BackendCode = out
			return nil, nil
		}))
	} else {
		p.logger.Warn("缺少语言/框架/端点信息, 跳过后端代码生成",
			zap.Int("endpoints", len(d.Endpoints)))
	}

	if d.Database != "" && d.Database != "None" && len(d.Tables) > 0 {
		steps = append(steps, workflow.NewFuncStep("sql", func(ctx context.Context, _ any) (any, error) {
			out, err := p.complete(ctx, buildSQLPrompt(d.Database, d.Tables))
			if err != nil {
				return nil, err
			}
			d.SQLCode = out
			return nil, nil
		}))
	} else {
		p.logger.Warn("未检测到数据库或表结构, 跳过 SQL 生成",
			zap.String("database", d.Database))
	}

	if len(steps) == 0 {
		return d, nil
	}

	par := workflow.NewParallelWorkflow("generate-layers", "并行生成各层代码", steps...)
	if _, err := par.Execute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// complete 执行一次带缓存、重试、token 预算检查与指标上报的补全调用
func (p *Pipeline) complete(ctx context.Context, prompt string) (string, error) {
	req := &llm.ChatRequest{
		Model:       p.cfg.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: float32(p.cfg.Temperature),
		MaxTokens:   p.cfg.MaxTokens,
	}

	if p.cfg.EnforceTokenBudget {
		if err := p.checkBudget(req); err != nil {
			return "", err
		}
	}

	var cacheKey string
	if p.cache != nil && p.cache.IsCacheable(req) {
		cacheKey = p.cache.GenerateKey(req)
		if entry, err := p.cache.Get(ctx, cacheKey); err == nil {
			if content, cerr := llm.FirstContent(entry.Response); cerr == nil {
				if p.collector != nil {
					p.collector.RecordCacheHit("llm")
				}
				return strings.TrimSpace(content), nil
			}
		} else if p.collector != nil {
			p.collector.RecordCacheMiss("llm")
		}
	}

	start := time.Now()
	resp, err := retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.ChatResponse, error) {
		return p.provider.Completion(ctx, req)
	})
	duration := time.Since(start)

	if err != nil {
		if p.collector != nil {
			p.collector.RecordLLMRequest(p.provider.Name(), req.Model, "error", duration, 0, 0)
		}
		return "", err
	}

	if p.collector != nil {
		p.collector.RecordLLMRequest(p.provider.Name(), req.Model, "success", duration,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	content, err := llm.FirstContent(resp)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)

	if cacheKey != "" && p.cfg.CacheTTL > 0 {
		entry := &llm.CacheEntry{Response: resp, TokensSaved: resp.Usage.TotalTokens}
		if cacheErr := p.cache.Set(ctx, cacheKey, entry); cacheErr != nil {
			p.logger.Warn("缓存写入失败", zap.Error(cacheErr))
		}
	}

	return content, nil
}

// checkBudget 在发起调用前估算 token 用量, 超出模型上下文窗口直接拒绝
func (p *Pipeline) checkBudget(req *llm.ChatRequest) error {
	tok := tokenizer.GetTokenizerOrEstimator(req.Model)

	msgs := make([]tokenizer.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}

	n, err := tok.CountMessages(msgs)
	if err != nil {
		// 计数失败不应挡住生成, 交给上游模型自己判断
		p.logger.Warn("token 计数失败, 跳过预算检查",
			zap.String("model", req.Model), zap.Error(err))
		return nil
	}

	if limit := tok.MaxTokens(); n+req.MaxTokens > limit {
		return types.NewError(types.ErrContextTooLong,
			fmt.Sprintf("prompt needs %d tokens plus %d for completion, model limit is %d", n, req.MaxTokens, limit)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

func (p *Pipeline) parseComponents(raw string) []string {
	var payload struct {
		Components []string `json:"ui_components"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &payload); err != nil {
		p.logger.Warn("UI 组件解析失败, 前端将退回兜底文件名", zap.Error(err))
		return nil
	}
	return payload.Components
}

func (p *Pipeline) parseTableSchema(raw string) map[string][]string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &payload); err != nil {
		p.logger.Warn("表结构解析失败, 跳过 SQL 生成", zap.Error(err))
		return nil
	}

	tables := make(map[string][]string, len(payload))
	for name, v := range payload {
		switch cols := v.(type) {
		case []any:
			out := make([]string, 0, len(cols))
			for _, c := range cols {
				out = append(out, fmt.Sprint(c))
			}
			tables[name] = out
		default:
			// 单值也归一化成单元素列表
			tables[name] = []string{fmt.Sprint(v)}
		}
	}
	return tables
}

func (p *Pipeline) parseEndpoints(raw string) []endpoint {
	var items []map[string]any
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &items); err != nil {
		p.logger.Warn("API 端点解析失败, 跳过后端代码生成", zap.Error(err))
		return nil
	}

	endpoints := make([]endpoint, 0, len(items))
	for _, item := range items {
		method, okM := item["method"].(string)
		path, okP := item["path"].(string)
		if !okM || !okP || method == "" || path == "" {
			p.logger.Warn("跳过格式不完整的端点条目", zap.Any("item", item))
			continue
		}
		desc, _ := item["description"].(string)
		endpoints = append(endpoints, endpoint{Method: method, Path: path, Description: desc})
	}
	return endpoints
}

// stripJSONFence 剥掉模型偶尔加上的 markdown 代码围栏
func stripJSONFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// backendKeywords 按优先级排列, 检测结果不可信时从设计文本中兜底识别
var backendKeywords = []struct {
	keyword string
	backend string
}{
	{"django", "Django"},
	{"flask", "Flask"},
	{"fastapi", "FastAPI"},
	{"express", "Express.js"},
	{"spring", "SpringBoot"},
}

var knownBackends = map[string]bool{
	"FastAPI":    true,
	"SpringBoot": true,
	"Express.js": true,
	"Flask":      true,
	"Django":     true,
}

// normalizeBackend 把检测结果约束到已知框架集合,
// 未命中时扫描设计文本关键字, 最后兜底 FastAPI。
func normalizeBackend(detected, text string) string {
	if knownBackends[detected] {
		return detected
	}

	lower := strings.ToLower(text)
	for _, kw := range backendKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.backend
		}
	}
	return "FastAPI"
}
