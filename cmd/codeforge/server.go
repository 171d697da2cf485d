package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/forgedev/codeforge/api/handlers"
	"github.com/forgedev/codeforge/archive"
	"github.com/forgedev/codeforge/config"
	"github.com/forgedev/codeforge/generation"
	"github.com/forgedev/codeforge/internal/cache"
	"github.com/forgedev/codeforge/internal/database"
	"github.com/forgedev/codeforge/internal/metrics"
	"github.com/forgedev/codeforge/internal/server"
	"github.com/forgedev/codeforge/internal/telemetry"
	"github.com/forgedev/codeforge/jobs"
	"github.com/forgedev/codeforge/llm"
	"github.com/forgedev/codeforge/llm/providers/openai"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CodeForge 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	db         *gorm.DB
	otel       *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	generateHandler *handlers.GenerateHandler
	downloadHandler *handlers.DownloadHandler
	jobsHandler     *handlers.JobsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 核心组件
	store        jobs.Store
	poolManager  *database.PoolManager
	archives     *archive.Store
	jobService   *jobs.Service
	cacheManager *cache.Manager

	// 配置热重载
	reloader         *config.Reloader
	configAPIHandler *config.ConfigAPIHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例。db 在 Driver 为 mongodb 时为 nil，
// otelProviders 在遥测禁用或初始化失败时为 nil。
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		db:         db,
		otel:       otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("codeforge", s.logger)

	// 2. 初始化存储（任务记录 + 产物目录）
	if err := s.initStores(); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}

	// 3. 初始化生成流水线与任务服务
	if err := s.initJobService(); err != nil {
		return fmt.Errorf("failed to init job service: %w", err)
	}

	// 4. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 5. 初始化配置热重载
	s.initReloader()

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("workers", s.cfg.Workers.Count),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 初始化任务存储和产物归档存储
func (s *Server) initStores() error {
	if s.cfg.Database.Driver == "mongodb" {
		ctx := context.Background()
		store, err := jobs.NewMongoStore(ctx, s.cfg.Database.MongoURI, s.cfg.Database.Name, s.logger)
		if err != nil {
			return fmt.Errorf("open mongodb job store: %w", err)
		}
		s.store = store
	} else {
		if s.db == nil {
			return fmt.Errorf("database handle required for driver %q", s.cfg.Database.Driver)
		}

		poolCfg := database.DefaultPoolConfig()
		if s.cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
		}
		if s.cfg.Database.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
		}
		if s.cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
		}
		poolManager, err := database.NewPoolManager(s.db, poolCfg, s.logger)
		if err != nil {
			return fmt.Errorf("configure connection pool: %w", err)
		}
		s.poolManager = poolManager

		store, err := jobs.NewGormStore(s.db, s.logger)
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		s.store = store
	}

	archives, err := archive.NewStore(s.cfg.Artifacts, s.metricsCollector, s.logger)
	if err != nil {
		return fmt.Errorf("open archive store: %w", err)
	}
	s.archives = archives

	return nil
}

// initJobService 组装 LLM Provider、多级缓存、生成流水线与任务服务
func (s *Server) initJobService() error {
	// Redis 可选：连接失败只降级为本地缓存，不阻止启动
	if s.cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		manager, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn("Redis 连接失败，LLM 缓存降级为本地 LRU",
				zap.String("addr", s.cfg.Redis.Addr),
				zap.Error(err))
		} else {
			s.cacheManager = manager
		}
	}

	var rdb *redis.Client
	if s.cacheManager != nil {
		rdb = s.cacheManager.Client()
	}
	llmCacheCfg := llm.DefaultCacheConfig()
	if s.cfg.LLM.CacheTTL > 0 {
		llmCacheCfg.RedisTTL = s.cfg.LLM.CacheTTL
	}
	llmCache := llm.NewMultiLevelCache(rdb, llmCacheCfg, s.logger)

	if s.cfg.LLM.APIKey == "" {
		s.logger.Warn("LLM API Key 未配置，上游生成调用将以认证失败告终")
	}
	provider := openai.New(openai.Config{
		Name:         s.cfg.LLM.Provider,
		APIKey:       s.cfg.LLM.APIKey,
		BaseURL:      s.cfg.LLM.BaseURL,
		DefaultModel: s.cfg.Generation.Model,
		Timeout:      s.cfg.LLM.Timeout,
	}, s.logger)

	pipeline := generation.NewPipeline(provider, llmCache, s.metricsCollector, generation.PipelineConfig{
		Model:              s.cfg.Generation.Model,
		Temperature:        s.cfg.Generation.Temperature,
		MaxTokens:          s.cfg.Generation.MaxTokens,
		MaxRetries:         s.cfg.LLM.MaxRetries,
		CacheTTL:           s.cfg.LLM.CacheTTL,
		EnforceTokenBudget: s.cfg.Generation.EnforceTokenBudget,
	}, s.logger)

	hub := jobs.NewHub(s.logger)
	s.jobService = jobs.NewService(s.store, pipeline, s.archives, hub, s.metricsCollector, jobs.ServiceConfig{
		Workers:    s.cfg.Workers.Count,
		QueueSize:  s.cfg.Workers.QueueSize,
		JobTimeout: s.cfg.Generation.JobTimeout,
	}, s.logger)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler，就绪探针挂接依赖检查
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.poolManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.poolManager.Ping))
	} else if mongo, ok := s.store.(*jobs.MongoStore); ok {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", mongo.Ping))
	}
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.cacheManager.Ping))
	}

	s.generateHandler = handlers.NewGenerateHandler(s.jobService, s.logger)
	s.downloadHandler = handlers.NewDownloadHandler(s.archives, s.store, s.metricsCollector, s.logger)
	s.jobsHandler = handlers.NewJobsHandler(s.jobService, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initReloader 初始化配置热重载与配置管理 API
func (s *Server) initReloader() {
	opts := []config.ReloaderOption{
		config.WithReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithReloadConfigPath(s.configPath))
	}

	s.reloader = config.NewReloader(s.cfg, opts...)
	s.reloader.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded",
			zap.Int("version", s.reloader.Version()))
		s.cfg = newConfig
	})

	s.configAPIHandler = config.NewConfigAPIHandler(s.reloader)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 核心端点：提交生成 + 下载压缩包
	// ========================================
	mux.HandleFunc("POST /generate-code", s.generateHandler.HandleGenerateCode)
	mux.HandleFunc("GET /download-zip/{archiveId}/{workId}", s.downloadHandler.HandleDownloadZip)

	// ========================================
	// 欢迎页、健康检查与版本信息
	// ========================================
	mux.HandleFunc("GET /{$}", s.healthHandler.HandleWelcome)
	// 兜底：未注册路径返回 JSON 404 而不是默认纯文本
	mux.HandleFunc("/", handlers.HandleNotFound)
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 任务查询 API
	// ========================================
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.jobsHandler.HandleGetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", s.jobsHandler.HandleJobEvents)

	// ========================================
	// 管理接口子树（JWT 守卫）
	// 配置 API 和任务总览是敏感端点，认证不依赖全局中间件链的
	// 顺序，整棵子树显式包在 JWTAuth 里。
	// ========================================
	if s.cfg.Auth.AdminJWTSecret != "" {
		adminMux := http.NewServeMux()
		s.configAPIHandler.RegisterRoutes(adminMux)
		adminMux.HandleFunc("GET /api/v1/admin/jobs", s.jobsHandler.HandleListJobs)
		mux.Handle("/api/v1/admin/", JWTAuth(s.cfg.Auth.AdminJWTSecret, s.logger)(adminMux))
		s.logger.Info("Admin API registered with JWT authentication")
	} else {
		s.logger.Info("admin_jwt_secret not configured, admin API disabled")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/", "/health", "/healthz", "/ready", "/readyz", "/version"}
	skipAuthPrefixes := []string{"/api/v1/admin/"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, skipAuthPrefixes, true, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。先停入口、再排空任务、最后释放存储，
// 保证在途任务的归档在进程退出前落盘。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器，不再接收新任务
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 排空任务服务（等待在途生成完成并发布归档）
	if s.jobService != nil {
		s.jobService.Close()
	}

	// 4. 停止归档保留清理
	if s.archives != nil {
		s.archives.Close()
	}

	// 5. 关闭任务存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Job store shutdown error", zap.Error(err))
		}
	}
	if s.poolManager != nil {
		if err := s.poolManager.Close(); err != nil {
			s.logger.Error("Connection pool shutdown error", zap.Error(err))
		}
	}

	// 6. 关闭 Redis 连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager shutdown error", zap.Error(err))
		}
	}

	// 7. 关闭遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 8. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
