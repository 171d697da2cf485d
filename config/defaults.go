// =============================================================================
// 📦 CodeForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Auth:       DefaultAuthConfig(),
		LLM:        DefaultLLMConfig(),
		Generation: DefaultGenerationConfig(),
		Artifacts:  DefaultArtifactsConfig(),
		Workers:    DefaultWorkersConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        0,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		CORSOrigins:     nil,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		APIKeys:        nil,
		AdminJWTSecret: "",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "openai",
		APIKey:     "",
		BaseURL:    "",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		CacheTTL:   time.Hour,
	}
}

// DefaultGenerationConfig 返回默认代码生成配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Model:              "gpt-4o",
		Temperature:        0.2,
		MaxTokens:          8192,
		JobTimeout:         0,
		EnforceTokenBudget: true,
	}
}

// DefaultArtifactsConfig 返回默认产物存储配置
func DefaultArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		Root:             "temp_artifacts",
		WorkSubdir:       "generated_code",
		ArchiveSubdir:    "final_zip",
		RetentionEnabled: false,
		RetentionTTL:     72 * time.Hour,
		SweepInterval:    time.Hour,
	}
}

// DefaultWorkersConfig 返回默认工作池配置
func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		Count:     4,
		QueueSize: 64,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "codeforge",
		Password:        "",
		Name:            "codeforge.db",
		SSLMode:         "disable",
		MongoURI:        "mongodb://localhost:27017/codeforge",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "codeforge",
		SampleRate:   0.1,
	}
}
