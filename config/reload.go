// 配置重载管理器。
//
// 持有当前生效配置，支持从文件重载、变更通知与脱敏视图。
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 重载类型定义 ---

// ReloadCallback 配置重载成功后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 代表一次配置字段变更
type ConfigChange struct {
	// 变更的时间戳
	Timestamp time.Time `json:"timestamp"`

	// 变更来源（init、file、api）
	Source string `json:"source"`

	// 已更改字段的路径（例如 "Server.HTTPPort"）
	Path string `json:"path"`

	// 更改前的值（敏感字段会被编辑）
	OldValue any `json:"old_value,omitempty"`

	// 更改后的值（敏感字段会被编辑）
	NewValue any `json:"new_value,omitempty"`
}

// Reloader 持有当前配置并支持从文件原子替换
type Reloader struct {
	mu sync.RWMutex

	// 当前配置
	current    *Config
	configPath string
	envPrefix  string

	// 版本与审计
	version   int
	loadedAt  time.Time
	changeLog []ConfigChange

	// 回调
	callbacks []ReloadCallback

	// 记录器
	logger *zap.Logger
}

// --- 重载管理器选项 ---

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithReloadLogger 设置记录器
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithReloadConfigPath 设置重载时读取的配置文件路径
func WithReloadConfigPath(path string) ReloaderOption {
	return func(r *Reloader) {
		r.configPath = path
	}
}

// WithReloadEnvPrefix 设置重载时使用的环境变量前缀
func WithReloadEnvPrefix(prefix string) ReloaderOption {
	return func(r *Reloader) {
		r.envPrefix = prefix
	}
}

// --- 重载管理器实现 ---

// NewReloader 创建一个新的配置重载管理器
func NewReloader(cfg *Config, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		current:   cfg,
		envPrefix: "CODEFORGE",
		version:   1,
		loadedAt:  time.Now(),
		changeLog: make([]ConfigChange, 0, 32),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Current 返回当前配置的深拷贝
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return deepCopyConfig(r.current)
}

// Version 返回当前配置版本号（每次成功重载递增）
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// LoadedAt 返回当前配置的加载时间
func (r *Reloader) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// OnReload 注册重载成功后的回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload 从配置文件重新加载并原子替换当前配置。
// 加载或校验失败时保留当前配置并返回错误。
func (r *Reloader) Reload() (*Config, error) {
	loader := NewLoader().WithEnvPrefix(r.envPrefix)
	if r.configPath != "" {
		loader = loader.WithConfigPath(r.configPath)
	}

	newConfig, err := loader.Load()
	if err != nil {
		r.logger.Error("failed to load config, keeping current config",
			zap.Error(err), zap.String("path", r.configPath))
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		r.logger.Error("invalid config, keeping current config",
			zap.Error(err), zap.String("path", r.configPath))
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	oldConfig := r.current
	changes := diffConfigs(oldConfig, newConfig)
	now := time.Now()
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = "file"
		if isSensitivePath(changes[i].Path) {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
	}
	r.current = newConfig
	r.version++
	r.loadedAt = now
	r.changeLog = append(r.changeLog, changes...)
	if len(r.changeLog) > 200 {
		r.changeLog = r.changeLog[len(r.changeLog)-200:]
	}
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	for _, change := range changes {
		r.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue))
	}

	r.notifyCallbacksSafe(callbacks, oldConfig, newConfig)

	r.logger.Info("configuration reloaded",
		zap.Int("changes", len(changes)),
		zap.Int("version", r.Version()))
	return newConfig, nil
}

// ChangeLog 返回最近的配置变更记录
func (r *Reloader) ChangeLog(limit int) []ConfigChange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.changeLog) {
		limit = len(r.changeLog)
	}

	start := len(r.changeLog) - limit
	result := make([]ConfigChange, limit)
	copy(result, r.changeLog[start:])
	return result
}

// notifyCallbacksSafe 安全地通知回调（捕获 panic）
func (r *Reloader) notifyCallbacksSafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("reload callback panicked", zap.Any("panic", rec))
				}
			}()
			cb(oldConfig, newConfig)
		}()
	}
}

// --- 变更检测 ---

// diffConfigs 检测新旧配置之间的字段变化
func diffConfigs(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
		} else if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// isSensitivePath 检查字段路径是否包含敏感数据
func isSensitivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, key := range []string{"password", "apikey", "secret", "token"} {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// --- 深拷贝与脱敏视图 ---

// deepCopyConfig 深拷贝配置（通过 JSON 序列化/反序列化）
func deepCopyConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return config
	}
	return &copied
}

// Sanitized 返回编辑了敏感字段的配置视图
func (r *Reloader) Sanitized() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := json.Marshal(r.current)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	redactSensitiveFields(result)
	return result
}

// redactSensitiveFields 递归地编辑敏感字段
func redactSensitiveFields(data map[string]any) {
	for key, value := range data {
		if isSensitivePath(key) {
			switch v := value.(type) {
			case string:
				if v != "" {
					data[key] = "[REDACTED]"
				}
			case []any:
				for i, item := range v {
					if str, ok := item.(string); ok && str != "" {
						v[i] = "[REDACTED]"
					}
				}
			}
		}

		if nested, ok := value.(map[string]any); ok {
			redactSensitiveFields(nested)
		}
	}
}
