// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CodeForge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 CodeForge 所有 HTTP 端点的请求处理逻辑，
包括代码生成提交、压缩包下载、任务状态查询以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - GenerateHandler  — 代码生成提交处理器（202 受理 + 下载地址）
  - DownloadHandler  — 压缩包下载处理器（404 未就绪 / 410 已失败 / 200 流式返回）
  - JobsHandler      — 任务状态查询、WebSocket 事件流与管理端任务列表
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /readyz）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx，含 410 Gone 与 503 背压）
  - 核心端点保持裸响应体（202 受理、下载流），与既有客户端协议兼容
  - 任务事件推送：JobsHandler.HandleJobEvents 基于 WebSocket 推送状态变更
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
