// Copyright 2026 CodeForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 提供 OpenAI 模型的 Provider 适配实现,也兼容任何暴露
/v1/chat/completions 的 OpenAI 兼容端点（Azure、代理网关、本地推理服务）。

# 核心结构体

  - Provider — 基于 providers 公共层实现 Completion 与 HealthCheck；
    通过 Config.BaseURL / Config.Name 指向并标识任意兼容端点

# 支持能力

  - Chat Completions（/v1/chat/completions）
  - 健康检查（GET /v1/models，用于就绪探针）
  - Organization header 支持
  - 单请求级超时（ChatRequest.Timeout 覆盖客户端默认值）
*/
package openai
