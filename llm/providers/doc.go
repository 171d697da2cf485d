// Copyright 2026 CodeForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供跨模型服务商的通用适配与辅助能力，是具体 Provider
实现的公共基础层。openai 子包依赖本包完成请求/响应转换与错误映射。

# 核心类型

  - OpenAICompat* 系列 — OpenAI 兼容 API 的通用请求/响应结构体

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 types.Error（含 Retryable 标记）
  - ConvertMessagesToOpenAI — 统一消息格式转换
  - ToLLMChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）

# 支持能力

  - 统一错误语义映射（401/403/429/400 子类/超时/5xx）
  - 上下文超限与内容审核拒绝的 400 细分识别
  - OpenAI 兼容格式的请求/响应序列化
*/
package providers
