// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
包 llm 提供统一的大语言模型接入层，包括 Provider 抽象、
响应缓存与 Token 计数等能力。

# 概述

本包目标是屏蔽 OpenAI 兼容服务商在接口、鉴权和错误语义上的差异，
对代码生成流水线暴露一致的请求与响应模型。

# Provider 抽象

核心接口是 [Provider]，包含补全、健康检查与命名。
基于该接口，生成流水线可以在保持上层调用不变的前提下切换底层模型服务。

# 核心类型

  - [ChatRequest] / [ChatResponse]：聊天请求与响应
  - [Message] / [Role]：对话消息与角色
  - [ChatUsage]：Token 用量统计
  - [HealthStatus]：健康检查状态
  - [MultiLevelCache]：本地 LRU + Redis 两级响应缓存
  - [CacheEntry]：缓存条目（响应 + 节省的 Token 数）

# 相关子包

- llm/providers：服务商适配公共层（错误映射、格式转换）。
- llm/providers/openai：OpenAI 及兼容端点的 Provider 实现。
- llm/tokenizer：tiktoken 精确计数与 CJK 估算器。
- llm/retry：指数退避重试策略。
*/
package llm
