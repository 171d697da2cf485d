// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package types 提供跨包共享的错误体系与请求上下文工具。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，为 api、jobs、llm、
generation 等上层模块提供统一的错误契约，以避免循环依赖。

# 错误体系

  - ErrorCode — 服务统一错误码（请求校验、任务生命周期、上游模型、通用四组）
  - Error     — 结构化错误，携带 HTTP 状态码、Retryable 标记与上游提供者名称

错误码到 HTTP 状态码的映射在 api/handlers 完成；构造方通过
WithHTTPStatus / WithRetryable / WithProvider 链式补充元数据，
判定方使用 IsRetryable / GetErrorCode 做类型无关的检查。

# Context 传播

WithUserID / UserID 在认证中间件与业务代码之间传递已认证的用户标识。
*/
package types
