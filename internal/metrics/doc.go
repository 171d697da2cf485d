// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

// Package metrics 提供基于 Prometheus 的指标收集能力。
//
// 覆盖六大维度:
//   - HTTP: 请求量、延迟、请求/响应大小
//   - 作业: 提交结果、执行状态、执行时长、条目处理、队列深度
//   - 归档: 发布数量、归档大小、下载结果
//   - LLM: 请求量、延迟、token 用量
//   - 缓存: 命中/未命中
//   - 数据库: 连接池状态、查询延迟
//
// 使用 promauto 在默认注册表注册指标:
//
//	collector := metrics.NewCollector("codeforge", logger)
//	collector.RecordHTTPRequest("POST", "/generate-code", 202, duration, reqSize, respSize)
//	collector.RecordJobExecution("succeeded", elapsed)
//
// 指标通过独立的 metrics 端口以 /metrics 路径暴露。
package metrics
