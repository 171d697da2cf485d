// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

// Package cache 提供基于 Redis 的缓存管理。
//
// 缓存承担两类工作负载:
//   - 作业状态快速查询: 下载端点轮询时优先读缓存,避免每次轮询都打到数据库
//   - LLM 响应缓存的 L2 层: 通过 Client() 共享底层连接
//
// 基本用法:
//
//	manager, err := cache.NewManager(cache.Config{
//		Addr:       "localhost:6379",
//		DefaultTTL: 5 * time.Minute,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	err = manager.SetJSON(ctx, "job:"+ref, record, time.Hour)
//
// 管理器在后台按配置的间隔执行健康检查,连接异常会记录到日志。
package cache
