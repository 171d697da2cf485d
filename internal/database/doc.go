// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

// Package database 提供数据库连接池管理。
//
// PoolManager 包装 GORM 连接并负责:
//   - sql.DB 连接池参数调优（最大连接数、生命周期、空闲时间）
//   - 周期性健康检查
//   - 事务辅助（含针对死锁、锁冲突、连接中断的重试）
//
// 作业存储（SQLite/PostgreSQL/MySQL）构建在此连接池之上:
//
//	pm, err := database.NewPoolManager(gormDB, database.DefaultPoolConfig(), logger)
//	if err != nil {
//		return err
//	}
//	defer pm.Close()
//
//	err = pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
//		return tx.Model(&job).Update("status", "succeeded").Error
//	})
package database
