// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package jobs 管理代码生成任务的完整生命周期。

职责划分：

  - Ref：为每次提交铸造 (workDirId, archiveDirId) 标识对。
    时间戳基底加随机后缀，快速连续提交下也不会冲突。
  - Store：任务记录的持久化接口。提供 GORM（sqlite/mysql/postgres）
    与 MongoDB 两种后端，按配置 database.driver 选择。
  - Service：接收提交、落库 pending 记录、投递到有界工作池。
    后台按顺序处理每条设计文本，写入工作目录并发布归档；
    队列饱和时同步拒绝，调用方据此应答 503。
  - Hub：任务状态变更事件的发布订阅，供 websocket 状态流使用。

提交方与执行方只通过任务记录与归档文件耦合。单条文本失败只计数
不中断，全部失败才将任务标记为 failed 且不发布归档。
*/
package jobs
