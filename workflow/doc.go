// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package workflow 提供生成流水线的编排原语。

# 概述

workflow 包实现 CodeForge 的阶段编排：链式工作流按顺序串联
检测、提取、生成等阶段，并行工作流将同一输入扇出给多个探测
步骤并合并结果。

# 核心接口与类型

  - Runnable          — 通用执行接口 Execute(ctx, input) (output, error)
  - Workflow          — 工作流接口（Runnable + Name + Description）
  - Step / FuncStep   — 工作流步骤与函数步骤
  - ChainWorkflow     — 顺序链式工作流，前一步输出作为下一步输入
  - ParallelWorkflow  — 并发扇出，结果按步骤名合并为 map
  - PromptStep        — 渲染提示词并发起一次补全调用的步骤
*/
package workflow
