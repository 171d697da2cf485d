// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package generation 实现从设计文档到代码文件集的生成流水线。

# 概述

流水线分三个阶段：

 1. 检测 — 并行识别前端框架、后端语言、后端框架与数据库
 2. 提取 — 并行提取 UI 组件、表结构与 API 端点
 3. 生成 — 为检测到的每一层并行生成代码

生成结果由解析器拆分为带路径的文件：围栏代码块按 filename 提示、
组件名匹配与内容启发式推断文件名，并套用各框架的目录约定。

# 核心类型

  - [Generator]     — 生成能力接口，工作池按设计文本逐条调用
  - [Pipeline]      — 基于 LLM Provider 的 Generator 实现
  - [FileSet]       — 有序的生成文件集合
  - [GeneratedFile] — 单个生成文件（相对路径 + 内容）

[Pipeline] 内部集成响应缓存、指数退避重试、token 预算检查与指标上报，
单条设计文本的生成会产生多次模型调用，全部经过同一条 complete 通道。
*/
package generation
