// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 aicore 命令行入口。

# 概述

cmd/aicore 按 YAML 配置装配完整的编排核心：模型目录、上游适配器、
语义缓存（内存或 Redis 两级）、钱包与用量账本（GORM）、
Prometheus 指标与 OpenTelemetry 追踪，并通过子命令对外暴露。

# 子命令

  - version   显示构建信息
  - models    列出当前可用的模型及价格
  - ask       以指定身份发起一次请求，支持 --stream
  - wallet    开户、充值、设置月度上限与查询余额
  - usage     按 owner/period 汇总用量账本

# 装配顺序

配置加载与校验 → 日志 → 遥测 → 指标 → 数据库与钱包 → 缓存 →
适配器注册与探活 → 目录 → 计价与额度 → 编排器。
配置文件变更时重新加载模型目录，其余部分保持不变。
*/
package main
