// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的编排指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 prometheus.Registerer，
传 nil 时使用默认注册表。所有指标按 namespace 隔离。Collector 的方法
对 nil 接收者安全，未启用指标时编排器可以直接传 nil。

# 指标

  - 请求：按 capability/model/status 计数与耗时，status 为 ok 或错误码。
  - 上游：按 provider/model 的调用耗时、重试次数。
  - 用量：token 输入/输出、扣除的 credits。
  - 缓存：hit/miss/skip 计数，skip 按原因细分。
  - 路由：kept/downgraded/fallback 决策计数。
  - 额度：按错误码统计的拒绝次数。
  - 数据库：连接池打开/空闲连接数。
*/
package metrics
