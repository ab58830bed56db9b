// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 orchestrator 是 AI 请求编排核心的入口：接受按能力分类的请求，
依次完成缓存查询、模型路由、额度校验、带重试的上游调用、缓存回写与计费。

# 状态机

	Started → CacheCheck
	  ├─ CacheHit  → Respond（零 credits 记录，不扣费）
	  └─ CacheMiss → Routed → CapacityChecked → Calling
	                   ├─ Success → CacheWrite → Metered → Respond
	                   └─ Failure → Propagate（不扣费）

流式请求的 Calling 状态覆盖整个分块消费过程，计费只在分块序列结束后
按适配器报告的最终用量进行。调用方中途取消时不扣费，Result 返回
context.Canceled。

# 缓存

语义缓存只用于文本生成；带图片或音频附件的请求不缓存。缓存失败只记录日志，
不影响请求。

# 钱包

Identity 带组织 ID 时只使用组织钱包，否则只使用个人钱包。
*/
package orchestrator
