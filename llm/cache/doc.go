// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供文本生成响应的语义缓存。相同含义的请求（仅大小写或
末尾标点不同）命中同一条目，从而跳过上游调用与计费。

# 缓存键

	llm:semantic:<modelId>:<scope>:<sha256>

scope 为 shared（无会话 ID，跨调用方共享）或 conv:<id>（会话隔离）。
哈希取最近 5 条消息逐条归一化（小写、去首尾空白、去末尾标点）后的
"role:text" 行。

# 可缓存判断

最后一条消息长度需在 [3,500] 字符内，且不含时间敏感词
（now/today/latest 及西、葡、中文对应词）、不引用调用方私有代码
（"my code"/"this code"），会话窗口内不含图片或音频。
不可缓存的请求不产生任何存储 I/O。

# 存储

  - Store：get/set(ttl)/keysMatching(glob)/delete 契约。
  - MemoryStore：O(1) LRU + 逐条 TTL。
  - RedisStore：基于 internal/cache.Manager，模式匹配使用 SCAN。
  - TieredStore：本地 L1 + 远端 L2，L2 命中回填 L1。

缓存是尽力而为的：存储故障只记录日志，不会向调用方返回错误。
*/
package cache
