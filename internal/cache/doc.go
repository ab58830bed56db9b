// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，是语义缓存远端存储的底座。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete，
    以及基于 SCAN 游标的 Scan 模式匹配（语义缓存按模型或会话失效时使用）。
  - Config：地址、连接池、默认 TTL、健康检查间隔与 SCAN 批量。

# 错误语义

ErrCacheMiss 表示键不存在；ErrClosed 表示管理器已关闭。
后台健康检查在 Close 时退出。
*/
package cache
