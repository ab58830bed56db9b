// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的连接打开与连接池管理，供钱包、
用量账本等存储协作方使用。

# 核心类型

  - Config：驱动（postgres、mysql、sqlite）、DSN 与连接池配置。
  - Open：按驱动选择 Dialector 打开连接，GORM 日志转发到 zap。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    GetStats()、Close() 以及后台健康检查。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 复用 llm/retry 的
指数退避，仅对死锁、序列化失败、锁超时与断连错误重试。
*/
package database
