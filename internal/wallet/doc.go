// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 wallet 基于 GORM 的钱包服务，实现 metering.Wallet。

每个钱包归属一个 owner（个人或组织），持有余额、月度计划上限与当月用量。
Debit 在一个事务内完成：按周期滚动月度用量、以 SQL 表达式
balance - ? 扣减余额、写入用量记录。余额从不在进程内计算后回写。
可重试的数据库错误（死锁、锁超时）由 database.PoolManager 退避重试。
*/
package wallet
