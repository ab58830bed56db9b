// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package ledger 基于 GORM 的只追加用量账本，实现 metering.Ledger。
// AppendTx 供钱包在扣费事务内写入记录。
package ledger
