// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metering 提供 credits 计价、预估与额度校验。1 credit = 0.001 美元，
全部金额以 decimal.Decimal 表示。

# 钱包归属

每个请求恰好对应一个钱包：Identity 带组织 ID 时只使用组织钱包，
否则只使用个人钱包，两者之间没有回退。

# 流程

  - Estimator.Estimate：调用前的保守预估。文本生成把输入 token 数
    同时当作输出 token 数。
  - Enforcer.CheckCapacity：先判定月度计划上限，再判定余额，
    分别返回 PLAN_LIMIT_EXCEEDED 与 INSUFFICIENT_CREDITS。
  - Enforcer.Settle：按实际用量重新计价，一次 Wallet.Debit 调用完成
    扣费与用量记录写入，核心不做"读余额再写回"。
  - Enforcer.RecordCacheHit：缓存命中写入零 credits 的用量记录，尽力而为。
*/
package metering
