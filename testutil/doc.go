// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供编排核心测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 流式辅助: CollectStreamChunks / CollectStreamContent

# 子包

  - testutil/mocks: MockProvider（实现全部能力接口，支持按次错误注入与流式分块）、
    MockWallet（钱包服务，扣费与用量记录同锁完成）、MockLedger（内存账本与聚合）
  - testutil/fixtures: 覆盖全部能力的分档模型目录与对话样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider("mock").WithResponse("hello")
	wallet := mocks.NewMockWallet().WithWallet(owner, decimal.NewFromInt(100), decimal.Zero)
*/
package testutil
