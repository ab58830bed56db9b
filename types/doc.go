// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、metering、
orchestrator 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Capability       ：请求能力标签（文本生成、图像生成、语音合成等），决定请求形态与计费公式
  - ModelID          ：经过语法校验的模型标识，存在性由运行时目录判定
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - CreditDetail     ：额度/套餐拒绝时附带的结构化数据（required / balance / limit / used）

# 主要能力

  - 错误工具链：AsError / IsCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewInsufficientCreditsError / NewPlanLimitError / NewModelUnavailableError
*/
package types
