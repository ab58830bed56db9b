// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是上游适配器的公共基础层。openaicompat 与 anthropic 子包
依赖本包完成请求/响应转换和错误映射，编排器通过 WithRetry 为任意能力的
适配器加上重试。

# 核心类型

  - OpenAICompat* 系列：OpenAI 兼容 API 的请求、响应与流式增量结构体
  - Retryable* 系列：按能力包装的重试适配器（文本、向量、图像、语音合成、语音识别）

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 types.Error（含 Retryable 标记与内容过滤识别）
  - MapTransportError / DecodeError：网络错误与解码错误的统一映射
  - ConvertMessagesToOpenAI / ToTextResponse：消息与响应的格式转换
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
  - ProbeGET：通用的健康探测请求

# 重试边界

流式请求只对建连阶段重试；首个分片发出后的错误直接交给调用方。
*/
package providers
