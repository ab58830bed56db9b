// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义编排核心与上游模型服务之间的统一适配契约。

# 概述

本包屏蔽不同模型服务商在接口、鉴权、错误语义和流式协议上的差异，
按能力（文本生成、嵌入、图像生成、语音合成、语音识别）暴露一致的
请求与响应模型。适配器只做翻译与执行，不接触额度、缓存或路由。

# 核心接口

  - [Adapter]：所有适配器的公共部分，提供 Name / HealthCheck
  - [TextGenerator]：文本生成与图像理解，提供 Generate / GenerateStream
  - [Embedder]：文本嵌入
  - [ImageGenerator]：图像生成
  - [SpeechSynthesizer] / [SpeechRecognizer]：语音合成与识别
  - [Stream]：单次、只进的流式序列，用量仅在序列正常耗尽后可见

# 核心类型

  - [Message] / [MediaPart]：对话消息与附带的媒体片段
  - [Usage]：按能力区分的用量（token、图片数、字符数、音频秒数）
  - [HealthStore]：显式持有的 Provider 健康状态，支持主动刷新
  - [ProviderRegistry]：按 Provider 与能力索引适配器
*/
package llm
