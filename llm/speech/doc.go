// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 speech 提供语音能力的 Provider 适配器。

# 概述

  - OpenAITTSProvider：speech-synthesis，调用 /v1/audio/speech，
    实现 llm.SpeechSynthesizer。按输入文本的字符数计费。
  - OpenAISTTProvider：speech-recognition，调用 /v1/audio/transcriptions，
    实现 llm.SpeechRecognizer。按音频时长计费，优先采用上游
    verbose_json 返回的 duration，缺失时回退到调用方声明的时长。

所有上游错误经 providers.MapHTTPError 统一映射，重试由外层包装。
*/
package speech
