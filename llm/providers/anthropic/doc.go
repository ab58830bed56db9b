// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 anthropic 提供 Anthropic Claude 系列模型的文本生成适配器。
Claude API 与 OpenAI 格式有显著差异，本包负责将统一请求映射到
Anthropic Messages API（/v1/messages），并处理认证、消息格式与
流式响应的协议转换。

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token）
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 消息 content 为数组形式，图片以 image 块传递
  - 流式 SSE 事件结构独立（message_start / content_block_delta /
    message_delta / message_stop），输入用量在 message_start 中，
    输出用量在 message_delta 中
*/
package anthropic
