// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供 image-generation 能力的 Provider 适配器。

# 概述

OpenAIProvider 调用 OpenAI 兼容的 /v1/images/generations 接口，
实现 llm.ImageGenerator。上游错误统一经 providers.MapHTTPError
映射为 types.Error，重试由 providers.WithRetry 在外层包装。

# 用量

计费单位为张数：Usage.ImageCount 取上游实际返回的图片数量，
而非请求中的 N。
*/
package image
