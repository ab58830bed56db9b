// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于预估费用和补全上游缺失的用量。
package tokenizer
