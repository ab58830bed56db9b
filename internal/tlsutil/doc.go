// Package tlsutil 提供集中式 TLS 配置，
// 供上游 Provider 的 HTTP 客户端和 Redis 连接使用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
