// Package telemetry 封装 OpenTelemetry SDK 初始化与 span 辅助函数，
// 为编排核心提供集中式的 TracerProvider 和 MeterProvider 配置。
// 遥测禁用时全局 provider 保持 noop，不连接任何外部服务，
// StartSpan 等辅助函数仍可安全调用。
package telemetry
