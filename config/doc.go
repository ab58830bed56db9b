// Package config 提供 aicore 的配置管理：默认值、YAML 文件与
// AICORE_ 前缀环境变量的分层加载、校验、日志构建，
// 以及配置文件变更后的模型目录热更新。
package config
