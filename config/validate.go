package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/aicore/types"
)

// 支持的 provider 类型
const (
	ProviderKindOpenAI           = "openai"
	ProviderKindAnthropic        = "anthropic"
	ProviderKindOpenAICompatible = "openai-compatible"
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	// 日志
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be one of debug, info, warn, error")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format must be json or console")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be between 0 and 1")
	}

	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		add("database.driver %q is not supported", c.Database.Driver)
	}

	for id, p := range c.Providers {
		switch p.Kind {
		case ProviderKindOpenAI, ProviderKindAnthropic, ProviderKindOpenAICompatible:
		default:
			add("providers.%s.kind %q is not supported", id, p.Kind)
		}
		if p.Kind == ProviderKindOpenAICompatible && p.BaseURL == "" {
			add("providers.%s.base_url is required for openai-compatible", id)
		}
		if p.Timeout < 0 {
			add("providers.%s.timeout must not be negative", id)
		}
	}

	// 模型目录
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if seen[m.ID] {
			add("duplicate model id %q", m.ID)
			continue
		}
		seen[m.ID] = true
		if _, err := m.Descriptor(); err != nil {
			add("%v", err)
		}
	}

	for name := range c.Routing.DefaultModels {
		if _, err := types.ParseCapability(name); err != nil {
			add("routing.default_models: %v", err)
		}
	}

	// 重试
	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries must not be negative")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		add("retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.InitialDelay > c.Retry.MaxDelay {
		add("retry.initial_delay must not exceed retry.max_delay")
	}
	if c.Retry.Multiplier < 0 || (c.Retry.Multiplier > 0 && c.Retry.Multiplier < 1) {
		add("retry.multiplier must be >= 1")
	}

	// 缓存
	if c.Cache.MinLength < 0 || c.Cache.MaxLength < 0 {
		add("cache length bounds must not be negative")
	}
	if c.Cache.MaxLength > 0 && c.Cache.MinLength > c.Cache.MaxLength {
		add("cache.min_length must not exceed cache.max_length")
	}
	if c.Cache.Window < 0 || c.Cache.TTL < 0 || c.Cache.LocalTTL < 0 || c.Cache.LocalCapacity < 0 {
		add("cache window, ttl and capacity must not be negative")
	}

	// 计费
	if c.Metering.TextOutputRatio < 0 {
		add("metering.text_output_ratio must not be negative")
	}
	if _, err := c.FallbackRates(); err != nil {
		add("%v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
