// =============================================================================
// 📦 aicore 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Providers: map[string]ProviderConfig{},
		Retry:     DefaultRetryConfig(),
		Cache:     DefaultCacheConfig(),
		Routing:   DefaultRoutingConfig(),
		Metering:  DefaultMeteringConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aicore",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "aicore",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "aicore.db",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		TTL:           time.Hour,
		MinLength:     3,
		MaxLength:     500,
		Window:        5,
		LocalCapacity: 1000,
		LocalTTL:      5 * time.Minute,
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		SmartRouting: true,
		DefaultModels: map[string]string{
			"text-generation":     "gpt-4o",
			"text-embedding":      "text-embedding-3-small",
			"image-generation":    "dall-e-3",
			"image-understanding": "gpt-4o-vision",
			"speech-synthesis":    "tts-1",
			"speech-recognition":  "whisper-1",
		},
	}
}

// DefaultMeteringConfig 返回默认计费配置
func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		TextOutputRatio: 1,
	}
}
