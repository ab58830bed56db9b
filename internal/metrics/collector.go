// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strings"
	"time"

	"github.com/BaSui01/aicore/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 请求指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// 上游指标
	upstreamDuration *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec

	// 用量指标
	tokensUsed     *prometheus.CounterVec
	creditsCharged *prometheus.CounterVec

	// 缓存指标
	cacheLookups *prometheus.CounterVec
	cacheSkips   *prometheus.CounterVec

	// 路由与额度
	routingDecisions *prometheus.CounterVec
	creditRejections *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of orchestrated requests",
		},
		[]string{"capability", "model", "status"},
	)

	c.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end orchestration duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"capability", "model"},
	)

	c.upstreamDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream provider call duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of upstream retry attempts",
		},
		[]string{"provider"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: input, output
	)

	c.creditsCharged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_charged_total",
			Help:      "Total credits debited from wallets",
		},
		[]string{"capability", "model"},
	)

	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"result"}, // hit, miss, skip
	)

	c.cacheSkips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_skips_total",
			Help:      "Requests that bypassed the semantic cache, by reason",
		},
		[]string{"reason"},
	)

	c.routingDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Smart routing decisions",
		},
		[]string{"reason", "complexity"},
	)

	c.creditRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_rejections_total",
			Help:      "Requests rejected by the capacity check",
		},
		[]string{"code"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRequest 记录一次编排请求
func (c *Collector) RecordRequest(capability, model string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(capability, model, StatusLabel(err)).Inc()
	c.requestDuration.WithLabelValues(capability, model).Observe(duration.Seconds())
}

// RecordUpstream 记录上游调用耗时
func (c *Collector) RecordUpstream(provider, model string, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstreamDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(provider string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(provider).Inc()
}

// RecordUsage 记录 token 用量与扣除的 credits
func (c *Collector) RecordUsage(capability, model string, inputTokens, outputTokens int, credits float64) {
	if c == nil {
		return
	}
	if inputTokens > 0 {
		c.tokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.tokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if credits > 0 {
		c.creditsCharged.WithLabelValues(capability, model).Add(credits)
	}
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("hit").Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordCacheSkip 记录跳过缓存及原因
func (c *Collector) RecordCacheSkip(reason string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("skip").Inc()
	c.cacheSkips.WithLabelValues(reason).Inc()
}

// RecordRouting 记录路由决策
func (c *Collector) RecordRouting(reason, complexity string) {
	if c == nil {
		return
	}
	c.routingDecisions.WithLabelValues(reason, complexity).Inc()
}

// RecordCreditRejection 记录额度拒绝
func (c *Collector) RecordCreditRejection(err error) {
	if c == nil {
		return
	}
	c.creditRejections.WithLabelValues(StatusLabel(err)).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// StatusLabel 将错误归类为低基数的标签值
func StatusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "internal"
}
