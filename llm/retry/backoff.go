package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	Jitter       bool                                              // 是否在延迟上叠加 0~25% 的随机抖动
	Classifier   func(err error) bool                              // 判定错误是否可重试，nil 时使用 IsTransient
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
// 适用于大部分上游 API 调用场景
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// maxJitterFraction 抖动上限（占基础延迟的比例）
const maxJitterFraction = 0.25

// BaseDelay 第 attempt 次重试（从 1 开始）的基础延迟，不含抖动。
// 随 attempt 单调不减，封顶 MaxDelay。
func (p *RetryPolicy) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	rand   func() float64
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	return newBackoffRetryer(policy, logger)
}

func newBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *backoffRetryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy

	// 参数校验
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Classifier == nil {
		p.Classifier = IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{
		policy: &p,
		logger: logger,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 最多执行 MaxRetries+1 次；不可重试的错误和耗尽后的最后一个错误都原样返回。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.Classifier(err) {
			r.logger.Debug("错误不可重试", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// calculateDelay 基础延迟 + 可选的随机抖动（0~25%，只增不减）
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	base := r.policy.BaseDelay(attempt)
	if !r.policy.Jitter {
		return base
	}
	return base + time.Duration(float64(base)*maxJitterFraction*r.rand())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
