package llm

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProviderProbeResult 单个 Provider 最近一次探活结果
type ProviderProbeResult struct {
	Healthy     bool
	Latency     time.Duration
	LastError   string
	LastCheckAt time.Time
}

// HealthStore 显式持有的 Provider 健康状态。
// 未登记的 Provider 视为不可用：没有配置凭证的 Provider 不会出现在目录里。
type HealthStore struct {
	mu     sync.RWMutex
	probe  map[string]ProviderProbeResult
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthStore 创建空的健康状态存储
func NewHealthStore(logger *zap.Logger) *HealthStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthStore{
		probe:  make(map[string]ProviderProbeResult),
		logger: logger.With(zap.String("component", "health_store")),
		now:    time.Now,
	}
}

// MarkHealthy 直接标记 Provider 为可用（例如凭证已配置且无需探活）。
func (s *HealthStore) MarkHealthy(providerID string) {
	s.Set(providerID, ProviderProbeResult{Healthy: true, LastCheckAt: s.now()})
}

// MarkUnhealthy 标记 Provider 不可用并记录原因
func (s *HealthStore) MarkUnhealthy(providerID string, reason error) {
	res := ProviderProbeResult{Healthy: false, LastCheckAt: s.now()}
	if reason != nil {
		res.LastError = reason.Error()
	}
	s.Set(providerID, res)
}

// Set 写入探活结果
func (s *HealthStore) Set(providerID string, res ProviderProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probe[providerID] = res
}

// Forget 移除 Provider，之后视为未配置
func (s *HealthStore) Forget(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.probe, providerID)
}

// IsHealthy 报告 Provider 当前是否可用
func (s *HealthStore) IsHealthy(providerID string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.probe[providerID]
	return ok && res.Healthy
}

// Healthy 返回当前健康的 Provider 列表（已排序）
func (s *HealthStore) Healthy() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.probe))
	for id, res := range s.probe {
		if res.Healthy {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot 返回全部探活结果的副本
func (s *HealthStore) Snapshot() map[string]ProviderProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProviderProbeResult, len(s.probe))
	for k, v := range s.probe {
		out[k] = v
	}
	return out
}

// Refresh 并发探活给定的 Provider 并更新状态。
// 探活失败只记录日志并标记不可用，不向调用方返回错误。
func (s *HealthStore) Refresh(ctx context.Context, adapters map[string]Adapter) {
	g, gctx := errgroup.WithContext(ctx)
	for id, a := range adapters {
		id, a := id, a
		g.Go(func() error {
			start := s.now()
			status, err := a.HealthCheck(gctx)
			latency := s.now().Sub(start)
			if err != nil || status == nil || !status.Healthy {
				s.logger.Warn("Provider 探活失败",
					zap.String("provider", id),
					zap.Duration("latency", latency),
					zap.Error(err))
				s.MarkUnhealthy(id, err)
				return nil
			}
			s.Set(id, ProviderProbeResult{Healthy: true, Latency: status.Latency, LastCheckAt: s.now()})
			return nil
		})
	}
	_ = g.Wait()
}
