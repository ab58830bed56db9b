package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pricing 单价，单位为 credits。按能力只使用其中一部分字段。
type Pricing struct {
	PerInputToken  decimal.Decimal `json:"per_input_token"`
	PerOutputToken decimal.Decimal `json:"per_output_token"`
	PerImage       decimal.Decimal `json:"per_image"`
	PerCharacter   decimal.Decimal `json:"per_character"`
	PerMinute      decimal.Decimal `json:"per_minute"`
}

// ReferencePrice 用于"最便宜"比较的单一标量：该能力计费单位的费率之和。
func (p Pricing) ReferencePrice(c types.Capability) decimal.Decimal {
	switch c.Unit() {
	case types.UnitImage:
		return p.PerImage
	case types.UnitCharacter:
		return p.PerCharacter
	case types.UnitMinute:
		return p.PerMinute
	default:
		return p.PerInputToken.Add(p.PerOutputToken)
	}
}

// ModelDescriptor 目录中的一个模型，只读。
type ModelDescriptor struct {
	ID          types.ModelID    `json:"id"`
	DisplayName string           `json:"display_name"`
	ProviderID  string           `json:"provider_id"`
	Capability  types.Capability `json:"capability"`
	Pricing     Pricing          `json:"pricing"`
	Tier        int              `json:"tier"` // 1 最便宜
	Deprecated  bool             `json:"deprecated,omitempty"`
}

// Catalog 模型目录
type Catalog struct {
	mu     sync.RWMutex
	models map[types.ModelID]ModelDescriptor
	health *llm.HealthStore
	logger *zap.Logger
}

// New 创建空目录。health 决定哪些 Provider 的模型对外可见。
func New(health *llm.HealthStore, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		models: make(map[types.ModelID]ModelDescriptor),
		health: health,
		logger: logger.With(zap.String("component", "catalog")),
	}
}

// Replace 校验并整体替换目录内容，校验失败时原内容不变。
func (c *Catalog) Replace(models []ModelDescriptor) error {
	next := make(map[types.ModelID]ModelDescriptor, len(models))
	for _, m := range models {
		if _, err := types.ParseModelID(string(m.ID)); err != nil {
			return err
		}
		if !m.Capability.Valid() {
			return fmt.Errorf("model %s: unknown capability %q", m.ID, m.Capability)
		}
		if m.ProviderID == "" {
			return fmt.Errorf("model %s: provider is empty", m.ID)
		}
		if m.Tier < 1 {
			return fmt.Errorf("model %s: tier must be >= 1", m.ID)
		}
		if _, dup := next[m.ID]; dup {
			return fmt.Errorf("duplicate model id %s", m.ID)
		}
		next[m.ID] = m
	}

	c.mu.Lock()
	c.models = next
	c.mu.Unlock()

	c.logger.Info("模型目录已替换", zap.Int("models", len(next)))
	return nil
}

// Lookup 返回模型描述，不考虑健康状态，供计费使用。
func (c *Catalog) Lookup(id types.ModelID) (ModelDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// ListModels 列出可用模型，capability 为空表示全部能力。
// 结果按能力、Provider、档位、ID 排序。
func (c *Catalog) ListModels(capability types.Capability) []ModelDescriptor {
	c.mu.RLock()
	out := make([]ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		if capability != "" && m.Capability != capability {
			continue
		}
		if c.visible(m) {
			out = append(out, m)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Capability != b.Capability {
			return a.Capability < b.Capability
		}
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.ID < b.ID
	})
	return out
}

// AvailableIDs 可用模型 ID 列表，用于 MODEL_UNAVAILABLE 的替代提示。
func (c *Catalog) AvailableIDs(capability types.Capability) []string {
	models := c.ListModels(capability)
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = string(m.ID)
	}
	return ids
}

// IsAvailable 模型存在、未弃用且所属 Provider 健康
func (c *Catalog) IsAvailable(id types.ModelID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return ok && c.visible(m)
}

// Cheapest 返回该能力下参考价最低的可用模型。平价时低档位优先，再按 ID。
func (c *Catalog) Cheapest(capability types.Capability) (ModelDescriptor, bool) {
	return cheapestOf(c.ListModels(capability), capability)
}

// SameProvider 返回某 Provider 在该能力下的全部可用模型
func (c *Catalog) SameProvider(providerID string, capability types.Capability) []ModelDescriptor {
	all := c.ListModels(capability)
	out := all[:0]
	for _, m := range all {
		if m.ProviderID == providerID {
			out = append(out, m)
		}
	}
	return out
}

func (c *Catalog) visible(m ModelDescriptor) bool {
	return !m.Deprecated && c.health.IsHealthy(m.ProviderID)
}

// CheapestOf 在候选集合中挑选最便宜的模型。
func CheapestOf(models []ModelDescriptor, capability types.Capability) (ModelDescriptor, bool) {
	return cheapestOf(models, capability)
}

func cheapestOf(models []ModelDescriptor, capability types.Capability) (ModelDescriptor, bool) {
	var best ModelDescriptor
	found := false
	for _, m := range models {
		if !found || cheaper(m, best, capability) {
			best, found = m, true
		}
	}
	return best, found
}

func cheaper(a, b ModelDescriptor, capability types.Capability) bool {
	pa, pb := a.Pricing.ReferencePrice(capability), b.Pricing.ReferencePrice(capability)
	if cmp := pa.Cmp(pb); cmp != 0 {
		return cmp < 0
	}
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	return a.ID < b.ID
}
