package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// ModelConfig 模型目录条目
type ModelConfig struct {
	ID          string     `yaml:"id"`
	DisplayName string     `yaml:"display_name"`
	Provider    string     `yaml:"provider"`
	Capability  string     `yaml:"capability"`
	Tier        int        `yaml:"tier"`
	Deprecated  bool       `yaml:"deprecated"`
	Rates       RateConfig `yaml:",inline"`
}

var thousand = decimal.NewFromInt(1000)

func parseRate(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

// Pricing 转换为 credits 单价；token 价格从每百万 token 美元换算为每 token credits
func (r RateConfig) Pricing() (catalog.Pricing, error) {
	var p catalog.Pricing
	in, err := parseRate("input_per_million", r.InputPerMillion)
	if err != nil {
		return p, err
	}
	out, err := parseRate("output_per_million", r.OutputPerMillion)
	if err != nil {
		return p, err
	}
	if p.PerImage, err = parseRate("per_image", r.PerImage); err != nil {
		return p, err
	}
	if p.PerCharacter, err = parseRate("per_character", r.PerCharacter); err != nil {
		return p, err
	}
	if p.PerMinute, err = parseRate("per_minute", r.PerMinute); err != nil {
		return p, err
	}
	p.PerInputToken = in.Div(thousand)
	p.PerOutputToken = out.Div(thousand)
	return p, nil
}

// Descriptor 转换为目录条目
func (m ModelConfig) Descriptor() (catalog.ModelDescriptor, error) {
	id, err := types.ParseModelID(m.ID)
	if err != nil {
		return catalog.ModelDescriptor{}, err
	}
	capability, err := types.ParseCapability(m.Capability)
	if err != nil {
		return catalog.ModelDescriptor{}, fmt.Errorf("model %s: %w", m.ID, err)
	}
	if m.Provider == "" {
		return catalog.ModelDescriptor{}, fmt.Errorf("model %s: provider is required", m.ID)
	}
	if m.Tier < 1 || m.Tier > 3 {
		return catalog.ModelDescriptor{}, fmt.Errorf("model %s: tier must be 1-3, got %d", m.ID, m.Tier)
	}
	pricing, err := m.Rates.Pricing()
	if err != nil {
		return catalog.ModelDescriptor{}, fmt.Errorf("model %s: %w", m.ID, err)
	}
	name := m.DisplayName
	if name == "" {
		name = m.ID
	}
	return catalog.ModelDescriptor{
		ID:          id,
		DisplayName: name,
		ProviderID:  m.Provider,
		Capability:  capability,
		Pricing:     pricing,
		Tier:        m.Tier,
		Deprecated:  m.Deprecated,
	}, nil
}

// CatalogModels 返回模型目录；未配置时使用内置目录
func (c *Config) CatalogModels() ([]catalog.ModelDescriptor, error) {
	if len(c.Models) == 0 {
		return catalog.DefaultModels(), nil
	}
	out := make([]catalog.ModelDescriptor, 0, len(c.Models))
	for _, m := range c.Models {
		d, err := m.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// FallbackRates 内置兜底费率叠加配置覆盖
func (c *Config) FallbackRates() (map[types.Capability]catalog.Pricing, error) {
	rates := metering.DefaultFallbackRates()
	for name, rc := range c.Metering.FallbackRates {
		capability, err := types.ParseCapability(name)
		if err != nil {
			return nil, fmt.Errorf("metering.fallback_rates: %w", err)
		}
		p, err := rc.Pricing()
		if err != nil {
			return nil, fmt.Errorf("metering.fallback_rates.%s: %w", name, err)
		}
		rates[capability] = p
	}
	return rates, nil
}

// DefaultModel 返回能力的默认模型
func (c *Config) DefaultModel(capability types.Capability) (types.ModelID, bool) {
	id, ok := c.Routing.DefaultModels[string(capability)]
	if !ok || id == "" {
		return "", false
	}
	return types.ModelID(id), true
}
