package metering

import (
	"math"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// PriceLookup 按模型查单价，不考虑健康状态
type PriceLookup interface {
	Lookup(id types.ModelID) (catalog.ModelDescriptor, bool)
}

// DefaultFallbackRates 未知模型的保守能力级费率（取各能力中高价档）
func DefaultFallbackRates() map[types.Capability]catalog.Pricing {
	perM := func(usd string) decimal.Decimal {
		return decimal.RequireFromString(usd).Div(decimal.NewFromInt(1000))
	}
	frontier := catalog.Pricing{PerInputToken: perM("15"), PerOutputToken: perM("75")}
	return map[types.Capability]catalog.Pricing{
		types.CapabilityTextGeneration:     frontier,
		types.CapabilityImageUnderstanding: frontier,
		types.CapabilityTextEmbedding:      {PerInputToken: perM("0.13")},
		types.CapabilityImageGeneration:    {PerImage: decimal.NewFromInt(120)},
		types.CapabilitySpeechSynthesis:    {PerCharacter: decimal.RequireFromString("0.03")},
		types.CapabilitySpeechRecognition:  {PerMinute: decimal.NewFromInt(10)},
	}
}

// Pricer 把用量换算为 credits
type Pricer struct {
	models   PriceLookup
	fallback map[types.Capability]catalog.Pricing
}

// NewPricer fallback 为 nil 时使用 DefaultFallbackRates
func NewPricer(models PriceLookup, fallback map[types.Capability]catalog.Pricing) *Pricer {
	if fallback == nil {
		fallback = DefaultFallbackRates()
	}
	return &Pricer{models: models, fallback: fallback}
}

// Rates 返回模型单价；模型未知或能力不符时返回能力级兜底费率，known=false
func (p *Pricer) Rates(capability types.Capability, modelID types.ModelID) (rates catalog.Pricing, known bool) {
	if p.models != nil {
		if m, ok := p.models.Lookup(modelID); ok && m.Capability == capability {
			return m.Pricing, true
		}
	}
	return p.fallback[capability], false
}

// Price 计价：
//   - token 类：input*inRate + output*outRate
//   - 图像：张数*单价
//   - 语音合成：字符数*单价
//   - 语音识别：ceil(秒/60)*分钟单价
func (p *Pricer) Price(capability types.Capability, modelID types.ModelID, usage llm.Usage) decimal.Decimal {
	rates, _ := p.Rates(capability, modelID)
	return PriceWith(capability, rates, usage)
}

// PriceWith 按给定费率计价
func PriceWith(capability types.Capability, rates catalog.Pricing, usage llm.Usage) decimal.Decimal {
	switch capability.Unit() {
	case types.UnitImage:
		return rates.PerImage.Mul(decimal.NewFromInt(int64(usage.ImageCount)))
	case types.UnitCharacter:
		return rates.PerCharacter.Mul(decimal.NewFromInt(int64(usage.CharacterCount)))
	case types.UnitMinute:
		if usage.AudioSeconds <= 0 {
			return decimal.Zero
		}
		minutes := int64(math.Ceil(usage.AudioSeconds / 60))
		return rates.PerMinute.Mul(decimal.NewFromInt(minutes))
	default:
		in := rates.PerInputToken.Mul(decimal.NewFromInt(int64(usage.InputTokens)))
		out := rates.PerOutputToken.Mul(decimal.NewFromInt(int64(usage.OutputTokens)))
		return in.Add(out)
	}
}
