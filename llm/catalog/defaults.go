package catalog

import (
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// 1 credit = 0.001 USD。token 单价由每百万 token 美元价换算。
func perMillionTokens(usd string) decimal.Decimal {
	return decimal.RequireFromString(usd).Div(decimal.NewFromInt(1000))
}

func credits(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultModels 内置的种子目录，可由配置或发现流程覆盖。
func DefaultModels() []ModelDescriptor {
	text := types.CapabilityTextGeneration
	return []ModelDescriptor{
		// OpenAI
		{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", ProviderID: "openai", Capability: text, Tier: 1,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.15"), PerOutputToken: perMillionTokens("0.60")}},
		{ID: "gpt-4.1-mini", DisplayName: "GPT-4.1 mini", ProviderID: "openai", Capability: text, Tier: 2,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.40"), PerOutputToken: perMillionTokens("1.60")}},
		{ID: "gpt-4o", DisplayName: "GPT-4o", ProviderID: "openai", Capability: text, Tier: 3,
			Pricing: Pricing{PerInputToken: perMillionTokens("2.50"), PerOutputToken: perMillionTokens("10")}},
		{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", ProviderID: "openai", Capability: text, Tier: 3, Deprecated: true,
			Pricing: Pricing{PerInputToken: perMillionTokens("10"), PerOutputToken: perMillionTokens("30")}},
		{ID: "gpt-4o-vision", DisplayName: "GPT-4o (vision)", ProviderID: "openai", Capability: types.CapabilityImageUnderstanding, Tier: 3,
			Pricing: Pricing{PerInputToken: perMillionTokens("2.50"), PerOutputToken: perMillionTokens("10")}},
		{ID: "text-embedding-3-small", DisplayName: "Embedding 3 small", ProviderID: "openai", Capability: types.CapabilityTextEmbedding, Tier: 1,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.02")}},
		{ID: "dall-e-3", DisplayName: "DALL·E 3", ProviderID: "openai", Capability: types.CapabilityImageGeneration, Tier: 2,
			Pricing: Pricing{PerImage: credits("40")}},
		{ID: "tts-1", DisplayName: "TTS", ProviderID: "openai", Capability: types.CapabilitySpeechSynthesis, Tier: 1,
			Pricing: Pricing{PerCharacter: credits("0.015")}},
		{ID: "whisper-1", DisplayName: "Whisper", ProviderID: "openai", Capability: types.CapabilitySpeechRecognition, Tier: 1,
			Pricing: Pricing{PerMinute: credits("6")}},

		// Anthropic
		{ID: "claude-3-5-haiku-latest", DisplayName: "Claude 3.5 Haiku", ProviderID: "anthropic", Capability: text, Tier: 1,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.80"), PerOutputToken: perMillionTokens("4")}},
		{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", ProviderID: "anthropic", Capability: text, Tier: 2,
			Pricing: Pricing{PerInputToken: perMillionTokens("3"), PerOutputToken: perMillionTokens("15")}},
		{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1", ProviderID: "anthropic", Capability: text, Tier: 3,
			Pricing: Pricing{PerInputToken: perMillionTokens("15"), PerOutputToken: perMillionTokens("75")}},

		// DeepSeek（OpenAI 兼容协议）
		{ID: "deepseek-chat", DisplayName: "DeepSeek V3", ProviderID: "deepseek", Capability: text, Tier: 1,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.27"), PerOutputToken: perMillionTokens("1.10")}},
		{ID: "deepseek-reasoner", DisplayName: "DeepSeek R1", ProviderID: "deepseek", Capability: text, Tier: 3,
			Pricing: Pricing{PerInputToken: perMillionTokens("0.55"), PerOutputToken: perMillionTokens("2.19")}},
	}
}
