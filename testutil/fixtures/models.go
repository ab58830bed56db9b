// Package fixtures 提供测试用的模型目录与对话样例。
package fixtures

import (
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// 测试目录中的 provider 与模型
const (
	ProviderMock  = "mock"
	ProviderOther = "other"

	ModelMini   types.ModelID = "mock-mini"   // text tier 1
	ModelMedium types.ModelID = "mock-medium" // text tier 2
	ModelLarge  types.ModelID = "mock-large"  // text tier 3
	ModelOther  types.ModelID = "other-large" // text tier 3, other provider
	ModelEmbed  types.ModelID = "mock-embed"
	ModelImage  types.ModelID = "mock-image"
	ModelVision types.ModelID = "mock-vision"
	ModelTTS    types.ModelID = "mock-tts"
	ModelSTT    types.ModelID = "mock-stt"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Models 返回覆盖全部能力的分档目录。价格单位为 credits。
func Models() []catalog.ModelDescriptor {
	text := func(id types.ModelID, provider string, tier int, in, out string) catalog.ModelDescriptor {
		return catalog.ModelDescriptor{
			ID: id, DisplayName: string(id), ProviderID: provider,
			Capability: types.CapabilityTextGeneration, Tier: tier,
			Pricing: catalog.Pricing{PerInputToken: dec(in), PerOutputToken: dec(out)},
		}
	}
	return []catalog.ModelDescriptor{
		text(ModelMini, ProviderMock, 1, "0.001", "0.002"),
		text(ModelMedium, ProviderMock, 2, "0.01", "0.02"),
		text(ModelLarge, ProviderMock, 3, "0.1", "0.2"),
		text(ModelOther, ProviderOther, 3, "0.05", "0.1"),
		{ID: ModelEmbed, DisplayName: "embed", ProviderID: ProviderMock, Capability: types.CapabilityTextEmbedding, Tier: 1,
			Pricing: catalog.Pricing{PerInputToken: dec("0.0001")}},
		{ID: ModelImage, DisplayName: "image", ProviderID: ProviderMock, Capability: types.CapabilityImageGeneration, Tier: 2,
			Pricing: catalog.Pricing{PerImage: dec("40")}},
		{ID: ModelVision, DisplayName: "vision", ProviderID: ProviderMock, Capability: types.CapabilityImageUnderstanding, Tier: 3,
			Pricing: catalog.Pricing{PerInputToken: dec("0.01"), PerOutputToken: dec("0.02")}},
		{ID: ModelTTS, DisplayName: "tts", ProviderID: ProviderMock, Capability: types.CapabilitySpeechSynthesis, Tier: 1,
			Pricing: catalog.Pricing{PerCharacter: dec("0.015")}},
		{ID: ModelSTT, DisplayName: "stt", ProviderID: ProviderMock, Capability: types.CapabilitySpeechRecognition, Tier: 1,
			Pricing: catalog.Pricing{PerMinute: dec("6")}},
	}
}

// UserMessage 单条用户消息
func UserMessage(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

// Conversation 交替的用户/助手消息，最后一条为用户消息
func Conversation(turns ...string) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for i, t := range turns {
		role := llm.RoleUser
		if (len(turns)-1-i)%2 == 1 {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t})
	}
	return msgs
}

// WithImage 给最后一条消息附加图片
func WithImage(msgs []llm.Message, url string) []llm.Message {
	out := append([]llm.Message(nil), msgs...)
	last := out[len(out)-1]
	last.Parts = append(append([]llm.MediaPart(nil), last.Parts...), llm.MediaPart{Type: llm.MediaImage, URL: url})
	out[len(out)-1] = last
	return out
}
