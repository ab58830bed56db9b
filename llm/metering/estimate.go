package metering

import (
	"math"
	"unicode/utf8"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/tokenizer"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// DefaultDeclaredSeconds 语音识别未声明时长时的预估秒数
const DefaultDeclaredSeconds = 60

// EstimateInput 预估所需的请求内容，按能力取用
type EstimateInput struct {
	Messages     []llm.Message
	Inputs       []string // text-embedding
	ImageCount   int      // image-generation，<=0 视为 1
	Text         string   // speech-synthesis
	AudioSeconds float64  // speech-recognition，<=0 视为 60
}

// Estimator 调用前的保守预估
type Estimator struct {
	pricer *Pricer
	tokens *tokenizer.Registry

	// OutputRatio 文本输出 token 预估 = 输入 token * OutputRatio，默认 1
	OutputRatio float64
}

func NewEstimator(pricer *Pricer, tokens *tokenizer.Registry) *Estimator {
	if tokens == nil {
		tokens = tokenizer.NewRegistry()
	}
	return &Estimator{pricer: pricer, tokens: tokens, OutputRatio: 1}
}

// EstimateUsage 预估用量，Estimated 恒为 true
func (e *Estimator) EstimateUsage(capability types.Capability, modelID types.ModelID, in EstimateInput) llm.Usage {
	u := llm.Usage{Estimated: true}
	switch capability {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		// 输出按与输入等长估算
		n := e.tokens.CountMessages(string(modelID), toTokenizerMessages(in.Messages))
		u.InputTokens = n
		u.OutputTokens = n
		if e.OutputRatio > 0 && e.OutputRatio != 1 {
			u.OutputTokens = int(math.Ceil(float64(n) * e.OutputRatio))
		}
	case types.CapabilityTextEmbedding:
		for _, s := range in.Inputs {
			u.InputTokens += e.tokens.CountText(string(modelID), s)
		}
	case types.CapabilityImageGeneration:
		u.ImageCount = in.ImageCount
		if u.ImageCount <= 0 {
			u.ImageCount = 1
		}
	case types.CapabilitySpeechSynthesis:
		u.CharacterCount = utf8.RuneCountInString(in.Text)
	case types.CapabilitySpeechRecognition:
		u.AudioSeconds = in.AudioSeconds
		if u.AudioSeconds <= 0 {
			u.AudioSeconds = DefaultDeclaredSeconds
		}
	}
	return u
}

// Estimate 预估用量与 credits
func (e *Estimator) Estimate(capability types.Capability, modelID types.ModelID, in EstimateInput) (llm.Usage, decimal.Decimal) {
	u := e.EstimateUsage(capability, modelID, in)
	return u, e.pricer.Price(capability, modelID, u)
}

// CompleteUsage 上游未报告计费单位时按请求与输出补齐，补齐的用量 Estimated 为 true。
// 已报告的用量原样返回。
func (e *Estimator) CompleteUsage(capability types.Capability, modelID types.ModelID, in EstimateInput, output string, reported llm.Usage) llm.Usage {
	u := reported
	switch capability {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		if u.InputTokens > 0 || u.OutputTokens > 0 {
			return u
		}
		u.InputTokens = e.tokens.CountMessages(string(modelID), toTokenizerMessages(in.Messages))
		u.OutputTokens = e.tokens.CountText(string(modelID), output)
	case types.CapabilityTextEmbedding:
		if u.InputTokens > 0 {
			return u
		}
		for _, s := range in.Inputs {
			u.InputTokens += e.tokens.CountText(string(modelID), s)
		}
	case types.CapabilityImageGeneration:
		if u.ImageCount > 0 {
			return u
		}
		u.ImageCount = in.ImageCount
	case types.CapabilitySpeechSynthesis:
		if u.CharacterCount > 0 {
			return u
		}
		u.CharacterCount = utf8.RuneCountInString(in.Text)
	case types.CapabilitySpeechRecognition:
		if u.AudioSeconds > 0 {
			return u
		}
		u.AudioSeconds = in.AudioSeconds
		if u.AudioSeconds <= 0 {
			u.AudioSeconds = DefaultDeclaredSeconds
		}
	default:
		return u
	}
	u.Estimated = true
	return u
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
