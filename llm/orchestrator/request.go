package orchestrator

import (
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/router"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// Request 一次编排请求，负载字段按能力取用
type Request struct {
	// RequestID 为空时从 context 读取，仍为空则生成
	RequestID  string
	Capability types.Capability
	// Model 为空时使用该能力的默认模型
	Model string

	// text-generation / image-understanding
	Messages []llm.Message
	// image-generation
	Prompt string
	// speech-synthesis
	Text string
	// speech-recognition
	Audio         []byte
	AudioFilename string
	// AudioSeconds 调用方声明的音频时长，仅用于预估
	AudioSeconds float64
	// text-embedding
	Inputs []string

	Identity       metering.Identity
	ConversationID string
	// SmartRouting 为 nil 时取编排器默认值
	SmartRouting *bool

	Options Options
}

// Options 透传给适配器的生成参数
type Options struct {
	MaxTokens   int
	Temperature float32
	Stop        []string

	// image-generation
	N       int
	Size    string
	Quality string
	Style   string

	// speech
	Voice    string
	Format   string
	Speed    float64
	Language string
}

// Response 编排结果
type Response struct {
	RequestID      string
	Capability     types.Capability
	Model          types.ModelID
	RequestedModel types.ModelID
	Provider       string

	Content      string
	FinishReason string
	Images       []llm.GeneratedImage
	Audio        []byte
	AudioFormat  string
	Embeddings   [][]float64

	Usage       llm.Usage
	CreditsUsed decimal.Decimal
	// NewBalance 扣费后的钱包余额；缓存命中未扣费时为 nil
	NewBalance *decimal.Decimal
	Cached     bool

	Complexity router.Complexity
	Routing    router.Reason
}

// validate 校验能力与负载，返回规范化后的能力
func (r *Request) validate() (types.Capability, error) {
	if r == nil {
		return "", invalid("request is nil")
	}
	capability, err := types.ParseCapability(string(r.Capability))
	if err != nil {
		return "", err
	}
	switch capability {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		if len(r.Messages) == 0 {
			return "", invalid("messages must not be empty")
		}
		last := r.Messages[len(r.Messages)-1]
		if strings.TrimSpace(last.Content) == "" && len(last.Parts) == 0 {
			return "", invalid("last message must carry text or media")
		}
		if capability == types.CapabilityImageUnderstanding && !hasMedia(r.Messages, llm.MediaImage) {
			return "", invalid("image-understanding requires an image part")
		}
	case types.CapabilityTextEmbedding:
		if len(r.Inputs) == 0 {
			return "", invalid("inputs must not be empty")
		}
	case types.CapabilityImageGeneration:
		if strings.TrimSpace(r.Prompt) == "" {
			return "", invalid("prompt must not be empty")
		}
		if r.Options.N < 0 {
			return "", invalid("n must not be negative")
		}
	case types.CapabilitySpeechSynthesis:
		if strings.TrimSpace(r.Text) == "" {
			return "", invalid("text must not be empty")
		}
	case types.CapabilitySpeechRecognition:
		if len(r.Audio) == 0 {
			return "", invalid("audio must not be empty")
		}
	}
	return capability, nil
}

// estimateInput 预估与补齐用量所需的请求内容
func (r *Request) estimateInput() metering.EstimateInput {
	n := r.Options.N
	if n <= 0 {
		n = 1
	}
	return metering.EstimateInput{
		Messages:     r.Messages,
		Inputs:       r.Inputs,
		ImageCount:   n,
		Text:         r.Text,
		AudioSeconds: r.AudioSeconds,
	}
}

// routingMessages 路由分类用的消息；非对话类能力以主要文本构造单条消息
func (r *Request) routingMessages() []llm.Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	var text string
	switch {
	case r.Prompt != "":
		text = r.Prompt
	case r.Text != "":
		text = r.Text
	case len(r.Inputs) > 0:
		text = strings.Join(r.Inputs, "\n")
	}
	if text == "" || !utf8.ValidString(text) {
		return nil
	}
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func hasMedia(msgs []llm.Message, t llm.MediaType) bool {
	for _, m := range msgs {
		if m.HasMedia(t) {
			return true
		}
	}
	return false
}

func invalid(msg string) *types.Error {
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(400)
}
