package llm

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MediaType 消息附带的媒体类型
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
)

// MediaPart 附加在消息上的媒体片段，URL 与 Data 二选一。
type MediaPart struct {
	Type     MediaType `json:"type"`
	URL      string    `json:"url,omitempty"`
	Data     string    `json:"data,omitempty"` // base64
	MIMEType string    `json:"mime_type,omitempty"`
}

type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content"`
	Parts   []MediaPart `json:"parts,omitempty"`
}

// HasMedia 判断消息是否带有指定类型的媒体，空类型表示任意媒体。
func (m Message) HasMedia(t MediaType) bool {
	for _, p := range m.Parts {
		if t == "" || p.Type == t {
			return true
		}
	}
	return false
}

// Usage 一次调用的实际用量。字段按能力使用，未用到的保持零值。
type Usage struct {
	InputTokens    int     `json:"input_tokens,omitempty"`
	OutputTokens   int     `json:"output_tokens,omitempty"`
	ImageCount     int     `json:"image_count,omitempty"`
	CharacterCount int     `json:"character_count,omitempty"`
	AudioSeconds   float64 `json:"audio_seconds,omitempty"`
	// Estimated 为 true 表示上游未返回用量，由适配器本地估算。
	Estimated bool `json:"estimated,omitempty"`
}

// TotalTokens 输入与输出 token 之和
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Adapter 所有上游适配器的公共部分。
type Adapter interface {
	// Name 返回 Provider 的唯一标识
	Name() string

	// HealthCheck 执行轻量级健康检查，返回延迟与可用性信息。
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

type TextRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type TextResponse struct {
	ID           string    `json:"id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        Usage     `json:"usage"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// StreamChunk 流式增量
type StreamChunk struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// TextGenerator 文本生成适配器。图像理解同样走这个接口，图片放在 Message.Parts 中。
type TextGenerator interface {
	Adapter

	// Generate 阻塞调用，返回完整响应
	Generate(ctx context.Context, req *TextRequest) (*TextResponse, error)

	// GenerateStream 建立流式连接。返回错误表示连接阶段失败。
	GenerateStream(ctx context.Context, req *TextRequest) (Stream, error)
}

type EmbeddingRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type EmbeddingResponse struct {
	Provider   string      `json:"provider,omitempty"`
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
}

// Embedder 文本嵌入适配器
type Embedder interface {
	Adapter
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

type ImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // url, b64_json
}

// GeneratedImage 单张生成结果
type GeneratedImage struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type ImageResponse struct {
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model"`
	Images   []GeneratedImage `json:"images"`
	Usage    Usage            `json:"usage"`
}

// ImageGenerator 图像生成适配器
type ImageGenerator interface {
	Adapter
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

type SpeechRequest struct {
	Model  string  `json:"model"`
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"format,omitempty"` // mp3, opus, aac, flac, wav, pcm
	Speed  float64 `json:"speed,omitempty"`
}

type SpeechResponse struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model"`
	Audio    []byte `json:"-"`
	Format   string `json:"format"`
	Usage    Usage  `json:"usage"`
}

// SpeechSynthesizer 语音合成适配器
type SpeechSynthesizer interface {
	Adapter
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResponse, error)
}

type TranscriptionRequest struct {
	Model    string `json:"model"`
	Audio    []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	// DeclaredSeconds 调用方声明的音频时长，上游未返回时长时用于计费。
	DeclaredSeconds float64 `json:"declared_seconds,omitempty"`
}

type TranscriptionResponse struct {
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model"`
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Usage    Usage   `json:"usage"`
}

// SpeechRecognizer 语音识别适配器
type SpeechRecognizer interface {
	Adapter
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResponse, error)
}
