// MockProvider 上游适配器的测试模拟实现。
//
// 同时实现全部能力接口，支持固定响应、流式输出、按次错误注入与延迟。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/aicore/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是上游适配器的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name string

	// 响应配置
	response     string
	streamChunks []string
	usage        llm.Usage
	reportUsage  bool
	embeddings   [][]float64
	images       []llm.GeneratedImage
	audio        []byte
	transcript   string
	duration     float64

	// 错误注入：errs 依次用于前 len(errs) 次调用，err 用于其后所有调用
	errs      []error
	err       error
	streamErr error

	// 行为控制
	delay      time.Duration
	chunkDelay time.Duration
	healthy    bool

	// 调用记录
	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Method string
	Model  string
	Error  error
}

var (
	_ llm.TextGenerator     = (*MockProvider)(nil)
	_ llm.Embedder          = (*MockProvider)(nil)
	_ llm.ImageGenerator    = (*MockProvider)(nil)
	_ llm.SpeechSynthesizer = (*MockProvider)(nil)
	_ llm.SpeechRecognizer  = (*MockProvider)(nil)
)

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:        name,
		response:    "Mock response",
		usage:       llm.Usage{InputTokens: 10, OutputTokens: 20},
		reportUsage: true,
		healthy:     true,
		transcript:  "mock transcript",
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithUsage 设置上游报告的用量
func (m *MockProvider) WithUsage(u llm.Usage) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
	m.reportUsage = true
	return m
}

// WithoutUsage 模拟上游不报告用量
func (m *MockProvider) WithoutUsage() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = llm.Usage{}
	m.reportUsage = false
	return m
}

// WithEmbeddings 设置嵌入结果
func (m *MockProvider) WithEmbeddings(v [][]float64) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = v
	return m
}

// WithImages 设置图片生成结果
func (m *MockProvider) WithImages(images ...llm.GeneratedImage) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = images
	return m
}

// WithAudio 设置语音合成结果
func (m *MockProvider) WithAudio(audio []byte) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = audio
	return m
}

// WithTranscript 设置语音识别结果与音频时长（秒）
func (m *MockProvider) WithTranscript(text string, seconds float64) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = text
	m.duration = seconds
	return m
}

// WithError 设置所有调用返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorSequence 前 len(errs) 次调用依次返回这些错误（nil 表示该次成功）
func (m *MockProvider) WithErrorSequence(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	return m
}

// WithStreamError 流在发送完分块后以该错误结束
func (m *MockProvider) WithStreamError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithDelay 设置每次调用前的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithChunkDelay 设置流式分块之间的间隔
func (m *MockProvider) WithChunkDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkDelay = d
	return m
}

// WithHealthy 设置健康检查结果
func (m *MockProvider) WithHealthy(healthy bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	return m
}

// --- 查询方法 ---

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastModel 返回最近一次调用的模型
func (m *MockProvider) LastModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1].Model
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// --- 适配器接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return m.name }

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.Lock()
	healthy := m.healthy
	m.mu.Unlock()
	return &llm.HealthStatus{Healthy: healthy, Latency: time.Millisecond}, nil
}

// begin 记录调用并返回本次应注入的错误
func (m *MockProvider) begin(ctx context.Context, method, model string) error {
	m.mu.Lock()
	delay := m.delay
	var err error
	if n := len(m.calls); n < len(m.errs) {
		err = m.errs[n]
	} else {
		err = m.err
	}
	m.calls = append(m.calls, MockProviderCall{Method: method, Model: model, Error: err})
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Generate 生成文本
func (m *MockProvider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	if err := m.begin(ctx, "generate", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &llm.TextResponse{
		ID:           "mock-response-id",
		Provider:     m.name,
		Model:        req.Model,
		Content:      m.response,
		FinishReason: "stop",
		Usage:        m.usage,
		CreatedAt:    time.Now(),
	}, nil
}

// GenerateStream 流式生成文本；未设置分块时把固定响应作为单个分块
func (m *MockProvider) GenerateStream(ctx context.Context, req *llm.TextRequest) (llm.Stream, error) {
	if err := m.begin(ctx, "generate_stream", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	chunks := append([]string(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	usage, report := m.usage, m.reportUsage
	streamErr, chunkDelay := m.streamErr, m.chunkDelay
	m.mu.Unlock()

	st := llm.NewPipeStream(0)
	go func() {
		for i, c := range chunks {
			if chunkDelay > 0 && i > 0 {
				select {
				case <-ctx.Done():
					st.Finish(nil, ctx.Err())
					return
				case <-time.After(chunkDelay):
				}
			}
			chunk := llm.StreamChunk{ID: "mock-stream", Model: req.Model, Delta: c}
			if i == len(chunks)-1 && streamErr == nil {
				chunk.FinishReason = "stop"
			}
			if !st.Send(ctx, chunk) {
				st.Finish(nil, ctx.Err())
				return
			}
		}
		if streamErr != nil {
			st.Finish(nil, streamErr)
			return
		}
		if report {
			st.Finish(&usage, nil)
			return
		}
		st.Finish(nil, nil)
	}()
	return st, nil
}

// Embed 生成向量
func (m *MockProvider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if err := m.begin(ctx, "embed", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vectors := m.embeddings
	if vectors == nil {
		vectors = make([][]float64, len(req.Inputs))
		for i := range vectors {
			vectors[i] = []float64{float64(i), 0.5}
		}
	}
	u := m.usage
	u.OutputTokens = 0
	return &llm.EmbeddingResponse{Provider: m.name, Model: req.Model, Embeddings: vectors, Usage: u}, nil
}

// GenerateImage 生成图片
func (m *MockProvider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if err := m.begin(ctx, "generate_image", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	images := m.images
	if images == nil {
		n := req.N
		if n <= 0 {
			n = 1
		}
		images = make([]llm.GeneratedImage, n)
		for i := range images {
			images[i] = llm.GeneratedImage{URL: "https://mock.invalid/image.png"}
		}
	}
	var u llm.Usage
	if m.reportUsage {
		u.ImageCount = len(images)
	}
	return &llm.ImageResponse{Provider: m.name, Model: req.Model, Images: images, Usage: u}, nil
}

// Synthesize 合成语音
func (m *MockProvider) Synthesize(ctx context.Context, req *llm.SpeechRequest) (*llm.SpeechResponse, error) {
	if err := m.begin(ctx, "synthesize", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	audio := m.audio
	if audio == nil {
		audio = []byte("ID3")
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	var u llm.Usage
	if m.reportUsage {
		u.CharacterCount = len([]rune(req.Text))
	}
	return &llm.SpeechResponse{Provider: m.name, Model: req.Model, Audio: audio, Format: format, Usage: u}, nil
}

// Transcribe 识别语音
func (m *MockProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResponse, error) {
	if err := m.begin(ctx, "transcribe", req.Model); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var u llm.Usage
	if m.reportUsage && m.duration > 0 {
		u.AudioSeconds = m.duration
	}
	return &llm.TranscriptionResponse{
		Provider: m.name,
		Model:    req.Model,
		Text:     m.transcript,
		Duration: m.duration,
		Usage:    u,
	}, nil
}
