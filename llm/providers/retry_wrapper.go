package providers

import (
	"context"
	"fmt"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/retry"
	"github.com/BaSui01/aicore/types"
)

// WithRetry 按能力为适配器套上重试装饰器。
// 流式调用只重试连接建立阶段，流开始后的错误不重试。
func WithRetry(capability types.Capability, a llm.Adapter, r retry.Retryer) (llm.Adapter, error) {
	switch capability {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		if g, ok := a.(llm.TextGenerator); ok {
			return &RetryableTextGenerator{inner: g, retryer: r}, nil
		}
	case types.CapabilityTextEmbedding:
		if e, ok := a.(llm.Embedder); ok {
			return &RetryableEmbedder{inner: e, retryer: r}, nil
		}
	case types.CapabilityImageGeneration:
		if g, ok := a.(llm.ImageGenerator); ok {
			return &RetryableImageGenerator{inner: g, retryer: r}, nil
		}
	case types.CapabilitySpeechSynthesis:
		if s, ok := a.(llm.SpeechSynthesizer); ok {
			return &RetryableSynthesizer{inner: s, retryer: r}, nil
		}
	case types.CapabilitySpeechRecognition:
		if s, ok := a.(llm.SpeechRecognizer); ok {
			return &RetryableRecognizer{inner: s, retryer: r}, nil
		}
	}
	return nil, fmt.Errorf("adapter %q does not implement %s", a.Name(), capability)
}

// RetryableTextGenerator wraps an llm.TextGenerator with retry logic.
type RetryableTextGenerator struct {
	inner   llm.TextGenerator
	retryer retry.Retryer
}

var _ llm.TextGenerator = (*RetryableTextGenerator)(nil)

func (p *RetryableTextGenerator) Name() string { return p.inner.Name() }
func (p *RetryableTextGenerator) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableTextGenerator) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.TextResponse, error) {
		return p.inner.Generate(ctx, req)
	})
}

func (p *RetryableTextGenerator) GenerateStream(ctx context.Context, req *llm.TextRequest) (llm.Stream, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (llm.Stream, error) {
		return p.inner.GenerateStream(ctx, req)
	})
}

// RetryableEmbedder wraps an llm.Embedder with retry logic.
type RetryableEmbedder struct {
	inner   llm.Embedder
	retryer retry.Retryer
}

func (p *RetryableEmbedder) Name() string { return p.inner.Name() }
func (p *RetryableEmbedder) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableEmbedder) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.EmbeddingResponse, error) {
		return p.inner.Embed(ctx, req)
	})
}

// RetryableImageGenerator wraps an llm.ImageGenerator with retry logic.
type RetryableImageGenerator struct {
	inner   llm.ImageGenerator
	retryer retry.Retryer
}

func (p *RetryableImageGenerator) Name() string { return p.inner.Name() }
func (p *RetryableImageGenerator) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableImageGenerator) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.ImageResponse, error) {
		return p.inner.GenerateImage(ctx, req)
	})
}

// RetryableSynthesizer wraps an llm.SpeechSynthesizer with retry logic.
type RetryableSynthesizer struct {
	inner   llm.SpeechSynthesizer
	retryer retry.Retryer
}

func (p *RetryableSynthesizer) Name() string { return p.inner.Name() }
func (p *RetryableSynthesizer) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableSynthesizer) Synthesize(ctx context.Context, req *llm.SpeechRequest) (*llm.SpeechResponse, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.SpeechResponse, error) {
		return p.inner.Synthesize(ctx, req)
	})
}

// RetryableRecognizer wraps an llm.SpeechRecognizer with retry logic.
type RetryableRecognizer struct {
	inner   llm.SpeechRecognizer
	retryer retry.Retryer
}

func (p *RetryableRecognizer) Name() string { return p.inner.Name() }
func (p *RetryableRecognizer) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableRecognizer) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResponse, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.TranscriptionResponse, error) {
		return p.inner.Transcribe(ctx, req)
	})
}
