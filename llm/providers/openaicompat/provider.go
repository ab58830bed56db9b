package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/aicore/internal/tlsutil"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/providers"
	"github.com/BaSui01/aicore/llm/tokenizer"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g., "openai", "deepseek").
	ProviderName string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL is the base URL for the provider's API (e.g., "https://api.deepseek.com").
	BaseURL string

	// DefaultModel is the model to use when none is specified in the request.
	DefaultModel string

	// FallbackModel is used when both request and DefaultModel are empty.
	FallbackModel string

	// Timeout is the per-call HTTP budget. Defaults to 30s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// EmbeddingsPath defaults to "/v1/embeddings".
	EmbeddingsPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider implements llm.TextGenerator and llm.Embedder for OpenAI-compatible APIs.
type Provider struct {
	Cfg    Config
	Client *http.Client

	// StreamClient 流式请求专用，只限制响应头等待时间
	StreamClient *http.Client
	Logger       *zap.Logger
	Tokens       *tokenizer.Registry
}

var (
	_ llm.TextGenerator = (*Provider)(nil)
	_ llm.Embedder      = (*Provider)(nil)
)

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.EmbeddingsPath == "" {
		cfg.EmbeddingsPath = "/v1/embeddings"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:          cfg,
		Client:       tlsutil.SecureHTTPClient(timeout),
		StreamClient: tlsutil.StreamingHTTPClient(timeout),
		Logger:       logger.With(zap.String("provider", cfg.ProviderName)),
		Tokens:       tokenizer.NewRegistry(),
	}
}

// WithTokenizer 替换用于估算缺失用量的分词器注册表
func (p *Provider) WithTokenizer(r *tokenizer.Registry) *Provider {
	if r != nil {
		p.Tokens = r
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// SetBuildHeaders sets custom header builder for the provider.
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
		return
	}
	providers.BearerTokenHeaders(req, p.Cfg.APIKey)
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

// HealthCheck verifies the provider is reachable.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapTransportError(err, p.Name())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) buildBody(req *llm.TextRequest, stream bool) providers.OpenAICompatRequest {
	body := providers.OpenAICompatRequest{
		Model:       providers.ChooseModel(req.Model, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &providers.OpenAICompatStreamOptions{IncludeUsage: true}
	}
	return body
}

// post 发送 JSON 请求，非 2xx 时映射为 taxonomy 错误并关闭响应体。
func (p *Provider) post(ctx context.Context, client *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

// Generate performs a non-streaming chat completion.
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	body := p.buildBody(req, false)
	resp, err := p.post(ctx, p.Client, p.Cfg.EndpointPath, body)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}

	result := providers.ToTextResponse(oaResp, p.Name())
	if result.Model == "" {
		result.Model = body.Model
	}
	if oaResp.Usage == nil {
		result.Usage = p.estimateUsage(body.Model, req.Messages, result.Content)
	}
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}

// GenerateStream performs a streaming chat completion via SSE.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (llm.Stream, error) {
	body := p.buildBody(req, true)
	resp, err := p.post(ctx, p.StreamClient, p.Cfg.EndpointPath, body)
	if err != nil {
		return nil, err
	}

	estimate := func(content string) llm.Usage {
		return p.estimateUsage(body.Model, req.Messages, content)
	}
	return StreamSSE(ctx, resp.Body, p.Name(), estimate), nil
}

// Embed 调用 embeddings 接口
func (p *Provider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	model := providers.ChooseModel(req.Model, "", "text-embedding-3-small")
	resp, err := p.post(ctx, p.Client, p.Cfg.EmbeddingsPath, map[string]any{
		"model": model,
		"input": req.Inputs,
	})
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var oaResp struct {
		Model string `json:"model"`
		Data  []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage *providers.OpenAICompatUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}

	out := &llm.EmbeddingResponse{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: make([][]float64, len(req.Inputs)),
	}
	for _, d := range oaResp.Data {
		if d.Index >= 0 && d.Index < len(out.Embeddings) {
			out.Embeddings[d.Index] = d.Embedding
		}
	}
	if oaResp.Usage != nil {
		out.Usage.InputTokens = oaResp.Usage.PromptTokens
	} else {
		for _, in := range req.Inputs {
			out.Usage.InputTokens += p.Tokens.CountText(model, in)
		}
		out.Usage.Estimated = true
	}
	return out, nil
}

func (p *Provider) estimateUsage(model string, msgs []llm.Message, output string) llm.Usage {
	tm := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		tm[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return llm.Usage{
		InputTokens:  p.Tokens.CountMessages(model, tm),
		OutputTokens: p.Tokens.CountText(model, output),
		Estimated:    true,
	}
}

// StreamSSE 解析 OpenAI 兼容的 SSE 流。
// 末尾的 usage 帧（choices 为空）被记录为最终用量；上游没有给出时调用 estimate。
// 既没有 [DONE] 也没有 usage 帧就断开的流以可重试错误结束。
// ctx 取消时流以 ctx.Err() 结束且不报告用量。
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string, estimate func(content string) llm.Usage) llm.Stream {
	out := llm.NewPipeStream(16)
	go func() {
		defer providers.SafeCloseBody(body)

		var content strings.Builder
		var usage *llm.Usage
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if ctx.Err() != nil {
					out.Finish(nil, ctx.Err())
					return
				}
				if err != io.EOF {
					out.Finish(nil, providers.MapTransportError(err, providerName))
					return
				}
				// 没有 [DONE] 也没有 usage 帧的 EOF 视为截断
				if usage == nil {
					out.Finish(nil, providers.TruncatedStreamError(providerName, "[DONE]"))
					return
				}
				break
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var oaResp providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				out.Finish(nil, providers.DecodeError(err, providerName))
				return
			}
			if oaResp.Usage != nil {
				usage = &llm.Usage{
					InputTokens:  oaResp.Usage.PromptTokens,
					OutputTokens: oaResp.Usage.CompletionTokens,
				}
			}
			for _, choice := range oaResp.Choices {
				chunk := llm.StreamChunk{
					ID:           oaResp.ID,
					Model:        oaResp.Model,
					FinishReason: choice.FinishReason,
				}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if chunk.Delta == "" && chunk.FinishReason == "" {
					continue
				}
				content.WriteString(chunk.Delta)
				if !out.Send(ctx, chunk) {
					out.Finish(nil, ctx.Err())
					return
				}
			}
		}

		if usage == nil && estimate != nil {
			u := estimate(content.String())
			usage = &u
		}
		out.Finish(usage, nil)
	}()
	return out
}
