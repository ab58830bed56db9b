package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/aicore/internal/tlsutil"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/providers"
	"github.com/BaSui01/aicore/types"
	"go.uber.org/zap"
)

const providerName = "openai"

// OpenAIProvider 使用 OpenAI DALL-E 执行图像生成.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

var _ llm.ImageGenerator = (*OpenAIProvider)(nil)

// NewOpenAIProvider 创建新的 OpenAI 图像提供商.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", providerName), zap.String("capability", "image-generation")),
	}
}

func (p *OpenAIProvider) Name() string { return providerName }

func (p *OpenAIProvider) SupportedSizes() []string {
	return []string{"1024x1024", "1792x1024", "1024x1792"}
}

func (p *OpenAIProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	providers.BearerTokenHeaders(req, p.cfg.APIKey)
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return providers.ProbeGET(ctx, p.client, p.endpoint("/v1/models"), p.setHeaders, providerName)
}

type dalleRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type dalleResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// GenerateImage 从文本提示生成图像 。
func (p *OpenAIProvider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required").WithProvider(providerName)
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, "dall-e-3")

	body := dalleRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              req.N,
		Size:           req.Size,
		Quality:        req.Quality,
		Style:          req.Style,
		ResponseFormat: req.ResponseFormat,
	}
	if body.N <= 0 {
		body.N = 1
	}
	if body.Size == "" {
		body.Size = "1024x1024"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/images/generations"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var dResp dalleResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, providers.DecodeError(err, providerName)
	}

	images := make([]llm.GeneratedImage, len(dResp.Data))
	for i, d := range dResp.Data {
		images[i] = llm.GeneratedImage{
			URL:           d.URL,
			B64JSON:       d.B64JSON,
			RevisedPrompt: d.RevisedPrompt,
		}
	}
	p.logger.Debug("image generated",
		zap.String("model", model),
		zap.Int("images", len(images)),
		zap.Duration("latency", time.Since(start)))

	return &llm.ImageResponse{
		Provider: providerName,
		Model:    model,
		Images:   images,
		Usage:    llm.Usage{ImageCount: len(images)},
	}, nil
}
