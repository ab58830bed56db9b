package anthropic

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
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Config Claude 适配器配置
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// ClaudeProvider 实现 llm.TextGenerator
type ClaudeProvider struct {
	cfg          Config
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

var _ llm.TextGenerator = (*ClaudeProvider)(nil)

// NewClaudeProvider 创建 Claude 适配器
func NewClaudeProvider(cfg Config, logger *zap.Logger) *ClaudeProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-haiku-latest"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeProvider{
		cfg:          cfg,
		client:       tlsutil.SecureHTTPClient(timeout),
		streamClient: tlsutil.StreamingHTTPClient(timeout),
		logger:       logger.With(zap.String("provider", "anthropic")),
	}
}

func (p *ClaudeProvider) Name() string { return "anthropic" }

func (p *ClaudeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(req)

	resp, err := p.client.Do(req)
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

type claudeImageSource struct {
	Type      string `json:"type"` // base64, url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type claudeContent struct {
	Type   string             `json:"type"` // text, image
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"` // user 或 assistant
	Content []claudeContent `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

type claudeDelta struct {
	Type       string `json:"type"` // text_delta
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type claudeStreamEvent struct {
	Type    string          `json:"type"`
	Delta   *claudeDelta    `json:"delta,omitempty"`
	Message *claudeResponse `json:"message,omitempty"`
	Usage   *claudeUsage    `json:"usage,omitempty"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *ClaudeProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *ClaudeProvider) buildHeaders(req *http.Request) {
	// Claude 使用 x-api-key 认证
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
}

// convertMessages system 消息合并到 system 字段，图片转为 image 块。
func convertMessages(msgs []llm.Message) (string, []claudeMessage) {
	var system []string
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		cm := claudeMessage{Role: string(m.Role)}
		for _, part := range m.Parts {
			if part.Type != llm.MediaImage {
				continue
			}
			src := &claudeImageSource{Type: "url", URL: part.URL}
			if part.URL == "" {
				src = &claudeImageSource{Type: "base64", MediaType: part.MIMEType, Data: part.Data}
			}
			cm.Content = append(cm.Content, claudeContent{Type: "image", Source: src})
		}
		if m.Content != "" {
			cm.Content = append(cm.Content, claudeContent{Type: "text", Text: m.Content})
		}
		if len(cm.Content) > 0 {
			out = append(out, cm)
		}
	}
	return strings.Join(system, "\n\n"), out
}

func (p *ClaudeProvider) buildBody(req *llm.TextRequest, stream bool) claudeRequest {
	system, msgs := convertMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return claudeRequest{
		Model:       providers.ChooseModel(req.Model, p.cfg.DefaultModel, ""),
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		StopSeq:     req.Stop,
		Stream:      stream,
	}
}

func (p *ClaudeProvider) post(ctx context.Context, body claudeRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	client := p.client
	if body.Stream {
		client = p.streamClient
	}
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

func (p *ClaudeProvider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}

	var text strings.Builder
	for _, c := range cr.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	out := &llm.TextResponse{
		ID:           cr.ID,
		Provider:     p.Name(),
		Model:        cr.Model,
		Content:      text.String(),
		FinishReason: cr.StopReason,
		CreatedAt:    time.Now(),
	}
	if cr.Usage != nil {
		out.Usage = llm.Usage{InputTokens: cr.Usage.InputTokens, OutputTokens: cr.Usage.OutputTokens}
	}
	return out, nil
}

func (p *ClaudeProvider) GenerateStream(ctx context.Context, req *llm.TextRequest) (llm.Stream, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	out := llm.NewPipeStream(16)
	go p.consumeSSE(ctx, resp.Body, out)
	return out, nil
}

// consumeSSE Claude SSE 格式：event: <type>\ndata: <json>，以 data 行中的 type 为准。
func (p *ClaudeProvider) consumeSSE(ctx context.Context, body io.ReadCloser, out *llm.PipeStream) {
	defer providers.SafeCloseBody(body)

	var (
		id, model string
		usage     llm.Usage
		started   bool
		stopped   bool
	)
	reader := bufio.NewReader(body)
	for !stopped {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				out.Finish(nil, ctx.Err())
				return
			}
			if err == io.EOF {
				break
			}
			out.Finish(nil, providers.MapTransportError(err, p.Name()))
			return
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event claudeStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			out.Finish(nil, providers.DecodeError(err, p.Name()))
			return
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				id, model = event.Message.ID, event.Message.Model
				if event.Message.Usage != nil {
					usage.InputTokens = event.Message.Usage.InputTokens
					usage.OutputTokens = event.Message.Usage.OutputTokens
				}
			}
			started = true
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if !out.Send(ctx, llm.StreamChunk{ID: id, Model: model, Delta: event.Delta.Text}) {
					out.Finish(nil, ctx.Err())
					return
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta != nil && event.Delta.StopReason != "" {
				if !out.Send(ctx, llm.StreamChunk{ID: id, Model: model, FinishReason: event.Delta.StopReason}) {
					out.Finish(nil, ctx.Err())
					return
				}
			}
		case "message_stop":
			stopped = true
		case "error":
			msg := "stream error"
			status := http.StatusBadGateway
			if event.Error != nil {
				msg = event.Error.Message
				if event.Error.Type == "overloaded_error" {
					status = 529
				}
			}
			out.Finish(nil, providers.MapHTTPError(status, msg, p.Name()))
			return
		}
	}

	if !started {
		out.Finish(nil, providers.DecodeError(fmt.Errorf("stream ended before message_start"), p.Name()))
		return
	}
	if !stopped {
		out.Finish(nil, providers.TruncatedStreamError(p.Name(), "message_stop"))
		return
	}
	out.Finish(&usage, nil)
}
