package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
)

var contentPolicyMarkers = []string{"content_policy", "content policy", "content_filter", "safety system", "flagged"}

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
// 这是所有适配器使用的通用错误映射函数
func MapHTTPError(status int, msg string, provider string) *types.Error {
	mk := func(code types.ErrorCode, retryable bool) *types.Error {
		return types.NewError(code, msg).
			WithHTTPStatus(status).
			WithRetryable(retryable).
			WithProvider(provider)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// 凭证问题重试无意义
		return mk(types.ErrProviderError, false)
	case http.StatusNotFound:
		return mk(types.ErrModelUnavailable, false)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return mk(types.ErrTimeout, true)
	case http.StatusTooManyRequests:
		return mk(types.ErrRateLimited, true)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if isContentPolicy(msg) {
			return mk(types.ErrContentFiltered, false)
		}
		return mk(types.ErrInvalidRequest, false)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return mk(types.ErrProviderError, true)
	case 529: // Model overloaded (used by some providers)
		return mk(types.ErrProviderError, true)
	default:
		if status >= 500 {
			return mk(types.ErrProviderError, true)
		}
		return mk(types.ErrInvalidRequest, false)
	}
}

func isContentPolicy(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range contentPolicyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// MapTransportError 将网络层错误映射为 taxonomy。
// 调用方取消原样返回，不视为上游故障。
func MapTransportError(err error, provider string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrTimeout, "upstream request timed out").
			WithRetryable(true).
			WithProvider(provider).
			WithCause(err)
	}
	return types.NewError(types.ErrProviderError, err.Error()).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider).
		WithCause(err)
}

// DecodeError 上游返回了无法解析的响应体
func DecodeError(err error, provider string) *types.Error {
	return types.NewError(types.ErrProviderError, fmt.Sprintf("decode upstream response: %v", err)).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider).
		WithCause(err)
}

// TruncatedStreamError 上游在结束标记前断开连接，用量不可信，按可重试错误处理
func TruncatedStreamError(provider, marker string) *types.Error {
	return types.NewError(types.ErrProviderError, "stream ended before "+marker).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// OpenAI 兼容 API 通用类型
// 这些类型被 OpenAI、DeepSeek 等兼容 OpenAI 协议的 Provider 共用。

// OpenAICompatContentPart 多模态消息片段
type OpenAICompatContentPart struct {
	Type     string                `json:"type"` // text, image_url
	Text     string                `json:"text,omitempty"`
	ImageURL *OpenAICompatImageURL `json:"image_url,omitempty"`
}

// OpenAICompatImageURL 图片地址或 data URL
type OpenAICompatImageURL struct {
	URL string `json:"url"`
}

// OpenAICompatMessage 表示 OpenAI 兼容的消息格式。
// Content 为字符串或 []OpenAICompatContentPart。
type OpenAICompatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// OpenAICompatStreamOptions 请求在流末尾附带用量
type OpenAICompatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenAICompatRequest 表示 OpenAI 兼容的聊天完成请求.
type OpenAICompatRequest struct {
	Model         string                     `json:"model"`
	Messages      []OpenAICompatMessage      `json:"messages"`
	MaxTokens     int                        `json:"max_tokens,omitempty"`
	Temperature   float32                    `json:"temperature,omitempty"`
	Stop          []string                   `json:"stop,omitempty"`
	Stream        bool                       `json:"stream,omitempty"`
	StreamOptions *OpenAICompatStreamOptions `json:"stream_options,omitempty"`
}

// OpenAICompatDelta 流式增量
type OpenAICompatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// OpenAICompatChoice 表示 OpenAI 兼容响应中的单个选项.
type OpenAICompatChoice struct {
	Index        int                `json:"index"`
	FinishReason string             `json:"finish_reason"`
	Message      OpenAICompatDelta  `json:"message"`
	Delta        *OpenAICompatDelta `json:"delta,omitempty"`
}

// OpenAICompatUsage 表示 OpenAI 兼容响应中的 token 用量.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse 表示 OpenAI 兼容的聊天完成响应.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessagesToOpenAI 将 llm.Message 切片转换为 OpenAI 兼容格式.
// 带图片的消息转为 content parts，音频片段不在聊天接口中传递。
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasMedia(llm.MediaImage) {
			out = append(out, OpenAICompatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := make([]OpenAICompatContentPart, 0, len(m.Parts)+1)
		if m.Content != "" {
			parts = append(parts, OpenAICompatContentPart{Type: "text", Text: m.Content})
		}
		for _, p := range m.Parts {
			if p.Type != llm.MediaImage {
				continue
			}
			parts = append(parts, OpenAICompatContentPart{
				Type:     "image_url",
				ImageURL: &OpenAICompatImageURL{URL: MediaURL(p)},
			})
		}
		out = append(out, OpenAICompatMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

// MediaURL 返回媒体片段的 URL；内联数据转为 data URL。
func MediaURL(p llm.MediaPart) string {
	if p.URL != "" {
		return p.URL
	}
	mime := p.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + p.Data
}

// ToTextResponse 将 OpenAI 兼容的响应转换为 llm.TextResponse.
func ToTextResponse(oa OpenAICompatResponse, provider string) *llm.TextResponse {
	resp := &llm.TextResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
	}
	if len(oa.Choices) > 0 {
		resp.Content = oa.Choices[0].Message.Content
		resp.FinishReason = oa.Choices[0].FinishReason
	}
	if oa.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  oa.Usage.PromptTokens,
			OutputTokens: oa.Usage.CompletionTokens,
		}
	}
	return resp
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(requested, defaultModel, fallbackModel string) string {
	if requested != "" {
		return requested
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// BearerTokenHeaders 是标准的 Bearer token 认证 header 构建函数。
func BearerTokenHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Authorization", "Bearer "+apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// ProbeGET 以一次 GET 请求探测上游可达性，2xx 视为健康。
func ProbeGET(ctx context.Context, client *http.Client, url string, setHeaders func(*http.Request), provider string) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if setHeaders != nil {
		setHeaders(req)
	}

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, MapTransportError(err, provider)
	}
	defer SafeCloseBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency}, MapHTTPError(resp.StatusCode, msg, provider)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
