package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/BaSui01/aicore/internal/tlsutil"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/providers"
	"github.com/BaSui01/aicore/types"
	"go.uber.org/zap"
)

// OpenAISTTProvider 使用 OpenAI Whisper API 执行 STT.
type OpenAISTTProvider struct {
	cfg    OpenAISTTConfig
	client *http.Client
	logger *zap.Logger
}

var _ llm.SpeechRecognizer = (*OpenAISTTProvider)(nil)

// NewOpenAISTTProvider 创建新的 OpenAI STT 提供者.
func NewOpenAISTTProvider(cfg OpenAISTTConfig, logger *zap.Logger) *OpenAISTTProvider {
	def := DefaultOpenAISTTConfig()
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
	return &OpenAISTTProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", providerName), zap.String("capability", "speech-recognition")),
	}
}

func (p *OpenAISTTProvider) Name() string { return providerName }

func (p *OpenAISTTProvider) SupportedFormats() []string {
	return []string{"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm"}
}

func (p *OpenAISTTProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return providers.ProbeGET(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/models",
		func(r *http.Request) { providers.BearerTokenHeaders(r, p.cfg.APIKey) }, providerName)
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe 将语音转换为文本 。
func (p *OpenAISTTProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResponse, error) {
	if len(req.Audio) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "audio input is required").WithProvider(providerName)
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, "whisper-1")

	// 构建多部分表单
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "audio.mp3"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}

	_ = writer.WriteField("model", model)
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	// verbose_json 才带 duration
	_ = writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, providers.DecodeError(err, providerName)
	}

	seconds := wResp.Duration
	if seconds <= 0 {
		seconds = req.DeclaredSeconds
		p.logger.Debug("upstream omitted duration, using declared", zap.Float64("seconds", seconds))
	}

	return &llm.TranscriptionResponse{
		Provider: providerName,
		Model:    model,
		Text:     wResp.Text,
		Language: wResp.Language,
		Duration: seconds,
		Usage:    llm.Usage{AudioSeconds: seconds},
	}, nil
}
