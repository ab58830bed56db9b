package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/aicore/internal/tlsutil"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/providers"
	"github.com/BaSui01/aicore/types"
	"go.uber.org/zap"
)

const providerName = "openai"

// OpenAITTSProvider implements llm.SpeechSynthesizer using OpenAI's API.
type OpenAITTSProvider struct {
	cfg    OpenAITTSConfig
	client *http.Client
	logger *zap.Logger
}

var _ llm.SpeechSynthesizer = (*OpenAITTSProvider)(nil)

// NewOpenAITTSProvider creates a new OpenAI TTS provider.
func NewOpenAITTSProvider(cfg OpenAITTSConfig, logger *zap.Logger) *OpenAITTSProvider {
	def := DefaultOpenAITTSConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAITTSProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", providerName), zap.String("capability", "speech-synthesis")),
	}
}

func (p *OpenAITTSProvider) Name() string { return providerName }

func (p *OpenAITTSProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return providers.ProbeGET(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/models",
		func(r *http.Request) { providers.BearerTokenHeaders(r, p.cfg.APIKey) }, providerName)
}

type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to speech.
func (p *OpenAITTSProvider) Synthesize(ctx context.Context, req *llm.SpeechRequest) (*llm.SpeechResponse, error) {
	if req.Text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "text is required").WithProvider(providerName)
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, "tts-1")

	payload, err := json.Marshal(openAITTSRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: format,
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	providers.BearerTokenHeaders(httpReq, p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}

	chars := utf8.RuneCountInString(req.Text)
	p.logger.Debug("speech synthesized", zap.String("model", model), zap.Int("characters", chars), zap.Int("bytes", len(audio)))

	return &llm.SpeechResponse{
		Provider: providerName,
		Model:    model,
		Audio:    audio,
		Format:   format,
		Usage:    llm.Usage{CharacterCount: chars},
	}, nil
}
