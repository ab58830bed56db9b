package image

import "time"

// OpenAIConfig 配置 OpenAI 图像生成供应商.
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // dall-e-3, gpt-image-1
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultOpenAIConfig 返回默认 OpenAI 图像配置 。
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "https://api.openai.com",
		Model:   "dall-e-3",
		Timeout: 120 * time.Second,
	}
}
