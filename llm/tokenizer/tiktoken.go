package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型提供精确计数。
// 编码数据首次使用时加载，加载失败时由 Registry 退回估算器。
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// openAIEncodings 模型前缀到 tiktoken 编码
var openAIEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4.1":                "o200k_base",
	"o1":                     "o200k_base",
	"o3":                     "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"deepseek":               "cl100k_base",
}

// NewTiktokenTokenizer 按编码名创建分词器
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// RegisterOpenAI 为已知的 OpenAI 兼容模型前缀注册 tiktoken 分词器，同一编码共享实例。
func (r *Registry) RegisterOpenAI() {
	shared := make(map[string]*TiktokenTokenizer)
	for prefix, encoding := range openAIEncodings {
		t, ok := shared[encoding]
		if !ok {
			t = NewTiktokenTokenizer(encoding)
			shared[encoding] = t
		}
		r.Register(prefix, t)
	}
}
