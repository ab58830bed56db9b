package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// Registry 按模型名（支持前缀）查找分词器，未命中时回退到估算器。
type Registry struct {
	mu       sync.RWMutex
	byModel  map[string]Tokenizer
	fallback Tokenizer
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		byModel:  make(map[string]Tokenizer),
		fallback: NewEstimatorTokenizer(),
	}
}

// Register 为模型名或模型前缀注册分词器.
func (r *Registry) Register(model string, t Tokenizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel[model] = t
}

// ForModel 返回模型对应的分词器，最长前缀优先。
func (r *Registry) ForModel(model string) Tokenizer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.byModel[model]; ok {
		return t
	}
	var best Tokenizer
	bestLen := 0
	for prefix, t := range r.byModel {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best
	}
	return r.fallback
}

// CountMessages 计算消息 token 数，分词器出错时退回估算器，不返回错误。
func (r *Registry) CountMessages(model string, messages []Message) int {
	if n, err := r.ForModel(model).CountMessages(messages); err == nil {
		return n
	}
	n, _ := r.fallback.CountMessages(messages)
	return n
}

// CountText 计算单段文本 token 数，语义同 CountMessages。
func (r *Registry) CountText(model, text string) int {
	if n, err := r.ForModel(model).CountTokens(text); err == nil {
		return n
	}
	n, _ := r.fallback.CountTokens(text)
	return n
}
