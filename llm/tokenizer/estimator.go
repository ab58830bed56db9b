package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// 估算比例与每条消息的固定开销
const (
	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
	perMessageOverhead = 4 // 角色标记与分隔符
	replyPrimer        = 3 // 对话末尾的回复引导
)

// EstimatorTokenizer 按字符数估算 token，区分 CJK 与其他字符。
// 没有对应编码表的模型（Claude、DeepSeek 等）以及 tiktoken 加载失败时使用。
type EstimatorTokenizer struct{}

func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 非空文本至少计 1 个 token
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/cjkCharsPerToken + float64(total-cjk)/otherCharsPerToken)
	return max(n, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPrimer
	for _, msg := range messages {
		n, _ := e.CountTokens(msg.Content)
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) Name() string { return "estimator" }

var cjkPunct = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303F, Stride: 1}, // CJK 符号与标点
		{Lo: 0xFF00, Hi: 0xFFEF, Stride: 1}, // 全角/半角形式
	},
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, cjkPunct)
}
