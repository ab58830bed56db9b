package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/aicore/llm"
)

const (
	// KeyPrefix 语义缓存键前缀
	KeyPrefix = "llm:semantic:"

	// ScopeShared 无会话 ID 时的共享作用域
	ScopeShared = "shared"

	// DefaultWindow 参与哈希的最近消息条数
	DefaultWindow = 5

	DefaultMinLength = 3
	DefaultMaxLength = 500
)

const trailingPunct = ".!?,;:…。！？，；：、~"

// Normalize 小写、去首尾空白、去末尾标点
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, trailingPunct)
	return strings.TrimSpace(s)
}

var (
	// 拉丁语系按词匹配；Go 的 \b 只认 ASCII，故用 \p{L} 手动划界
	timeSensitiveLatin = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` +
		// en
		`now|today|tonight|tomorrow|yesterday|current|currently|latest|recent|recently|this week|this month|this year|` +
		// es
		`hoy|ahora|actual|actualmente|último|última|últimas|últimos|reciente|recientes|mañana|ayer|` +
		// pt
		`hoje|agora|atual|atualmente|recentes|amanhã|ontem` +
		`)(?:$|[^\p{L}\p{N}])`)

	timeSensitiveCJK = []string{"现在", "今天", "今日", "目前", "当前", "最新", "最近", "明天", "昨天", "此刻", "今年", "本周"}

	codeReference = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(my code|this code|mi código|este código|meu código|esse código)(?:$|[^\p{L}])`)

	codeReferenceCJK = []string{"我的代码", "这段代码", "这个代码", "此代码"}
)

// IsTimeSensitive 文本是否包含时间敏感词
func IsTimeSensitive(text string) bool {
	if timeSensitiveLatin.MatchString(text) {
		return true
	}
	return containsAny(text, timeSensitiveCJK)
}

// ReferencesCallerCode 文本是否引用调用方私有代码
func ReferencesCallerCode(text string) bool {
	if codeReference.MatchString(text) {
		return true
	}
	return containsAny(text, codeReferenceCJK)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// SkipReason 不可缓存的原因，空串表示可缓存
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipEmpty         SkipReason = "empty"
	SkipTooShort      SkipReason = "too_short"
	SkipTooLong       SkipReason = "too_long"
	SkipTimeSensitive SkipReason = "time_sensitive"
	SkipCodeReference SkipReason = "code_reference"
	SkipMedia         SkipReason = "media"
)

// Check 返回不可缓存原因；长度按 rune 计算。
func Check(msgs []llm.Message, minLen, maxLen int) SkipReason {
	if len(msgs) == 0 {
		return SkipEmpty
	}
	for _, m := range msgs {
		if m.HasMedia("") {
			return SkipMedia
		}
	}
	last := strings.TrimSpace(msgs[len(msgs)-1].Content)
	n := utf8.RuneCountInString(last)
	switch {
	case n < minLen:
		return SkipTooShort
	case n > maxLen:
		return SkipTooLong
	case IsTimeSensitive(last):
		return SkipTimeSensitive
	case ReferencesCallerCode(last):
		return SkipCodeReference
	}
	return SkipNone
}

// Scope 返回缓存作用域
func Scope(conversationID string) string {
	if conversationID == "" {
		return ScopeShared
	}
	return "conv:" + conversationID
}

// BuildKey 生成语义缓存键
func BuildKey(modelID string, msgs []llm.Message, conversationID string, window int) string {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}

	// 每个字段带长度前缀，内容里的分隔符不会造成不同消息序列的碰撞
	h := sha256.New()
	for _, m := range msgs {
		role, content := string(m.Role), Normalize(m.Content)
		fmt.Fprintf(h, "%d:%s%d:%s", len(role), role, len(content), content)
	}
	return KeyPrefix + modelID + ":" + Scope(conversationID) + ":" + hex.EncodeToString(h.Sum(nil))
}

// EscapeGlob 转义 Redis glob 元字符，使 s 在模式中按字面匹配
func EscapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
