package router

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/aicore/llm"
)

// Complexity 请求复杂度
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TargetTier 复杂度对应的最低档位
func (c Complexity) TargetTier() int {
	switch c {
	case ComplexitySimple:
		return 1
	case ComplexityComplex:
		return 3
	default:
		return 2
	}
}

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hiya|yo|good (morning|afternoon|evening)|hola|buenos días|buenas|olá|ola|oi|bom dia|boa tarde|你好|您好|嗨|早上好|晚上好)(\s+(there|all|everyone))?[\s!.,?~。！，？]*$`)

	acknowledgmentPattern = regexp.MustCompile(`(?i)^\s*(thanks|thank you|thx|ty|ok|okay|got it|great|perfect|cool|nice|sure|gracias|obrigad[oa]|de acuerdo|谢谢|多谢|好的|明白了|收到)([\s!.,~。！，]|$)`)

	codeKeywordPattern = regexp.MustCompile(`(?m)(\bfunc\s+\w+\(|\bdef\s+\w+\(|\bclass\s+\w+|\bimport\s+[\w."]|#include\s*<|\bconsole\.log\(|\bSELECT\s+.+\s+FROM\b|\bpublic\s+static\b|=>\s*\{|\bfn\s+\w+\(|\bconst\s+\w+\s*=|\bpackage\s+\w+$)`)

	technicalPattern = regexp.MustCompile(`(?i)\b(implement\w*|debug\w*|analy[sz]\w*|refactor\w*|architect\w*|optimi[sz]\w*|algorithm\w*|benchmark\w*|concurren\w*|scalab\w*|deploy\w*|migrat\w*|troubleshoot\w*|design pattern|stack trace|memory leak|race condition)\b|实现|调试|分析|重构|架构|优化|算法|并发|排查`)

	contentGenPattern = regexp.MustCompile(`(?i)\b(write|create|generate|draft|compose|produce)\s+(me\s+)?(a|an|the|some|\d+)?\s*(\w+\s+)?(essay|article|story|poem|email|letter|report|blog|post|script|summary|proposal|plan|outline|function|program|class|test|tests|documentation|lyrics|speech)s?\b`)
)

// ClassifyComplexity 对最近一条用户消息打分分档
func ClassifyComplexity(msgs []llm.Message) Complexity {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ComplexityMedium
	}
	last := msgs[idx]

	if last.HasMedia(llm.MediaImage) || strings.Contains(last.Content, "```") {
		return ComplexityComplex
	}
	if greetingPattern.MatchString(last.Content) {
		return ComplexitySimple
	}

	priorUserTurns := 0
	for _, m := range msgs[:idx] {
		if m.Role == llm.RoleUser {
			priorUserTurns++
		}
	}
	return bucket(Score(last.Content, priorUserTurns))
}

// Score 加性打分，不含寒暄、代码块、图片三条直通规则
func Score(text string, priorUserTurns int) int {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	score := 0

	if acknowledgmentPattern.MatchString(trimmed) {
		score -= 2
	}
	switch {
	case n > 500:
		score += 2
	case n > 200:
		score++
	case n < 30:
		score--
	}
	if priorUserTurns > 5 {
		score++
	}
	if codeKeywordPattern.MatchString(trimmed) {
		score += 2
	}
	if technicalPattern.MatchString(trimmed) {
		score += 2
	}
	if contentGenPattern.MatchString(trimmed) {
		score++
	}
	if strings.Count(trimmed, "?")+strings.Count(trimmed, "？") > 1 {
		score++
	}
	return score
}

func bucket(score int) Complexity {
	switch {
	case score <= -1:
		return ComplexitySimple
	case score >= 2:
		return ComplexityComplex
	default:
		return ComplexityMedium
	}
}
