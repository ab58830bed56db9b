package types

import (
	"fmt"
	"strings"
	"unicode"
)

// Capability 请求能力标签，决定请求/响应形态与计费公式。
type Capability string

const (
	CapabilityTextGeneration     Capability = "text-generation"
	CapabilityTextEmbedding      Capability = "text-embedding"
	CapabilityImageGeneration    Capability = "image-generation"
	CapabilityImageUnderstanding Capability = "image-understanding"
	CapabilitySpeechSynthesis    Capability = "speech-synthesis"
	CapabilitySpeechRecognition  Capability = "speech-recognition"
)

// PricingUnit 计费单位族
type PricingUnit string

const (
	UnitToken     PricingUnit = "token"
	UnitImage     PricingUnit = "image"
	UnitCharacter PricingUnit = "character"
	UnitMinute    PricingUnit = "minute"
)

var allCapabilities = []Capability{
	CapabilityTextGeneration,
	CapabilityTextEmbedding,
	CapabilityImageGeneration,
	CapabilityImageUnderstanding,
	CapabilitySpeechSynthesis,
	CapabilitySpeechRecognition,
}

// Capabilities 返回全部已知能力，顺序固定。
func Capabilities() []Capability {
	return append([]Capability(nil), allCapabilities...)
}

// ParseCapability 解析能力标签，未知值返回 INVALID_REQUEST。
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	return "", NewError(ErrInvalidRequest, fmt.Sprintf("unknown capability %q", s)).WithHTTPStatus(400)
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range allCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Unit 返回该能力的计费单位。
func (c Capability) Unit() PricingUnit {
	switch c {
	case CapabilityImageGeneration:
		return UnitImage
	case CapabilitySpeechSynthesis:
		return UnitCharacter
	case CapabilitySpeechRecognition:
		return UnitMinute
	default:
		return UnitToken
	}
}

// ModelID 模型标识。只做语法校验，是否存在由目录在边界处判定。
type ModelID string

const maxModelIDLen = 128

// ParseModelID 校验模型标识语法。
func ParseModelID(s string) (ModelID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewError(ErrInvalidRequest, "model id is empty").WithHTTPStatus(400)
	}
	if len(s) > maxModelIDLen {
		return "", NewError(ErrInvalidRequest, "model id too long").WithHTTPStatus(400)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", NewError(ErrInvalidRequest, fmt.Sprintf("model id %q contains invalid characters", s)).WithHTTPStatus(400)
		}
	}
	return ModelID(s), nil
}

func (m ModelID) String() string { return string(m) }
