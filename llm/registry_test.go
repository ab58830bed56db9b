package llm

import (
	"context"
	"testing"

	"github.com/BaSui01/aicore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct{ probeAdapter }

func (f *fakeText) Generate(ctx context.Context, req *TextRequest) (*TextResponse, error) {
	return &TextResponse{Content: "ok"}, nil
}

func (f *fakeText) GenerateStream(ctx context.Context, req *TextRequest) (Stream, error) {
	s := NewPipeStream(0)
	s.Finish(&Usage{}, nil)
	return s, nil
}

func TestProviderRegistry_RegisterByCapability(t *testing.T) {
	r := NewProviderRegistry()
	text := &fakeText{probeAdapter{name: "openai", healthy: true}}

	require.NoError(t, r.Register("openai", types.CapabilityTextGeneration, text))
	require.NoError(t, r.Register("openai", types.CapabilityImageUnderstanding, text))

	err := r.Register("openai", types.CapabilityImageGeneration, text)
	assert.Error(t, err, "text adapter cannot serve image generation")

	got, ok := r.Get("openai", types.CapabilityTextGeneration)
	require.True(t, ok)
	assert.Same(t, text, got)

	_, ok = r.Get("anthropic", types.CapabilityTextGeneration)
	assert.False(t, ok)

	assert.Equal(t, []string{"openai"}, r.Providers())
	assert.Len(t, r.Probes(), 1)
	assert.Equal(t, 2, r.Len())

	r.Unregister("openai")
	assert.Equal(t, 0, r.Len())
}
