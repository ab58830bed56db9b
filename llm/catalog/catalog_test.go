package catalog

import (
	"testing"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCatalog(t *testing.T, healthy ...string) (*Catalog, *llm.HealthStore) {
	t.Helper()
	hs := llm.NewHealthStore(zap.NewNop())
	for _, p := range healthy {
		hs.MarkHealthy(p)
	}
	c := New(hs, zap.NewNop())
	require.NoError(t, c.Replace(DefaultModels()))
	return c, hs
}

func TestCatalog_ListModelsOnlyHealthyProviders(t *testing.T) {
	c, hs := newTestCatalog(t, "anthropic")

	models := c.ListModels(types.CapabilityTextGeneration)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "anthropic", m.ProviderID)
	}
	assert.False(t, c.IsAvailable("gpt-4o"))
	assert.True(t, c.IsAvailable("claude-sonnet-4-5"))

	hs.MarkUnhealthy("anthropic", nil)
	assert.Empty(t, c.ListModels(""))
	_, ok := c.Cheapest(types.CapabilityTextGeneration)
	assert.False(t, ok)
}

func TestCatalog_DeprecatedHidden(t *testing.T) {
	c, _ := newTestCatalog(t, "openai")

	assert.False(t, c.IsAvailable("gpt-4-turbo"))
	m, ok := c.Lookup("gpt-4-turbo")
	require.True(t, ok, "Lookup ignores availability")
	assert.True(t, m.Deprecated)
}

func TestCatalog_Cheapest(t *testing.T) {
	c, _ := newTestCatalog(t, "openai", "anthropic", "deepseek")

	m, ok := c.Cheapest(types.CapabilityTextGeneration)
	require.True(t, ok)
	assert.Equal(t, types.ModelID("gpt-4o-mini"), m.ID)

	img, ok := c.Cheapest(types.CapabilityImageGeneration)
	require.True(t, ok)
	assert.Equal(t, types.ModelID("dall-e-3"), img.ID)
}

func TestCatalog_CheapestTieFavorsLowerTier(t *testing.T) {
	hs := llm.NewHealthStore(nil)
	hs.MarkHealthy("p")
	c := New(hs, nil)
	same := Pricing{PerInputToken: decimal.NewFromInt(1), PerOutputToken: decimal.NewFromInt(1)}
	require.NoError(t, c.Replace([]ModelDescriptor{
		{ID: "b", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 2, Pricing: same},
		{ID: "a", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 3, Pricing: same},
		{ID: "c", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 1, Pricing: same},
	}))

	m, ok := c.Cheapest(types.CapabilityTextGeneration)
	require.True(t, ok)
	assert.Equal(t, types.ModelID("c"), m.ID)
}

func TestCatalog_ReplaceValidation(t *testing.T) {
	c, _ := newTestCatalog(t, "openai")
	before := len(c.ListModels(""))

	tests := []struct {
		name   string
		models []ModelDescriptor
	}{
		{"bad id", []ModelDescriptor{{ID: "a b", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 1}}},
		{"bad capability", []ModelDescriptor{{ID: "x", ProviderID: "p", Capability: "video", Tier: 1}}},
		{"no provider", []ModelDescriptor{{ID: "x", Capability: types.CapabilityTextGeneration, Tier: 1}}},
		{"tier zero", []ModelDescriptor{{ID: "x", ProviderID: "p", Capability: types.CapabilityTextGeneration}}},
		{"duplicate", []ModelDescriptor{
			{ID: "x", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 1},
			{ID: "x", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 2},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, c.Replace(tt.models))
			assert.Len(t, c.ListModels(""), before)
		})
	}
}

func TestCatalog_SameProviderAndAlternatives(t *testing.T) {
	c, _ := newTestCatalog(t, "openai", "anthropic")

	same := c.SameProvider("anthropic", types.CapabilityTextGeneration)
	require.Len(t, same, 3)
	assert.Equal(t, 1, same[0].Tier)
	assert.Equal(t, 3, same[2].Tier)

	alts := c.AvailableIDs(types.CapabilitySpeechRecognition)
	assert.Equal(t, []string{"whisper-1"}, alts)
}
