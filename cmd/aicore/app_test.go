package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/aicore/config"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/orchestrator"
	"github.com/BaSui01/aicore/llm/tokenizer"
	"github.com/BaSui01/aicore/testutil/fixtures"
	"github.com/BaSui01/aicore/testutil/mocks"
	"github.com/BaSui01/aicore/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildRegistry(t *testing.T) {
	providers := map[string]config.ProviderConfig{
		"openai":    {Kind: config.ProviderKindOpenAI, APIKey: "sk-test"},
		"anthropic": {Kind: config.ProviderKindAnthropic, APIKey: "sk-ant"},
		"deepseek":  {Kind: config.ProviderKindOpenAICompatible, APIKey: "sk-ds", BaseURL: "https://api.deepseek.com"},
	}
	reg, err := buildRegistry(providers, tokenizer.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, c := range types.Capabilities() {
		_, ok := reg.Get("openai", c)
		assert.True(t, ok, "openai should serve %s", c)
	}

	tests := []struct {
		provider   string
		capability types.Capability
		want       bool
	}{
		{"anthropic", types.CapabilityTextGeneration, true},
		{"anthropic", types.CapabilityImageUnderstanding, true},
		{"anthropic", types.CapabilityTextEmbedding, false},
		{"deepseek", types.CapabilityTextGeneration, true},
		{"deepseek", types.CapabilityTextEmbedding, true},
		{"deepseek", types.CapabilityImageGeneration, false},
	}
	for _, tt := range tests {
		_, ok := reg.Get(tt.provider, tt.capability)
		assert.Equal(t, tt.want, ok, "%s/%s", tt.provider, tt.capability)
	}
	assert.Equal(t, []string{"anthropic", "deepseek", "openai"}, reg.Providers())
}

func TestBuildRegistry_UnknownKind(t *testing.T) {
	_, err := buildRegistry(map[string]config.ProviderConfig{"x": {Kind: "grpc"}}, tokenizer.NewRegistry(), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unsupported kind")
}

func TestRetryPolicy(t *testing.T) {
	assert.Nil(t, retryPolicy(config.RetryConfig{}))

	p := retryPolicy(config.DefaultRetryConfig())
	require.NotNil(t, p)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.True(t, p.Jitter)
}

func TestDefaultModels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Routing.DefaultModels = map[string]string{
		"text-generation": "gpt-4o-mini",
		"text-embedding":  "",
	}
	got := defaultModels(cfg)
	assert.Equal(t, map[types.Capability]types.ModelID{types.CapabilityTextGeneration: "gpt-4o-mini"}, got)
}

// testApp 装配真实的 SQLite 钱包与 Redis 缓存，上游换成 mock
func testApp(t *testing.T) (*app, *mocks.MockProvider) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "aicore.db")
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.close)

	provider := mocks.NewMockProvider(fixtures.ProviderMock)
	for _, c := range types.Capabilities() {
		require.NoError(t, a.registry.Register(fixtures.ProviderMock, c, provider))
	}
	a.health.MarkHealthy(fixtures.ProviderMock)
	require.NoError(t, a.catalog.Replace(fixtures.Models()))
	return a, provider
}

func TestApp_EndToEnd(t *testing.T) {
	a, provider := testApp(t)
	ctx := context.Background()
	alice := metering.OwnerRef{Kind: metering.OwnerPersonal, ID: "alice"}
	require.NoError(t, a.wallets.Create(ctx, alice, decimal.NewFromInt(100), decimal.Zero))

	newReq := func(text string) *orchestrator.Request {
		return &orchestrator.Request{
			Capability: types.CapabilityTextGeneration,
			Model:      string(fixtures.ModelMini),
			Messages:   fixtures.UserMessage(text),
			Identity:   metering.Identity{UserID: "alice"},
		}
	}

	var out bytes.Buffer
	require.NoError(t, ask(ctx, a.orch, newReq("What is the capital of France?"), false, &out))
	assert.Contains(t, out.String(), "Mock response")
	assert.Contains(t, out.String(), "0.05 credits")
	assert.Contains(t, out.String(), "balance 99.95")

	out.Reset()
	require.NoError(t, ask(ctx, a.orch, newReq("what is the capital of france"), true, &out))
	assert.Contains(t, out.String(), "cached")
	assert.Equal(t, 1, provider.CallCount())

	acct, err := a.wallets.Get(ctx, alice)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("99.95").Equal(acct.Balance))

	rows, err := a.ledger.Aggregate(ctx, metering.AggregateQuery{Owner: &alice})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Requests)
	assert.Equal(t, int64(1), rows[0].CachedRequests)
	assert.True(t, decimal.RequireFromString("0.05").Equal(rows[0].Credits))

	out.Reset()
	printUsageRows(&out, rows)
	assert.Contains(t, out.String(), "personal:alice")
}

func TestApp_AskErrors(t *testing.T) {
	a, _ := testApp(t)
	ctx := context.Background()

	var out bytes.Buffer
	err := ask(ctx, a.orch, &orchestrator.Request{
		Capability: types.CapabilityTextGeneration,
		Model:      string(fixtures.ModelMini),
		Messages:   fixtures.UserMessage("What is the capital of France?"),
		Identity:   metering.Identity{UserID: "nobody"},
	}, false, &out)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not found")

	bob := metering.OwnerRef{Kind: metering.OwnerPersonal, ID: "bob"}
	require.NoError(t, a.wallets.Create(ctx, bob, decimal.Zero, decimal.Zero))
	err = ask(ctx, a.orch, &orchestrator.Request{
		Capability: types.CapabilityTextGeneration,
		Model:      string(fixtures.ModelMini),
		Messages:   fixtures.UserMessage("What is the capital of France?"),
		Identity:   metering.Identity{UserID: "bob"},
	}, true, &out)
	require.Error(t, err)
	assert.ErrorContains(t, err, "balance 0")
}

func TestDescribe(t *testing.T) {
	plain := types.NewError(types.ErrProviderError, "boom")
	assert.Equal(t, plain, describe(plain))

	unavailable := types.NewModelUnavailableError("model gone", []string{"a", "b"})
	assert.EqualError(t, describe(unavailable), "model gone; available: a, b")

	credits := types.NewPlanLimitError(types.CreditDetail{
		Required: decimal.NewFromInt(2),
		Limit:    decimal.NewFromInt(10),
		Used:     decimal.NewFromInt(9),
	})
	assert.Contains(t, describe(credits).Error(), "used 9 of 10")
}

func TestPrintModels(t *testing.T) {
	var out bytes.Buffer
	printModels(&out, types.CapabilityImageGeneration, fixtures.Models()[5:6])
	assert.Contains(t, out.String(), "mock-image")
	assert.Contains(t, out.String(), "40 credits/image")

	out.Reset()
	printModels(&out, types.CapabilitySpeechSynthesis, nil)
	assert.Contains(t, out.String(), "no AI capacity")
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "aicore dev")
}
