package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/aicore/internal/ctxkeys"
	"github.com/BaSui01/aicore/internal/metrics"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/cache"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/retry"
	"github.com/BaSui01/aicore/llm/router"
	"github.com/BaSui01/aicore/testutil"
	"github.com/BaSui01/aicore/testutil/fixtures"
	"github.com/BaSui01/aicore/testutil/mocks"
	"github.com/BaSui01/aicore/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

var (
	alice = metering.OwnerRef{Kind: metering.OwnerPersonal, ID: "alice"}
	acme  = metering.OwnerRef{Kind: metering.OwnerOrganization, ID: "acme"}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	orch     *Orchestrator
	provider *mocks.MockProvider
	other    *mocks.MockProvider
	wallet   *mocks.MockWallet
	ledger   *mocks.MockLedger
	store    *cache.MemoryStore
	catalog  *catalog.Catalog
	registry *llm.ProviderRegistry
	reg      *prometheus.Registry
}

type harnessOption func(*harness, *Config)

// withoutOther 不注册 other provider 的适配器
func withoutOther() harnessOption {
	return func(h *harness, _ *Config) { h.registry.Unregister(fixtures.ProviderOther) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	health := llm.NewHealthStore(logger)
	health.MarkHealthy(fixtures.ProviderMock)
	health.MarkHealthy(fixtures.ProviderOther)
	cat := catalog.New(health, logger)
	require.NoError(t, cat.Replace(fixtures.Models()))

	h := &harness{
		provider: mocks.NewMockProvider(fixtures.ProviderMock),
		other:    mocks.NewMockProvider(fixtures.ProviderOther),
		wallet: mocks.NewMockWallet().
			WithWallet(alice, d("1000"), decimal.Zero).
			WithWallet(acme, d("5000"), decimal.Zero),
		ledger:   mocks.NewMockLedger(),
		store:    cache.NewMemoryStore(100),
		catalog:  cat,
		registry: llm.NewProviderRegistry(),
		reg:      prometheus.NewRegistry(),
	}
	for _, c := range types.Capabilities() {
		require.NoError(t, h.registry.Register(fixtures.ProviderMock, c, h.provider))
	}
	require.NoError(t, h.registry.Register(fixtures.ProviderOther, types.CapabilityTextGeneration, h.other))

	pricer := metering.NewPricer(cat, nil)
	cfg := Config{
		Catalog:   cat,
		Registry:  h.registry,
		Estimator: metering.NewEstimator(pricer, nil),
		Enforcer:  metering.NewEnforcer(h.wallet, h.ledger, pricer, logger),
		Cache:     cache.NewSemanticCache(h.store, cache.DefaultConfig(), logger),
		RetryPolicy: &retry.RetryPolicy{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		Metrics:      metrics.NewCollector("test", h.reg, logger),
		Logger:       logger,
		SmartRouting: true,
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}

	orch, err := New(cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func textRequest(model, text string) *Request {
	return &Request{
		Capability: types.CapabilityTextGeneration,
		Model:      model,
		Messages:   fixtures.UserMessage(text),
		Identity:   metering.Identity{UserID: "alice"},
	}
}

func boolPtr(b bool) *bool { return &b }

// counterValue 从注册表读取指定标签的 counter 值
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				got[l.GetName()] = l.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// =============================================================================
// 构造
// =============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	h := newHarness(t)
	valid := Config{
		Catalog:   h.catalog,
		Registry:  h.registry,
		Estimator: h.orch.estimator,
		Enforcer:  h.orch.enforcer,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no catalog", func(c *Config) { c.Catalog = nil }},
		{"no registry", func(c *Config) { c.Registry = nil }},
		{"no estimator", func(c *Config) { c.Estimator = nil }},
		{"no enforcer", func(c *Config) { c.Enforcer = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	o, err := New(valid)
	require.NoError(t, err)
	assert.Equal(t, DefaultStreamBuffer, o.streamBuffer)
}

// =============================================================================
// 文本生成与扣费
// =============================================================================

func TestExecute_TextGeneration_ChargesActualUsage(t *testing.T) {
	h := newHarness(t)
	h.provider.WithResponse("Paris is the capital of France.")

	resp, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France.", resp.Content)
	assert.Equal(t, fixtures.ModelMini, resp.Model)
	assert.Equal(t, fixtures.ProviderMock, resp.Provider)
	assert.False(t, resp.Cached)
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 20}, resp.Usage)
	// 10*0.001 + 20*0.002
	assert.True(t, d("0.05").Equal(resp.CreditsUsed), "credits %s", resp.CreditsUsed)
	require.NotNil(t, resp.NewBalance)
	assert.True(t, d("999.95").Equal(*resp.NewBalance))
	assert.True(t, d("999.95").Equal(h.wallet.Balance(alice)))
	assert.NotEmpty(t, resp.RequestID)

	recs := h.wallet.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, resp.RequestID, recs[0].RequestID)
	assert.Equal(t, alice, recs[0].Owner)
	assert.False(t, recs[0].Cached)
}

func TestExecute_RequestIDFromContext(t *testing.T) {
	h := newHarness(t)
	ctx := ctxkeys.WithRequestID(testutil.TestContext(t), "req-from-ctx")

	resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.Equal(t, "req-from-ctx", resp.RequestID)

	req := textRequest(string(fixtures.ModelMini), "What is the capital of Spain?")
	req.RequestID = "explicit"
	resp, err = h.orch.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "explicit", resp.RequestID)
}

func TestExecute_IdentityFromContext(t *testing.T) {
	h := newHarness(t)
	ctx := ctxkeys.WithIdentity(testutil.TestContext(t), "alice", "acme")

	req := textRequest(string(fixtures.ModelMini), "What is the capital of France?")
	req.Identity = metering.Identity{}
	_, err := h.orch.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, h.wallet.DebitCount(acme))
	assert.Zero(t, h.wallet.DebitCount(alice))
}

// =============================================================================
// 语义缓存
// =============================================================================

func TestExecute_CacheHit_NoCharge(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	first, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	require.False(t, first.Cached)

	for _, variant := range []string{"what is the capital of france", "  WHAT IS THE CAPITAL OF FRANCE?!  "} {
		resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), variant))
		require.NoError(t, err, variant)
		assert.True(t, resp.Cached, variant)
		assert.Equal(t, first.Content, resp.Content)
		assert.True(t, resp.CreditsUsed.IsZero())
		assert.Nil(t, resp.NewBalance)
	}

	assert.Equal(t, 1, h.provider.CallCount())
	assert.Equal(t, 1, h.wallet.DebitCount(alice))
	assert.True(t, d("999.95").Equal(h.wallet.Balance(alice)))

	hits := h.ledger.Records()
	require.Len(t, hits, 2)
	for _, r := range hits {
		assert.True(t, r.Cached)
		assert.True(t, r.CreditsCharged.IsZero())
	}

	assert.Equal(t, 2.0, counterValue(t, h.reg, "test_cache_lookups_total", map[string]string{"result": "hit"}))
	assert.Equal(t, 1.0, counterValue(t, h.reg, "test_cache_lookups_total", map[string]string{"result": "miss"}))
}

func TestExecute_CacheKeyedByRequestedModel(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelLarge), "What is the capital of France?"))
	require.NoError(t, err)

	resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, h.provider.CallCount())
}

func TestExecute_ConversationScopedCache(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	req := textRequest(string(fixtures.ModelMini), "Summarize the plot of Hamlet")
	req.ConversationID = "conv-1"
	_, err := h.orch.Execute(ctx, req)
	require.NoError(t, err)

	// 共享作用域不命中会话作用域的条目
	shared := textRequest(string(fixtures.ModelMini), "Summarize the plot of Hamlet")
	resp, err := h.orch.Execute(ctx, shared)
	require.NoError(t, err)
	assert.False(t, resp.Cached)

	again := textRequest(string(fixtures.ModelMini), "summarize the plot of hamlet.")
	again.ConversationID = "conv-1"
	resp, err = h.orch.Execute(ctx, again)
	require.NoError(t, err)
	assert.True(t, resp.Cached)

	n, err := h.orch.InvalidateConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp, err = h.orch.Execute(ctx, again)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestExecute_InvalidateModel(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	n, err := h.orch.InvalidateModel(ctx, fixtures.ModelMini)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestExecute_UncacheableRequests(t *testing.T) {
	tests := []struct {
		name   string
		msgs   []llm.Message
		reason string
	}{
		{"too short", fixtures.UserMessage("ok"), "too_short"},
		{"time sensitive", fixtures.UserMessage("What is the latest news about Go?"), "time_sensitive"},
		{"code reference", fixtures.UserMessage("Why does my code panic on startup?"), "code_reference"},
		{"image attached", fixtures.WithImage(fixtures.UserMessage("Describe this picture"), "https://example.com/a.png"), "media"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := testutil.TestContext(t)
			for i := 0; i < 2; i++ {
				req := textRequest(string(fixtures.ModelMini), "")
				req.Messages = tt.msgs
				resp, err := h.orch.Execute(ctx, req)
				require.NoError(t, err)
				assert.False(t, resp.Cached)
			}
			assert.Equal(t, 2, h.provider.CallCount())
			assert.Equal(t, 0, h.store.Len())
			assert.Equal(t, 2.0, counterValue(t, h.reg, "test_cache_skips_total", map[string]string{"reason": tt.reason}))
		})
	}
}

func TestExecute_CacheDisabled(t *testing.T) {
	h := newHarness(t, func(_ *harness, c *Config) { c.Cache = nil })
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
	assert.Equal(t, 2, h.provider.CallCount())

	n, err := h.orch.InvalidateModel(ctx, fixtures.ModelMini)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// 路由
// =============================================================================

func TestExecute_SmartRouting(t *testing.T) {
	t.Run("greeting downgrades to cheapest tier", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.orch.Execute(testutil.TestContext(t), textRequest(string(fixtures.ModelLarge), "hello there"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelMini, resp.Model)
		assert.Equal(t, fixtures.ModelLarge, resp.RequestedModel)
		assert.Equal(t, router.ReasonDowngraded, resp.Routing)
		assert.Equal(t, router.ComplexitySimple, resp.Complexity)
		assert.Equal(t, string(fixtures.ModelMini), h.provider.LastModel())
		// 按实际模型计价
		assert.True(t, d("0.05").Equal(resp.CreditsUsed))
	})

	t.Run("disabled per request keeps model", func(t *testing.T) {
		h := newHarness(t)
		req := textRequest(string(fixtures.ModelLarge), "hello there")
		req.SmartRouting = boolPtr(false)
		resp, err := h.orch.Execute(testutil.TestContext(t), req)
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelLarge, resp.Model)
		assert.Equal(t, router.ReasonKept, resp.Routing)
		// 10*0.1 + 20*0.2
		assert.True(t, d("5").Equal(resp.CreditsUsed))
	})

	t.Run("disabled by default", func(t *testing.T) {
		h := newHarness(t, func(_ *harness, c *Config) { c.SmartRouting = false })
		resp, err := h.orch.Execute(testutil.TestContext(t), textRequest(string(fixtures.ModelLarge), "hello there"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelLarge, resp.Model)
	})

	t.Run("code never downgrades", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelLarge), "Fix this:\n```go\nfunc main() {}\n```"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelLarge, resp.Model)
		assert.Equal(t, router.ComplexityComplex, resp.Complexity)
	})
}

func TestExecute_UnavailableModel(t *testing.T) {
	t.Run("falls back to cheapest", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.orch.Execute(testutil.TestContext(t), textRequest("ghost", "What is the capital of France?"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelMini, resp.Model)
		assert.Equal(t, types.ModelID("ghost"), resp.RequestedModel)
		assert.Equal(t, router.ReasonFallback, resp.Routing)
	})

	t.Run("error when routing disabled", func(t *testing.T) {
		h := newHarness(t)
		req := textRequest("ghost", "What is the capital of France?")
		req.SmartRouting = boolPtr(false)
		_, err := h.orch.Execute(testutil.TestContext(t), req)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrModelUnavailable))
		e, _ := types.AsError(err)
		assert.Contains(t, e.Alternatives, string(fixtures.ModelMini))
		assert.Zero(t, h.provider.CallCount())
	})

	t.Run("unhealthy provider hides its models", func(t *testing.T) {
		h := newHarness(t)
		health := llm.NewHealthStore(nil)
		health.MarkHealthy(fixtures.ProviderOther)
		cat := catalog.New(health, nil)
		require.NoError(t, cat.Replace(fixtures.Models()))
		h.orch.catalog = cat
		h.orch.router = router.New(cat, nil)

		resp, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelOther, resp.Model)
		assert.Equal(t, router.ReasonFallback, resp.Routing)
		assert.Equal(t, 1, h.other.CallCount())
	})
}

func TestExecute_MissingAdapter(t *testing.T) {
	h := newHarness(t, withoutOther())

	_, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelOther), "Explain the theory of relativity in detail"))
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrModelUnavailable, e.Code)
	assert.Equal(t, fixtures.ProviderOther, e.Provider)
	assert.Contains(t, e.Alternatives, string(fixtures.ModelMini))
	assert.NotContains(t, e.Alternatives, string(fixtures.ModelOther))
	assert.Zero(t, h.wallet.TotalDebits())
}

func TestExecute_DefaultModel(t *testing.T) {
	t.Run("configured default", func(t *testing.T) {
		h := newHarness(t, func(_ *harness, c *Config) {
			c.DefaultModels = map[types.Capability]types.ModelID{types.CapabilityTextGeneration: fixtures.ModelMedium}
		})
		resp, err := h.orch.Execute(testutil.TestContext(t),
			textRequest("", "Explain how photosynthesis works in plants"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelMedium, resp.RequestedModel)
		assert.Equal(t, fixtures.ModelMedium, resp.Model)
	})

	t.Run("cheapest when nothing configured", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.orch.Execute(testutil.TestContext(t),
			textRequest("", "Explain how photosynthesis works in plants"))
		require.NoError(t, err)
		assert.Equal(t, fixtures.ModelMini, resp.Model)
		assert.Equal(t, router.ReasonFallback, resp.Routing)
	})
}

// =============================================================================
// 额度
// =============================================================================

func TestExecute_OrganizationWalletOnly(t *testing.T) {
	h := newHarness(t)
	req := textRequest(string(fixtures.ModelMini), "What is the capital of France?")
	req.Identity = metering.Identity{UserID: "alice", OrganizationID: "acme"}

	resp, err := h.orch.Execute(testutil.TestContext(t), req)
	require.NoError(t, err)
	assert.True(t, d("4999.95").Equal(*resp.NewBalance))
	assert.Equal(t, 1, h.wallet.DebitCount(acme))
	assert.Equal(t, 0, h.wallet.DebitCount(alice))
	assert.True(t, d("1000").Equal(h.wallet.Balance(alice)))
}

func TestExecute_NoFallbackToPersonalWallet(t *testing.T) {
	h := newHarness(t)
	h.wallet.WithWallet(acme, decimal.Zero, decimal.Zero)
	req := textRequest(string(fixtures.ModelMini), "What is the capital of France?")
	req.Identity = metering.Identity{UserID: "alice", OrganizationID: "acme"}

	_, err := h.orch.Execute(testutil.TestContext(t), req)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInsufficientCredits))
	assert.Zero(t, h.provider.CallCount())
	assert.Zero(t, h.wallet.TotalDebits())
}

func TestExecute_CapacityRejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(w *mocks.MockWallet)
		identity metering.Identity
		code     types.ErrorCode
	}{
		{
			name: "plan limit reported before insufficient balance",
			setup: func(w *mocks.MockWallet) {
				w.WithWallet(acme, decimal.Zero, d("10")).WithMonthlyUsed(acme, d("10"))
			},
			identity: metering.Identity{UserID: "alice", OrganizationID: "acme"},
			code:     types.ErrPlanLimitExceeded,
		},
		{
			name: "plan limit with healthy balance",
			setup: func(w *mocks.MockWallet) {
				w.WithWallet(alice, d("1000"), d("10")).WithMonthlyUsed(alice, d("9.999"))
			},
			identity: metering.Identity{UserID: "alice"},
			code:     types.ErrPlanLimitExceeded,
		},
		{
			name:     "insufficient credits",
			setup:    func(w *mocks.MockWallet) { w.WithWallet(alice, d("0.001"), decimal.Zero) },
			identity: metering.Identity{UserID: "alice"},
			code:     types.ErrInsufficientCredits,
		},
		{
			name:     "wallet not found",
			setup:    func(*mocks.MockWallet) {},
			identity: metering.Identity{UserID: "bob"},
			code:     types.ErrWalletNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h.wallet)
			req := textRequest(string(fixtures.ModelMini), "What is the capital of France?")
			req.Identity = tt.identity

			_, err := h.orch.Execute(testutil.TestContext(t), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Zero(t, h.provider.CallCount())
			assert.Zero(t, h.wallet.TotalDebits())
			assert.Equal(t, 1.0, counterValue(t, h.reg, "test_credit_rejections_total",
				map[string]string{"code": strings.ToLower(string(tt.code))}))
		})
	}
}

func TestExecute_CreditDetailOnRejection(t *testing.T) {
	h := newHarness(t)
	h.wallet.WithWallet(alice, d("0.001"), decimal.Zero)

	_, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.NotNil(t, e.Credit)
	assert.True(t, d("0.001").Equal(e.Credit.Balance))
	assert.True(t, e.Credit.Required.Equal(h.wallet.LastEstimate(alice)))
	assert.Equal(t, 402, e.HTTPStatus)
}

func TestExecute_SettlementFailure(t *testing.T) {
	h := newHarness(t)
	h.wallet.WithDebitError(errors.New("wallet store unavailable"))

	resp, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorContains(t, err, "wallet store unavailable")
	assert.Equal(t, 1, h.provider.CallCount())
}

// 任意身份组合下恰好一个钱包被扣费
func TestExecute_ExactlyOneWalletDebited(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t, func(_ *harness, c *Config) { c.Cache = nil })
		withOrg := rapid.Bool().Draw(rt, "withOrg")
		req := textRequest(string(fixtures.ModelMini), rapid.StringMatching(`[a-z ]{5,40}\?`).Draw(rt, "text"))
		if withOrg {
			req.Identity.OrganizationID = "acme"
		}

		_, err := h.orch.Execute(context.Background(), req)
		if err != nil {
			rt.Fatalf("execute: %v", err)
		}
		if h.wallet.TotalDebits() != 1 {
			rt.Fatalf("expected exactly one debit, got %d", h.wallet.TotalDebits())
		}
		debited := alice
		if withOrg {
			debited = acme
		}
		if h.wallet.DebitCount(debited) != 1 {
			rt.Fatalf("wrong wallet debited")
		}
	})
}

// =============================================================================
// 重试与上游错误
// =============================================================================

func TestExecute_RetriesTransientErrors(t *testing.T) {
	rateLimited := func() error {
		return types.NewError(types.ErrRateLimited, "slow down").WithHTTPStatus(429).WithRetryable(true)
	}

	t.Run("succeeds after retries", func(t *testing.T) {
		h := newHarness(t)
		h.provider.WithErrorSequence(rateLimited(), rateLimited(), rateLimited())

		resp, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.NoError(t, err)
		assert.Equal(t, "Mock response", resp.Content)
		assert.Equal(t, 4, h.provider.CallCount())
		assert.Equal(t, 1, h.wallet.DebitCount(alice))
		assert.Equal(t, 3.0, counterValue(t, h.reg, "test_upstream_retries_total",
			map[string]string{"provider": fixtures.ProviderMock}))
	})

	t.Run("exhausted", func(t *testing.T) {
		h := newHarness(t)
		h.provider.WithError(rateLimited())

		_, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrRateLimited))
		assert.Equal(t, 4, h.provider.CallCount())
		assert.Zero(t, h.wallet.TotalDebits())
		assert.Equal(t, 1.0, counterValue(t, h.reg, "test_requests_total",
			map[string]string{"status": "rate_limited"}))
	})

	t.Run("non transient fails fast", func(t *testing.T) {
		h := newHarness(t)
		h.provider.WithError(types.NewError(types.ErrContentFiltered, "blocked").WithHTTPStatus(400))

		_, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrContentFiltered))
		assert.Equal(t, 1, h.provider.CallCount())
		assert.Zero(t, h.wallet.TotalDebits())
	})

	t.Run("no policy no retry", func(t *testing.T) {
		h := newHarness(t, func(_ *harness, c *Config) { c.RetryPolicy = nil })
		h.provider.WithErrorSequence(rateLimited())

		_, err := h.orch.Execute(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.Error(t, err)
		assert.Equal(t, 1, h.provider.CallCount())
	})
}

func TestExecute_FailedCallNotCached(t *testing.T) {
	h := newHarness(t)
	h.provider.WithErrorSequence(types.NewError(types.ErrProviderError, "boom").WithHTTPStatus(400))
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.Error(t, err)
	assert.Zero(t, h.store.Len())

	resp, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestExecute_Cancellation(t *testing.T) {
	h := newHarness(t)
	h.provider.WithDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.wallet.TotalDebits())
	assert.Zero(t, h.store.Len())
}

func TestExecute_DeadlineMapsToTimeout(t *testing.T) {
	h := newHarness(t, func(_ *harness, c *Config) { c.RetryPolicy = nil })
	h.provider.WithDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout))
	assert.Zero(t, h.wallet.TotalDebits())
}

// =============================================================================
// 其它能力
// =============================================================================

func TestExecute_OtherCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		setup   func(p *mocks.MockProvider)
		credits string
		check   func(t *testing.T, resp *Response)
	}{
		{
			name: "image generation per image",
			req: &Request{
				Capability: types.CapabilityImageGeneration,
				Model:      string(fixtures.ModelImage),
				Prompt:     "a lighthouse at dusk",
				Options:    Options{N: 2, Size: "1024x1024"},
			},
			credits: "80",
			check: func(t *testing.T, resp *Response) {
				assert.Len(t, resp.Images, 2)
				assert.Equal(t, 2, resp.Usage.ImageCount)
			},
		},
		{
			name: "speech synthesis per character",
			req: &Request{
				Capability: types.CapabilitySpeechSynthesis,
				Model:      string(fixtures.ModelTTS),
				Text:       "hello world",
			},
			credits: "0.165",
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, "mp3", resp.AudioFormat)
				assert.NotEmpty(t, resp.Audio)
				assert.Equal(t, 11, resp.Usage.CharacterCount)
			},
		},
		{
			name: "speech recognition rounds up to the minute",
			req: &Request{
				Capability:    types.CapabilitySpeechRecognition,
				Model:         string(fixtures.ModelSTT),
				Audio:         []byte("RIFF"),
				AudioFilename: "clip.wav",
			},
			setup:   func(p *mocks.MockProvider) { p.WithTranscript("hi there", 90) },
			credits: "12",
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, "hi there", resp.Content)
				assert.Equal(t, 90.0, resp.Usage.AudioSeconds)
			},
		},
		{
			name: "embedding",
			req: &Request{
				Capability: types.CapabilityTextEmbedding,
				Model:      string(fixtures.ModelEmbed),
				Inputs:     []string{"alpha", "beta"},
			},
			credits: "0.001",
			check: func(t *testing.T, resp *Response) {
				assert.Len(t, resp.Embeddings, 2)
			},
		},
		{
			name: "image understanding",
			req: &Request{
				Capability: types.CapabilityImageUnderstanding,
				Model:      string(fixtures.ModelVision),
				Messages:   fixtures.WithImage(fixtures.UserMessage("What is in this image?"), "https://example.com/cat.png"),
			},
			credits: "0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h.provider)
			}
			tt.req.Identity = metering.Identity{UserID: "alice"}

			resp, err := h.orch.Execute(testutil.TestContext(t), tt.req)
			require.NoError(t, err)
			assert.True(t, d(tt.credits).Equal(resp.CreditsUsed), "credits %s", resp.CreditsUsed)
			assert.Equal(t, tt.req.Capability, resp.Capability)
			assert.False(t, resp.Cached)
			assert.Equal(t, 1, h.wallet.DebitCount(alice))
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestExecute_MissingUsageIsEstimated(t *testing.T) {
	h := newHarness(t)
	h.provider.WithoutUsage().WithResponse("Paris is the capital of France.")

	resp, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Positive(t, resp.Usage.InputTokens)
	assert.Positive(t, resp.Usage.OutputTokens)
	assert.True(t, resp.CreditsUsed.IsPositive())

	recs := h.wallet.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Usage.Estimated)
}

func TestExecute_SpeechRecognitionWithoutDuration(t *testing.T) {
	h := newHarness(t)
	req := &Request{
		Capability:   types.CapabilitySpeechRecognition,
		Model:        string(fixtures.ModelSTT),
		Audio:        []byte("RIFF"),
		AudioSeconds: 30,
		Identity:     metering.Identity{UserID: "alice"},
	}

	resp, err := h.orch.Execute(testutil.TestContext(t), req)
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Equal(t, 30.0, resp.Usage.AudioSeconds)
	assert.True(t, d("6").Equal(resp.CreditsUsed))
}

// =============================================================================
// 请求校验
// =============================================================================

func TestExecute_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"nil request", nil},
		{"unknown capability", &Request{Capability: "telepathy", Identity: metering.Identity{UserID: "alice"}}},
		{"empty messages", &Request{Capability: types.CapabilityTextGeneration, Identity: metering.Identity{UserID: "alice"}}},
		{"blank last message", &Request{
			Capability: types.CapabilityTextGeneration,
			Messages:   fixtures.UserMessage("   "),
			Identity:   metering.Identity{UserID: "alice"},
		}},
		{"vision without image", &Request{
			Capability: types.CapabilityImageUnderstanding,
			Messages:   fixtures.UserMessage("What is in this image?"),
			Identity:   metering.Identity{UserID: "alice"},
		}},
		{"empty embedding inputs", &Request{Capability: types.CapabilityTextEmbedding, Identity: metering.Identity{UserID: "alice"}}},
		{"empty prompt", &Request{Capability: types.CapabilityImageGeneration, Identity: metering.Identity{UserID: "alice"}}},
		{"negative n", &Request{
			Capability: types.CapabilityImageGeneration,
			Prompt:     "a cat",
			Options:    Options{N: -1},
			Identity:   metering.Identity{UserID: "alice"},
		}},
		{"empty tts text", &Request{Capability: types.CapabilitySpeechSynthesis, Identity: metering.Identity{UserID: "alice"}}},
		{"empty audio", &Request{Capability: types.CapabilitySpeechRecognition, Identity: metering.Identity{UserID: "alice"}}},
		{"no identity", &Request{Capability: types.CapabilityTextGeneration, Messages: fixtures.UserMessage("hello there")}},
		{"bad model id", &Request{
			Capability: types.CapabilityTextGeneration,
			Model:      "has space",
			Messages:   fixtures.UserMessage("hello there"),
			Identity:   metering.Identity{UserID: "alice"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.orch.Execute(testutil.TestContext(t), tt.req)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrInvalidRequest), "got %v", err)
			assert.Zero(t, h.provider.CallCount())
			assert.Zero(t, h.wallet.TotalDebits())
		})
	}
}

// =============================================================================
// 指标
// =============================================================================

func TestExecute_RecordsMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelLarge), "hello there"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, h.reg, "test_requests_total", map[string]string{
		"capability": string(types.CapabilityTextGeneration),
		"model":      string(fixtures.ModelMini),
		"status":     "ok",
	}))
	assert.Equal(t, 1.0, counterValue(t, h.reg, "test_routing_decisions_total", map[string]string{
		"reason":     string(router.ReasonDowngraded),
		"complexity": string(router.ComplexitySimple),
	}))
	assert.Equal(t, 0.05, counterValue(t, h.reg, "test_credits_charged_total", map[string]string{
		"model": string(fixtures.ModelMini),
	}))
}
