package metering

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

type priceTable map[types.ModelID]catalog.ModelDescriptor

func (t priceTable) Lookup(id types.ModelID) (catalog.ModelDescriptor, bool) {
	m, ok := t[id]
	return m, ok
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPrices() priceTable {
	return priceTable{
		"chat-small": {ID: "chat-small", ProviderID: "p", Capability: types.CapabilityTextGeneration, Tier: 1,
			Pricing: catalog.Pricing{PerInputToken: d("0.00015"), PerOutputToken: d("0.0006")}},
		"painter": {ID: "painter", ProviderID: "p", Capability: types.CapabilityImageGeneration, Tier: 2,
			Pricing: catalog.Pricing{PerImage: d("40")}},
		"voice": {ID: "voice", ProviderID: "p", Capability: types.CapabilitySpeechSynthesis, Tier: 1,
			Pricing: catalog.Pricing{PerCharacter: d("0.015")}},
		"ears": {ID: "ears", ProviderID: "p", Capability: types.CapabilitySpeechRecognition, Tier: 1,
			Pricing: catalog.Pricing{PerMinute: d("6")}},
	}
}

// fakeWallet 按 owner 维护余额与月度用量，记录每次扣费
type fakeWallet struct {
	mu       sync.Mutex
	balances map[OwnerRef]decimal.Decimal
	used     map[OwnerRef]decimal.Decimal
	limits   map[OwnerRef]decimal.Decimal
	debits   map[OwnerRef]int
	records  []*UsageRecord
	checkErr error
	debitErr error
	// charged 非空时替代记录中的金额作为实际扣费
	charged  *decimal.Decimal
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances: map[OwnerRef]decimal.Decimal{},
		used:     map[OwnerRef]decimal.Decimal{},
		limits:   map[OwnerRef]decimal.Decimal{},
		debits:   map[OwnerRef]int{},
	}
}

func (w *fakeWallet) CheckCredits(_ context.Context, owner OwnerRef, estimate decimal.Decimal) (*CapacityStatus, error) {
	if w.checkErr != nil {
		return nil, w.checkErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.balances[owner]
	if !ok {
		return nil, NewWalletNotFoundError(owner)
	}
	limit := w.limits[owner]
	used := w.used[owner]
	within := limit.IsZero() || used.Add(estimate).LessThanOrEqual(limit)
	return &CapacityStatus{
		HasCredits:      bal.GreaterThanOrEqual(estimate),
		WithinPlanLimit: within,
		Balance:         bal,
		MonthlyUsed:     used,
		PlanLimit:       limit,
	}, nil
}

func (w *fakeWallet) Debit(_ context.Context, owner OwnerRef, rec *UsageRecord) (*DebitResult, error) {
	if w.debitErr != nil {
		return nil, w.debitErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.balances[owner]; !ok {
		return nil, NewWalletNotFoundError(owner)
	}
	amount := rec.CreditsCharged
	if w.charged != nil {
		amount = *w.charged
	}
	w.balances[owner] = w.balances[owner].Sub(amount)
	w.used[owner] = w.used[owner].Add(amount)
	w.debits[owner]++
	w.records = append(w.records, rec)
	return &DebitResult{CreditsCharged: amount, NewBalance: w.balances[owner]}, nil
}

type fakeLedger struct {
	records []*UsageRecord
	err     error
}

func (l *fakeLedger) Append(_ context.Context, rec *UsageRecord) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	l.records = append(l.records, rec)
	return rec.ID, nil
}

func (l *fakeLedger) Aggregate(context.Context, AggregateQuery) ([]AggregateRow, error) {
	return nil, nil
}

func TestIdentityOwner(t *testing.T) {
	owner, err := Identity{UserID: "u1", OrganizationID: "o1"}.Owner()
	require.NoError(t, err)
	assert.Equal(t, OwnerRef{Kind: OwnerOrganization, ID: "o1"}, owner)
	assert.Equal(t, "organization:o1", owner.String())

	owner, err = Identity{UserID: "u1"}.Owner()
	require.NoError(t, err)
	assert.Equal(t, OwnerRef{Kind: OwnerPersonal, ID: "u1"}, owner)

	_, err = Identity{}.Owner()
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestPricer_Price(t *testing.T) {
	p := NewPricer(testPrices(), nil)

	tests := []struct {
		name  string
		cap   types.Capability
		model types.ModelID
		usage llm.Usage
		want  string
	}{
		{"tokens", types.CapabilityTextGeneration, "chat-small", llm.Usage{InputTokens: 1000, OutputTokens: 500}, "0.45"},
		{"images", types.CapabilityImageGeneration, "painter", llm.Usage{ImageCount: 3}, "120"},
		{"characters", types.CapabilitySpeechSynthesis, "voice", llm.Usage{CharacterCount: 200}, "3"},
		{"one second rounds up to a minute", types.CapabilitySpeechRecognition, "ears", llm.Usage{AudioSeconds: 1}, "6"},
		{"exact minute", types.CapabilitySpeechRecognition, "ears", llm.Usage{AudioSeconds: 60}, "6"},
		{"61 seconds is two minutes", types.CapabilitySpeechRecognition, "ears", llm.Usage{AudioSeconds: 61}, "12"},
		{"no audio", types.CapabilitySpeechRecognition, "ears", llm.Usage{}, "0"},
		{"unknown model uses fallback", types.CapabilityImageGeneration, "mystery", llm.Usage{ImageCount: 1}, "120"},
		{"capability mismatch uses fallback", types.CapabilityTextGeneration, "painter", llm.Usage{InputTokens: 1000}, "15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Price(tt.cap, tt.model, tt.usage)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestPricer_Rates(t *testing.T) {
	p := NewPricer(testPrices(), nil)
	_, known := p.Rates(types.CapabilityTextGeneration, "chat-small")
	assert.True(t, known)
	rates, known := p.Rates(types.CapabilityTextEmbedding, "nope")
	assert.False(t, known)
	assert.True(t, rates.PerInputToken.Equal(d("0.00013")))
}

// 兜底费率不低于目录中任何同能力模型
func TestDefaultFallbackRates_Conservative(t *testing.T) {
	fb := DefaultFallbackRates()
	for _, m := range catalog.DefaultModels() {
		rates, ok := fb[m.Capability]
		require.True(t, ok, "no fallback for %s", m.Capability)
		assert.True(t, rates.ReferencePrice(m.Capability).GreaterThanOrEqual(m.Pricing.ReferencePrice(m.Capability)),
			"fallback for %s cheaper than %s", m.Capability, m.ID)
	}
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(NewPricer(testPrices(), nil), nil)

	u := e.EstimateUsage(types.CapabilityTextGeneration, "chat-small", EstimateInput{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "write me a long essay about the history of computing"}},
	})
	assert.True(t, u.Estimated)
	assert.Positive(t, u.InputTokens)
	assert.Equal(t, u.InputTokens, u.OutputTokens)

	u = e.EstimateUsage(types.CapabilityTextEmbedding, "emb", EstimateInput{Inputs: []string{"alpha", "beta gamma"}})
	assert.Positive(t, u.InputTokens)
	assert.Zero(t, u.OutputTokens)

	u = e.EstimateUsage(types.CapabilityImageGeneration, "painter", EstimateInput{})
	assert.Equal(t, 1, u.ImageCount)
	u = e.EstimateUsage(types.CapabilityImageGeneration, "painter", EstimateInput{ImageCount: 4})
	assert.Equal(t, 4, u.ImageCount)

	u = e.EstimateUsage(types.CapabilitySpeechSynthesis, "voice", EstimateInput{Text: "你好 world"})
	assert.Equal(t, 8, u.CharacterCount)

	u = e.EstimateUsage(types.CapabilitySpeechRecognition, "ears", EstimateInput{})
	assert.Equal(t, float64(DefaultDeclaredSeconds), u.AudioSeconds)

	_, cost := e.Estimate(types.CapabilitySpeechRecognition, "ears", EstimateInput{AudioSeconds: 90})
	assert.True(t, cost.Equal(d("12")))
}

func TestEstimator_OutputRatio(t *testing.T) {
	e := NewEstimator(NewPricer(testPrices(), nil), nil)
	e.OutputRatio = 2
	u := e.EstimateUsage(types.CapabilityTextGeneration, "chat-small", EstimateInput{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello there"}},
	})
	assert.Equal(t, u.InputTokens*2, u.OutputTokens)
}

func TestEstimator_CompleteUsage(t *testing.T) {
	e := NewEstimator(NewPricer(testPrices(), nil), nil)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "summarize the plot of hamlet"}}

	reported := llm.Usage{InputTokens: 12, OutputTokens: 40}
	assert.Equal(t, reported, e.CompleteUsage(types.CapabilityTextGeneration, "chat-small",
		EstimateInput{Messages: msgs}, "ignored", reported))

	u := e.CompleteUsage(types.CapabilityTextGeneration, "chat-small",
		EstimateInput{Messages: msgs}, "Hamlet avenges his father.", llm.Usage{})
	assert.True(t, u.Estimated)
	assert.Positive(t, u.InputTokens)
	assert.Positive(t, u.OutputTokens)

	u = e.CompleteUsage(types.CapabilityImageGeneration, "painter", EstimateInput{ImageCount: 2}, "", llm.Usage{})
	assert.Equal(t, 2, u.ImageCount)
	assert.True(t, u.Estimated)

	u = e.CompleteUsage(types.CapabilitySpeechSynthesis, "voice", EstimateInput{Text: "abc"}, "", llm.Usage{})
	assert.Equal(t, 3, u.CharacterCount)

	u = e.CompleteUsage(types.CapabilitySpeechRecognition, "ears", EstimateInput{}, "", llm.Usage{})
	assert.Equal(t, float64(DefaultDeclaredSeconds), u.AudioSeconds)

	u = e.CompleteUsage(types.CapabilitySpeechRecognition, "ears", EstimateInput{}, "", llm.Usage{AudioSeconds: 7})
	assert.Equal(t, 7.0, u.AudioSeconds)
	assert.False(t, u.Estimated)
}

// 文本预估不低于输入本身的计价
func TestEstimator_TextIsConservative(t *testing.T) {
	pricer := NewPricer(testPrices(), nil)
	e := NewEstimator(pricer, nil)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(1, 400, -1).Draw(t, "text")
		u, cost := e.Estimate(types.CapabilityTextGeneration, "chat-small", EstimateInput{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
		})
		inputOnly := pricer.Price(types.CapabilityTextGeneration, "chat-small", llm.Usage{InputTokens: u.InputTokens})
		if cost.LessThan(inputOnly) {
			t.Fatalf("estimate %s below input-only price %s", cost, inputOnly)
		}
	})
}

func TestEnforcer_CheckCapacity(t *testing.T) {
	org := OwnerRef{Kind: OwnerOrganization, ID: "acme"}
	user := OwnerRef{Kind: OwnerPersonal, ID: "alice"}

	t.Run("plan limit is reported before balance", func(t *testing.T) {
		w := newFakeWallet()
		w.balances[org] = d("1000")
		w.used[org] = d("95")
		w.limits[org] = d("100")
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)

		_, err := e.CheckCapacity(context.Background(), org, d("10"))
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrPlanLimitExceeded))
		assert.False(t, types.IsCode(err, types.ErrInsufficientCredits))

		te, ok := types.AsError(err)
		require.True(t, ok)
		require.NotNil(t, te.Credit)
		assert.True(t, te.Credit.Limit.Equal(d("100")))
		assert.True(t, te.Credit.Used.Equal(d("95")))
		assert.True(t, te.Credit.Required.Equal(d("10")))
		assert.True(t, te.Credit.Balance.Equal(d("1000")))
	})

	t.Run("plan limit wins even with empty balance", func(t *testing.T) {
		w := newFakeWallet()
		w.balances[org] = d("0")
		w.used[org] = d("100")
		w.limits[org] = d("100")
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)
		_, err := e.CheckCapacity(context.Background(), org, d("1"))
		assert.True(t, types.IsCode(err, types.ErrPlanLimitExceeded))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		w := newFakeWallet()
		w.balances[user] = d("2")
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)
		_, err := e.CheckCapacity(context.Background(), user, d("5"))
		assert.True(t, types.IsCode(err, types.ErrInsufficientCredits))
		te, _ := types.AsError(err)
		assert.Equal(t, 402, te.HTTPStatus)
	})

	t.Run("ok", func(t *testing.T) {
		w := newFakeWallet()
		w.balances[user] = d("50")
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)
		st, err := e.CheckCapacity(context.Background(), user, d("5"))
		require.NoError(t, err)
		assert.True(t, st.Balance.Equal(d("50")))
	})

	t.Run("wallet errors pass through", func(t *testing.T) {
		w := newFakeWallet()
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)
		_, err := e.CheckCapacity(context.Background(), user, d("1"))
		assert.True(t, types.IsCode(err, types.ErrWalletNotFound))

		boom := errors.New("db down")
		w.checkErr = boom
		_, err = e.CheckCapacity(context.Background(), user, d("1"))
		assert.ErrorIs(t, err, boom)
	})
}

func TestEnforcer_SettleDebitsExactlyOneWallet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "user")
		withOrg := rapid.Bool().Draw(t, "org")
		id := Identity{UserID: userID}
		if withOrg {
			id.OrganizationID = "org-" + userID
		}
		owner, err := id.Owner()
		if err != nil {
			t.Fatal(err)
		}

		w := newFakeWallet()
		personal := OwnerRef{Kind: OwnerPersonal, ID: userID}
		orgRef := OwnerRef{Kind: OwnerOrganization, ID: "org-" + userID}
		w.balances[personal] = d("1000")
		w.balances[orgRef] = d("1000")
		e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)

		in := rapid.IntRange(0, 5000).Draw(t, "in")
		out := rapid.IntRange(0, 5000).Draw(t, "out")
		res, rec, err := e.Settle(context.Background(), Charge{
			Owner: owner, Capability: types.CapabilityTextGeneration, ModelID: "chat-small",
			Usage: llm.Usage{InputTokens: in, OutputTokens: out},
		})
		if err != nil {
			t.Fatal(err)
		}
		if w.debits[personal]+w.debits[orgRef] != 1 {
			t.Fatalf("expected exactly one debit, got personal=%d org=%d", w.debits[personal], w.debits[orgRef])
		}
		if withOrg && w.debits[orgRef] != 1 || !withOrg && w.debits[personal] != 1 {
			t.Fatalf("debited the wrong wallet")
		}
		if !res.CreditsCharged.Equal(rec.CreditsCharged) {
			t.Fatalf("record credits %s != charged %s", rec.CreditsCharged, res.CreditsCharged)
		}
	})
}

func TestEnforcer_SettleChargesActualUsage(t *testing.T) {
	user := OwnerRef{Kind: OwnerPersonal, ID: "alice"}
	w := newFakeWallet()
	w.balances[user] = d("10")
	e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)

	res, rec, err := e.Settle(context.Background(), Charge{
		RequestID: "req-1", Owner: user, Capability: types.CapabilitySpeechRecognition, ModelID: "ears",
		Usage: llm.Usage{AudioSeconds: 61},
	})
	require.NoError(t, err)
	assert.True(t, res.CreditsCharged.Equal(d("12")))
	assert.True(t, res.NewBalance.Equal(d("-2")))
	assert.Equal(t, "req-1", rec.RequestID)
	assert.NotEmpty(t, rec.ID)
	assert.Len(t, rec.Period, 7)
	assert.False(t, rec.Cached)
	require.Len(t, w.records, 1)
	assert.Same(t, rec, w.records[0])
}

func TestEnforcer_SettleDoesNotMutateDebitedRecord(t *testing.T) {
	user := OwnerRef{Kind: OwnerPersonal, ID: "alice"}
	w := newFakeWallet()
	w.balances[user] = d("10")
	charged := d("11.5")
	w.charged = &charged
	e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), nil)

	res, rec, err := e.Settle(context.Background(), Charge{
		RequestID: "req-2", Owner: user, Capability: types.CapabilitySpeechRecognition, ModelID: "ears",
		Usage: llm.Usage{AudioSeconds: 61},
	})
	require.NoError(t, err)
	assert.True(t, res.CreditsCharged.Equal(d("11.5")))
	assert.True(t, rec.CreditsCharged.Equal(d("11.5")))

	require.Len(t, w.records, 1)
	assert.NotSame(t, rec, w.records[0])
	assert.True(t, w.records[0].CreditsCharged.Equal(d("12")), "钱包持有的记录保持定价金额")
	assert.Equal(t, w.records[0].ID, rec.ID)
}

func TestEnforcer_SettleFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := newFakeWallet()
	w.debitErr = errors.New("deadlock")
	e := NewEnforcer(w, nil, NewPricer(testPrices(), nil), zap.New(core))

	_, _, err := e.Settle(context.Background(), Charge{
		Owner: OwnerRef{Kind: OwnerPersonal, ID: "bob"}, Capability: types.CapabilityTextGeneration, ModelID: "chat-small",
		Usage: llm.Usage{InputTokens: 10},
	})
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("settlement failed").Len())
}

func TestEnforcer_RecordCacheHit(t *testing.T) {
	user := OwnerRef{Kind: OwnerPersonal, ID: "alice"}
	w := newFakeWallet()
	w.balances[user] = d("10")
	l := &fakeLedger{}
	e := NewEnforcer(w, l, NewPricer(testPrices(), nil), nil)

	rec := e.RecordCacheHit(context.Background(), Charge{Owner: user, Capability: types.CapabilityTextGeneration, ModelID: "chat-small"})
	assert.True(t, rec.Cached)
	assert.True(t, rec.CreditsCharged.IsZero())
	assert.Len(t, l.records, 1)
	assert.Zero(t, w.debits[user])
	assert.True(t, w.balances[user].Equal(d("10")))

	core, logs := observer.New(zap.WarnLevel)
	l.err = errors.New("ledger offline")
	e = NewEnforcer(w, l, NewPricer(testPrices(), nil), zap.New(core))
	rec = e.RecordCacheHit(context.Background(), Charge{Owner: user, Capability: types.CapabilityTextGeneration, ModelID: "chat-small"})
	assert.NotNil(t, rec)
	assert.Equal(t, 1, logs.Len())
}

func TestPeriod(t *testing.T) {
	e := NewEnforcer(newFakeWallet(), nil, NewPricer(nil, nil), nil)
	rec := e.newRecord(Charge{}, decimal.Zero, true)
	assert.Equal(t, Period(rec.CreatedAt), rec.Period)
}
