package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/aicore/testutil"
	"github.com/BaSui01/aicore/testutil/fixtures"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteStream_ForwardsChunksAndSettles(t *testing.T) {
	h := newHarness(t)
	h.provider.WithStreamChunks("Paris ", "is the ", "capital.")

	handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	chunks := testutil.CollectStreamChunks(handle.Chunks())
	require.Len(t, chunks, 3)
	assert.Equal(t, "stop", chunks[2].FinishReason)

	resp, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.True(t, d("0.05").Equal(resp.CreditsUsed))
	require.NotNil(t, resp.NewBalance)
	assert.True(t, d("999.95").Equal(*resp.NewBalance))
	assert.Equal(t, 1, h.wallet.DebitCount(alice))

	select {
	case <-handle.Done():
	default:
		t.Fatal("done channel should be closed after Result")
	}

	// 完整流回写缓存，后续阻塞请求命中
	again, err := h.orch.Execute(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "what is the capital of france"))
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, "Paris is the capital.", again.Content)
}

func TestExecuteStream_CacheHitEmitsSingleChunk(t *testing.T) {
	h := newHarness(t)
	h.provider.WithResponse("Paris is the capital of France.")
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	handle, err := h.orch.ExecuteStream(ctx, textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	chunks := testutil.CollectStreamChunks(handle.Chunks())
	require.Len(t, chunks, 1)
	assert.Equal(t, "Paris is the capital of France.", chunks[0].Delta)
	assert.Equal(t, "stop", chunks[0].FinishReason)

	resp, err := handle.Result()
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.True(t, resp.CreditsUsed.IsZero())
	assert.Nil(t, resp.NewBalance)
	assert.Equal(t, 1, h.provider.CallCount())
	assert.Equal(t, 1, h.wallet.DebitCount(alice))
}

func TestExecuteStream_CancelMidStreamNoCharge(t *testing.T) {
	h := newHarness(t)
	h.provider.WithStreamChunks("one ", "two ", "three").WithChunkDelay(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := h.orch.ExecuteStream(ctx, textRequest(string(fixtures.ModelMini), "Count to three for me please"))
	require.NoError(t, err)

	first, ok := testutil.WaitForChannel(handle.Chunks(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "one ", first.Delta)
	cancel()

	_, err = handle.Result()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.wallet.TotalDebits())
	assert.Zero(t, h.store.Len())
}

func TestExecuteStream_UpstreamErrorNoCharge(t *testing.T) {
	h := newHarness(t)
	h.provider.WithStreamChunks("partial").
		WithStreamError(types.NewError(types.ErrProviderError, "stream reset").WithHTTPStatus(502))

	handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)

	assert.Equal(t, "partial", testutil.CollectStreamContent(handle.Chunks()))
	resp, err := handle.Result()
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, types.IsCode(err, types.ErrProviderError))
	assert.Zero(t, h.wallet.TotalDebits())
	assert.Zero(t, h.store.Len())
}

func TestExecuteStream_RetriesConnection(t *testing.T) {
	h := newHarness(t)
	h.provider.WithErrorSequence(
		types.NewError(types.ErrRateLimited, "slow down").WithHTTPStatus(429),
	).WithStreamChunks("ok then")

	handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	assert.Equal(t, "ok then", testutil.CollectStreamContent(handle.Chunks()))

	_, err = handle.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, h.provider.CallCount())
	assert.Equal(t, 1, h.wallet.TotalDebits())
}

func TestExecuteStream_SynchronousRejections(t *testing.T) {
	t.Run("unsupported capability", func(t *testing.T) {
		h := newHarness(t)
		handle, err := h.orch.ExecuteStream(testutil.TestContext(t), &Request{
			Capability: types.CapabilitySpeechSynthesis,
			Model:      string(fixtures.ModelTTS),
			Text:       "hello world",
			Identity:   textRequest("", "x").Identity,
		})
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
		assert.Zero(t, h.provider.CallCount())
	})

	t.Run("insufficient credits", func(t *testing.T) {
		h := newHarness(t)
		h.wallet.WithWallet(alice, decimal.Zero, decimal.Zero)
		handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.True(t, types.IsCode(err, types.ErrInsufficientCredits))
		assert.Zero(t, h.provider.CallCount())
	})

	t.Run("connection failure", func(t *testing.T) {
		h := newHarness(t)
		h.provider.WithError(types.NewError(types.ErrContentFiltered, "blocked").WithHTTPStatus(400))
		handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
			textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.True(t, types.IsCode(err, types.ErrContentFiltered))
		assert.Zero(t, h.wallet.TotalDebits())
	})
}

func TestExecuteStream_MissingUsageIsEstimated(t *testing.T) {
	h := newHarness(t)
	h.provider.WithoutUsage().WithStreamChunks("Paris is ", "the capital.")

	handle, err := h.orch.ExecuteStream(testutil.TestContext(t),
		textRequest(string(fixtures.ModelMini), "What is the capital of France?"))
	require.NoError(t, err)
	testutil.CollectStreamChunks(handle.Chunks())

	resp, err := handle.Result()
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Positive(t, resp.Usage.OutputTokens)
	assert.True(t, resp.CreditsUsed.IsPositive())
	assert.Equal(t, 1, h.wallet.DebitCount(alice))
}

func TestExecuteStream_ImageUnderstanding(t *testing.T) {
	h := newHarness(t)
	h.provider.WithStreamChunks("A cat ", "on a mat.")

	handle, err := h.orch.ExecuteStream(testutil.TestContext(t), &Request{
		Capability: types.CapabilityImageUnderstanding,
		Model:      string(fixtures.ModelVision),
		Messages:   fixtures.WithImage(fixtures.UserMessage("What is in this image?"), "https://example.com/cat.png"),
		Identity:   textRequest("", "x").Identity,
	})
	require.NoError(t, err)
	assert.Equal(t, "A cat on a mat.", testutil.CollectStreamContent(handle.Chunks()))

	resp, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, fixtures.ModelVision, resp.Model)
	assert.True(t, d("0.5").Equal(resp.CreditsUsed))
}
