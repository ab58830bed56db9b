package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeStream_UsageAfterExhaustion(t *testing.T) {
	s := NewPipeStream(4)
	ctx := context.Background()

	require.True(t, s.Send(ctx, StreamChunk{Delta: "hel"}))
	require.True(t, s.Send(ctx, StreamChunk{Delta: "lo"}))
	s.Finish(&Usage{InputTokens: 3, OutputTokens: 2}, nil)

	text, usage, err := Drain(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 5, usage.TotalTokens())

	u, ok := s.Usage()
	assert.True(t, ok)
	assert.Equal(t, 3, u.InputTokens)
}

func TestPipeStream_ErrorDropsUsage(t *testing.T) {
	s := NewPipeStream(1)
	boom := errors.New("boom")
	s.Finish(&Usage{InputTokens: 10}, boom)
	s.Finish(nil, nil) // 第二次无效

	_, _, err := Drain(context.Background(), s)
	assert.ErrorIs(t, err, boom)
	_, ok := s.Usage()
	assert.False(t, ok)
}

func TestPipeStream_SendHonorsCancellation(t *testing.T) {
	s := NewPipeStream(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.Send(ctx, StreamChunk{Delta: "x"}))
	s.Finish(nil, ctx.Err())

	_, ok := <-s.Chunks()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), context.Canceled)
	_, hasUsage := s.Usage()
	assert.False(t, hasUsage)
}
