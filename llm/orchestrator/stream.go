package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
)

// StreamHandle 流式请求句柄。调用方必须消费完 Chunks 或取消 ctx，
// 之后 Result 才会返回。
type StreamHandle struct {
	chunks chan llm.StreamChunk
	done   chan struct{}
	resp   *Response
	err    error
}

func newStreamHandle(buffer int) *StreamHandle {
	return &StreamHandle{
		chunks: make(chan llm.StreamChunk, buffer),
		done:   make(chan struct{}),
	}
}

// Chunks 返回增量分块，流结束后关闭
func (h *StreamHandle) Chunks() <-chan llm.StreamChunk { return h.chunks }

// Result 阻塞到流结束，返回最终响应（含实际用量与扣费）或错误
func (h *StreamHandle) Result() (*Response, error) {
	<-h.done
	return h.resp, h.err
}

// Done 流结束时关闭
func (h *StreamHandle) Done() <-chan struct{} { return h.done }

func (h *StreamHandle) complete(resp *Response, err error) {
	h.resp, h.err = resp, err
	close(h.chunks)
	close(h.done)
}

func streamable(c types.Capability) bool {
	return c == types.CapabilityTextGeneration || c == types.CapabilityImageUnderstanding
}

// ExecuteStream 流式执行。缓存查询、路由、额度校验与建立上游流在返回前同步完成，
// 这些阶段的错误直接返回；此后的错误通过 Result 返回。
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *Request) (*StreamHandle, error) {
	ctx, c, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !streamable(c.capability) {
		err := invalid(fmt.Sprintf("streaming is not supported for %s", c.capability))
		o.finish(c, nil, err)
		return nil, err
	}

	if content, hit := o.lookupCache(ctx, c); hit {
		resp := o.cacheHit(ctx, c, content)
		h := newStreamHandle(1)
		h.chunks <- llm.StreamChunk{Model: string(resp.Model), Delta: content, FinishReason: resp.FinishReason}
		o.finish(c, resp, nil)
		h.complete(resp, nil)
		return h, nil
	}

	if err := o.route(ctx, c); err != nil {
		o.finish(c, nil, err)
		return nil, err
	}
	if err := o.checkCapacity(ctx, c); err != nil {
		o.finish(c, nil, err)
		return nil, err
	}

	start := time.Now()
	st, err := c.adapter.(llm.TextGenerator).GenerateStream(ctx, c.textRequest())
	if err != nil {
		err = upstreamError(ctx, err)
		o.finish(c, nil, err)
		return nil, err
	}

	h := newStreamHandle(o.streamBuffer)
	go o.drain(ctx, c, st, h, start)
	return h, nil
}

// drain Calling 覆盖整个消费过程；上游结束后才回写缓存并按最终用量结算。
// 中途取消不扣费。
func (o *Orchestrator) drain(ctx context.Context, c *call, st llm.Stream, h *StreamHandle, start time.Time) {
	var (
		resp *Response
		err  error
	)
	defer func() {
		o.finish(c, resp, err)
		h.complete(resp, err)
	}()

	var (
		content strings.Builder
		finish  string
	)
	upstream := st.Chunks()
	for upstream != nil {
		select {
		case <-ctx.Done():
			err = upstreamError(ctx, ctx.Err())
			return
		case chunk, ok := <-upstream:
			if !ok {
				upstream = nil
				continue
			}
			content.WriteString(chunk.Delta)
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			select {
			case h.chunks <- chunk:
			case <-ctx.Done():
				err = upstreamError(ctx, ctx.Err())
				return
			}
		}
	}
	o.metrics.RecordUpstream(c.model.ProviderID, string(c.model.ID), time.Since(start))

	if serr := st.Err(); serr != nil {
		err = upstreamError(ctx, serr)
		return
	}
	// 适配器未报告用量时按输出补齐
	reported, _ := st.Usage()

	out := &Response{
		RequestID:      c.requestID,
		Capability:     c.capability,
		Model:          c.model.ID,
		RequestedModel: c.requested,
		Provider:       c.model.ProviderID,
		Content:        content.String(),
		FinishReason:   finish,
		Complexity:     c.decision.Complexity,
		Routing:        c.decision.Reason,
	}
	o.writeCache(ctx, c, out.Content)
	if err = o.settle(ctx, c, out, out.Content, reported); err != nil {
		return
	}
	resp = out
}
