package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/internal/ctxkeys"
	"github.com/BaSui01/aicore/internal/metrics"
	"github.com/BaSui01/aicore/internal/telemetry"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/cache"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/providers"
	"github.com/BaSui01/aicore/llm/retry"
	"github.com/BaSui01/aicore/llm/router"
	"github.com/BaSui01/aicore/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultStreamBuffer 流式句柄的分块缓冲
const DefaultStreamBuffer = 16

// Config 编排器依赖与默认行为
type Config struct {
	Catalog   router.ModelCatalog
	Registry  *llm.ProviderRegistry
	Estimator *metering.Estimator
	Enforcer  *metering.Enforcer

	// Cache 为 nil 时关闭语义缓存
	Cache *cache.SemanticCache
	// CacheTTL 为 0 时使用缓存自身的默认 TTL
	CacheTTL time.Duration
	// RetryPolicy 为 nil 时上游调用不重试
	RetryPolicy *retry.RetryPolicy
	Metrics     *metrics.Collector
	Logger      *zap.Logger

	// DefaultModels 请求未指定模型时使用
	DefaultModels map[types.Capability]types.ModelID
	// SmartRouting 请求未显式指定时是否允许降级路由
	SmartRouting bool
	StreamBuffer int
}

// Orchestrator 请求编排器，可被多个 goroutine 并发使用
type Orchestrator struct {
	catalog   router.ModelCatalog
	registry  *llm.ProviderRegistry
	router    *router.Router
	estimator *metering.Estimator
	enforcer  *metering.Enforcer
	cache     *cache.SemanticCache
	cacheTTL  time.Duration
	policy    *retry.RetryPolicy
	metrics   *metrics.Collector
	logger    *zap.Logger

	defaults     map[types.Capability]types.ModelID
	smartRouting bool
	streamBuffer int
}

// New 创建编排器
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("orchestrator: catalog is required")
	case cfg.Registry == nil:
		return nil, errors.New("orchestrator: provider registry is required")
	case cfg.Estimator == nil:
		return nil, errors.New("orchestrator: estimator is required")
	case cfg.Enforcer == nil:
		return nil, errors.New("orchestrator: enforcer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	defaults := make(map[types.Capability]types.ModelID, len(cfg.DefaultModels))
	for k, v := range cfg.DefaultModels {
		defaults[k] = v
	}
	return &Orchestrator{
		catalog:      cfg.Catalog,
		registry:     cfg.Registry,
		router:       router.New(cfg.Catalog, logger),
		estimator:    cfg.Estimator,
		enforcer:     cfg.Enforcer,
		cache:        cfg.Cache,
		cacheTTL:     cfg.CacheTTL,
		policy:       cfg.RetryPolicy,
		metrics:      cfg.Metrics,
		logger:       logger.With(zap.String("component", "orchestrator")),
		defaults:     defaults,
		smartRouting: cfg.SmartRouting,
		streamBuffer: buffer,
	}, nil
}

// call 单个请求在各状态之间传递的上下文
type call struct {
	req        *Request
	capability types.Capability
	owner      metering.OwnerRef
	requestID  string
	requested  types.ModelID
	input      metering.EstimateInput
	cacheable  bool

	decision *router.Decision
	model    catalog.ModelDescriptor
	adapter  llm.Adapter

	span    trace.Span
	logger  *zap.Logger
	started time.Time
}

// Execute 阻塞式执行一次请求
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (resp *Response, err error) {
	ctx, c, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { o.finish(c, resp, err) }()

	if content, hit := o.lookupCache(ctx, c); hit {
		return o.cacheHit(ctx, c, content), nil
	}
	if err := o.route(ctx, c); err != nil {
		return nil, err
	}
	if err := o.checkCapacity(ctx, c); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, output, reported, err := o.invoke(ctx, c)
	o.metrics.RecordUpstream(c.model.ProviderID, string(c.model.ID), time.Since(start))
	if err != nil {
		return nil, upstreamError(ctx, err)
	}

	o.writeCache(ctx, c, resp.Content)
	if err := o.settle(ctx, c, resp, output, reported); err != nil {
		return nil, err
	}
	return resp, nil
}

// InvalidateModel 清除某模型的全部缓存条目
func (o *Orchestrator) InvalidateModel(ctx context.Context, modelID types.ModelID) (int, error) {
	if o.cache == nil {
		return 0, nil
	}
	return o.cache.InvalidateModel(ctx, string(modelID))
}

// InvalidateConversation 清除某会话作用域的缓存条目
func (o *Orchestrator) InvalidateConversation(ctx context.Context, conversationID string) (int, error) {
	if o.cache == nil {
		return 0, nil
	}
	return o.cache.InvalidateConversation(ctx, conversationID)
}

// begin Started：校验请求、解析钱包归属与请求 ID、开启 span
func (o *Orchestrator) begin(ctx context.Context, req *Request) (context.Context, *call, error) {
	capability, err := req.validate()
	if err != nil {
		return ctx, nil, err
	}
	identity := req.Identity
	if identity.UserID == "" && identity.OrganizationID == "" {
		// 上游中间件可能已把身份放进 ctx
		identity.UserID, identity.OrganizationID = ctxkeys.Identity(ctx)
	}
	owner, err := identity.Owner()
	if err != nil {
		return ctx, nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID, _ = ctxkeys.RequestID(ctx)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = ctxkeys.WithRequestID(ctx, requestID)

	requested, err := o.requestedModel(capability, req.Model)
	if err != nil {
		return ctx, nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "orchestrator."+string(capability),
		telemetry.AttrRequestID.String(requestID),
		telemetry.AttrCapability.String(string(capability)),
		telemetry.AttrOwner.String(owner.String()),
		telemetry.AttrRequested.String(string(requested)),
	)
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
	}

	return ctx, &call{
		req:        req,
		capability: capability,
		owner:      owner,
		requestID:  requestID,
		requested:  requested,
		input:      req.estimateInput(),
		span:       span,
		logger: o.logger.With(
			zap.String("request_id", requestID),
			zap.String("capability", string(capability)),
			zap.String("owner", owner.String())),
		started: time.Now(),
	}, nil
}

// requestedModel 请求模型，未指定时取能力默认模型；都没有时返回空，由路由选最便宜的
func (o *Orchestrator) requestedModel(capability types.Capability, model string) (types.ModelID, error) {
	if model != "" {
		return types.ParseModelID(model)
	}
	return o.defaults[capability], nil
}

// lookupCache CacheCheck。只有文本生成参与缓存。
func (o *Orchestrator) lookupCache(ctx context.Context, c *call) (string, bool) {
	c.cacheable = o.cacheable(c)
	if !c.cacheable {
		return "", false
	}
	content, ok := o.cache.Get(ctx, string(c.requested), c.req.Messages, c.req.ConversationID)
	if ok {
		o.metrics.RecordCacheHit()
	} else {
		o.metrics.RecordCacheMiss()
	}
	return content, ok
}

func (o *Orchestrator) cacheable(c *call) bool {
	if o.cache == nil || c.capability != types.CapabilityTextGeneration || c.requested == "" {
		return false
	}
	if reason := o.cache.SkipReason(c.req.Messages); reason != cache.SkipNone {
		o.metrics.RecordCacheSkip(string(reason))
		return false
	}
	return true
}

// cacheHit CacheHit → Respond：不扣费，只写零 credits 记录
func (o *Orchestrator) cacheHit(ctx context.Context, c *call, content string) *Response {
	rec := o.enforcer.RecordCacheHit(ctx, metering.Charge{
		RequestID:  c.requestID,
		Owner:      c.owner,
		Capability: c.capability,
		ModelID:    c.requested,
	})
	c.span.SetAttributes(telemetry.AttrCacheHit.Bool(true))
	c.logger.Debug("cache hit", zap.String("model", string(c.requested)))

	resp := &Response{
		RequestID:      c.requestID,
		Capability:     c.capability,
		Model:          c.requested,
		RequestedModel: c.requested,
		Content:        content,
		FinishReason:   "stop",
		Usage:          rec.Usage,
		CreditsUsed:    rec.CreditsCharged,
		Cached:         true,
	}
	if m, ok := o.catalog.Lookup(c.requested); ok {
		resp.Provider = m.ProviderID
	}
	return resp
}

// route Routed：选定模型并解析适配器
func (o *Orchestrator) route(ctx context.Context, c *call) error {
	allow := o.smartRouting
	if c.req.SmartRouting != nil {
		allow = *c.req.SmartRouting
	}
	msgs := c.req.routingMessages()

	if c.requested == "" {
		cheapest, ok := o.catalog.Cheapest(c.capability)
		if !ok {
			return types.NewModelUnavailableError(fmt.Sprintf("no AI capacity for %s", c.capability), nil)
		}
		c.decision = &router.Decision{
			ModelID:    cheapest.ID,
			Complexity: router.ClassifyComplexity(msgs),
			Reason:     router.ReasonFallback,
		}
	} else {
		d, err := o.router.Route(ctx, router.RouteRequest{
			Capability:     c.capability,
			RequestedModel: c.requested,
			Messages:       msgs,
			AllowDowngrade: allow,
		})
		if err != nil {
			return err
		}
		c.decision = d
	}
	o.metrics.RecordRouting(string(c.decision.Reason), string(c.decision.Complexity))

	model, ok := o.catalog.Lookup(c.decision.ModelID)
	if !ok {
		return types.NewModelUnavailableError(
			fmt.Sprintf("model %q is not in the catalog", c.decision.ModelID), o.alternatives(c.capability))
	}
	adapter, ok := o.registry.Get(model.ProviderID, c.capability)
	if !ok {
		return types.NewModelUnavailableError(
			fmt.Sprintf("provider %q for model %q is not configured", model.ProviderID, model.ID),
			o.alternatives(c.capability)).WithProvider(model.ProviderID)
	}
	if o.policy != nil {
		wrapped, err := providers.WithRetry(c.capability, adapter, o.retryer(model.ProviderID, c.logger))
		if err != nil {
			return types.NewError(types.ErrModelUnavailable, err.Error()).WithHTTPStatus(503).WithCause(err)
		}
		adapter = wrapped
	}

	c.model, c.adapter = model, adapter
	c.span.SetAttributes(
		telemetry.AttrModel.String(string(model.ID)),
		telemetry.AttrProvider.String(model.ProviderID),
		telemetry.AttrRouting.String(string(c.decision.Reason)),
	)
	c.logger = c.logger.With(zap.String("model", string(model.ID)), zap.String("provider", model.ProviderID))
	return nil
}

// alternatives 当前可用且已配置适配器的模型
func (o *Orchestrator) alternatives(capability types.Capability) []string {
	ids := o.catalog.AvailableIDs(capability)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		m, ok := o.catalog.Lookup(types.ModelID(id))
		if !ok {
			continue
		}
		if _, ok := o.registry.Get(m.ProviderID, capability); ok {
			out = append(out, id)
		}
	}
	return out
}

func (o *Orchestrator) retryer(provider string, logger *zap.Logger) retry.Retryer {
	p := *o.policy
	next := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.metrics.RecordRetry(provider)
		if next != nil {
			next(attempt, err, delay)
		}
	}
	return retry.NewBackoffRetryer(&p, logger)
}

// checkCapacity CapacityChecked：按预估校验计划上限与余额
func (o *Orchestrator) checkCapacity(ctx context.Context, c *call) error {
	_, estimate := o.estimator.Estimate(c.capability, c.model.ID, c.input)
	if _, err := o.enforcer.CheckCapacity(ctx, c.owner, estimate); err != nil {
		o.metrics.RecordCreditRejection(err)
		return err
	}
	return nil
}

// invoke Calling：阻塞调用，返回响应、用于补齐用量的输出文本与上游报告的用量
func (o *Orchestrator) invoke(ctx context.Context, c *call) (*Response, string, llm.Usage, error) {
	resp := &Response{
		RequestID:      c.requestID,
		Capability:     c.capability,
		Model:          c.model.ID,
		RequestedModel: c.requested,
		Provider:       c.model.ProviderID,
		Complexity:     c.decision.Complexity,
		Routing:        c.decision.Reason,
	}
	model := string(c.model.ID)
	opts := c.req.Options

	switch c.capability {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		out, err := c.adapter.(llm.TextGenerator).Generate(ctx, c.textRequest())
		if err != nil {
			return nil, "", llm.Usage{}, err
		}
		resp.Content, resp.FinishReason = out.Content, out.FinishReason
		return resp, out.Content, out.Usage, nil

	case types.CapabilityTextEmbedding:
		out, err := c.adapter.(llm.Embedder).Embed(ctx, &llm.EmbeddingRequest{Model: model, Inputs: c.req.Inputs})
		if err != nil {
			return nil, "", llm.Usage{}, err
		}
		resp.Embeddings = out.Embeddings
		return resp, "", out.Usage, nil

	case types.CapabilityImageGeneration:
		out, err := c.adapter.(llm.ImageGenerator).GenerateImage(ctx, &llm.ImageRequest{
			Model:   model,
			Prompt:  c.req.Prompt,
			N:       opts.N,
			Size:    opts.Size,
			Quality: opts.Quality,
			Style:   opts.Style,
		})
		if err != nil {
			return nil, "", llm.Usage{}, err
		}
		resp.Images = out.Images
		c.input.ImageCount = len(out.Images)
		return resp, "", out.Usage, nil

	case types.CapabilitySpeechSynthesis:
		out, err := c.adapter.(llm.SpeechSynthesizer).Synthesize(ctx, &llm.SpeechRequest{
			Model:  model,
			Text:   c.req.Text,
			Voice:  opts.Voice,
			Format: opts.Format,
			Speed:  opts.Speed,
		})
		if err != nil {
			return nil, "", llm.Usage{}, err
		}
		resp.Audio, resp.AudioFormat = out.Audio, out.Format
		return resp, "", out.Usage, nil

	case types.CapabilitySpeechRecognition:
		out, err := c.adapter.(llm.SpeechRecognizer).Transcribe(ctx, &llm.TranscriptionRequest{
			Model:           model,
			Audio:           c.req.Audio,
			Filename:        c.req.AudioFilename,
			Language:        opts.Language,
			DeclaredSeconds: c.req.AudioSeconds,
		})
		if err != nil {
			return nil, "", llm.Usage{}, err
		}
		resp.Content = out.Text
		if out.Duration > 0 {
			c.input.AudioSeconds = out.Duration
		}
		return resp, out.Text, out.Usage, nil
	}
	return nil, "", llm.Usage{}, invalid(fmt.Sprintf("unsupported capability %s", c.capability))
}

func (c *call) textRequest() *llm.TextRequest {
	return &llm.TextRequest{
		Model:       string(c.model.ID),
		Messages:    c.req.Messages,
		MaxTokens:   c.req.Options.MaxTokens,
		Temperature: c.req.Options.Temperature,
		Stop:        c.req.Options.Stop,
	}
}

// writeCache CacheWrite：只在成功调用后回写，失败由缓存内部吞掉
func (o *Orchestrator) writeCache(ctx context.Context, c *call, content string) {
	if content == "" || !c.cacheable {
		return
	}
	o.cache.Set(ctx, string(c.requested), c.req.Messages, c.req.ConversationID, content, o.cacheTTL)
}

// settle Metered：按实际用量扣费。上游已完成的工作必须入账，
// 因此结算不受调用方取消影响。
func (o *Orchestrator) settle(ctx context.Context, c *call, resp *Response, output string, reported llm.Usage) error {
	usage := o.estimator.CompleteUsage(c.capability, c.model.ID, c.input, output, reported)
	res, _, err := o.enforcer.Settle(context.WithoutCancel(ctx), metering.Charge{
		RequestID:  c.requestID,
		Owner:      c.owner,
		Capability: c.capability,
		ModelID:    c.model.ID,
		Usage:      usage,
	})
	if err != nil {
		return err
	}
	balance := res.NewBalance
	resp.Usage = usage
	resp.CreditsUsed = res.CreditsCharged
	resp.NewBalance = &balance

	c.span.SetAttributes(telemetry.AttrCredits.String(res.CreditsCharged.String()))
	o.metrics.RecordUsage(string(c.capability), string(c.model.ID),
		usage.InputTokens, usage.OutputTokens, res.CreditsCharged.InexactFloat64())
	return nil
}

// finish 记录指标、日志并结束 span
func (o *Orchestrator) finish(c *call, resp *Response, err error) {
	model := string(c.requested)
	if c.model.ID != "" {
		model = string(c.model.ID)
	}
	elapsed := time.Since(c.started)
	o.metrics.RecordRequest(string(c.capability), model, err, elapsed)
	telemetry.EndSpan(c.span, err)

	switch {
	case err == nil:
		c.logger.Info("request completed",
			zap.Bool("cached", resp.Cached),
			zap.String("credits", resp.CreditsUsed.String()),
			zap.Duration("duration", elapsed))
	case errors.Is(err, context.Canceled):
		c.logger.Info("request canceled", zap.Duration("duration", elapsed))
	default:
		c.logger.Warn("request failed",
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	}
}

// upstreamError 调用方取消统一返回 context.Canceled；截止时间耗尽映射为 TIMEOUT；
// 其余错误原样返回。
func upstreamError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "request deadline exceeded").
			WithHTTPStatus(504).
			WithRetryable(true).
			WithCause(err)
	}
	return err
}
