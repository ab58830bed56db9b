package router

import (
	"context"
	"fmt"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/types"
	"go.uber.org/zap"
)

// Reason 路由结果说明
type Reason string

const (
	ReasonKept       Reason = "kept"
	ReasonDowngraded Reason = "downgraded"
	ReasonFallback   Reason = "fallback"
)

// ModelCatalog 路由所需的目录视图
type ModelCatalog interface {
	Lookup(id types.ModelID) (catalog.ModelDescriptor, bool)
	IsAvailable(id types.ModelID) bool
	Cheapest(capability types.Capability) (catalog.ModelDescriptor, bool)
	SameProvider(providerID string, capability types.Capability) []catalog.ModelDescriptor
	AvailableIDs(capability types.Capability) []string
}

// RouteRequest 路由请求
type RouteRequest struct {
	Capability     types.Capability
	RequestedModel types.ModelID
	Messages       []llm.Message
	AllowDowngrade bool
}

// Decision 路由结果
type Decision struct {
	ModelID    types.ModelID
	Requested  types.ModelID
	Complexity Complexity
	Reason     Reason
}

// Router 只降不升的模型路由器
type Router struct {
	catalog ModelCatalog
	logger  *zap.Logger
}

func New(c ModelCatalog, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{catalog: c, logger: logger.With(zap.String("component", "router"))}
}

// Route 选择实际调用的模型
func (r *Router) Route(ctx context.Context, req RouteRequest) (*Decision, error) {
	capability, err := types.ParseCapability(string(req.Capability))
	if err != nil {
		return nil, err
	}
	complexity := ClassifyComplexity(req.Messages)
	d := &Decision{ModelID: req.RequestedModel, Requested: req.RequestedModel, Complexity: complexity, Reason: ReasonKept}

	requested, ok := r.catalog.Lookup(req.RequestedModel)
	available := ok && requested.Capability == capability && r.catalog.IsAvailable(req.RequestedModel)

	if !available {
		alts := r.catalog.AvailableIDs(capability)
		if !req.AllowDowngrade {
			// 关闭智能路由时不替换模型
			return nil, types.NewModelUnavailableError(
				fmt.Sprintf("model %q is not available for %s", req.RequestedModel, capability), alts)
		}
		cheapest, found := r.catalog.Cheapest(capability)
		if !found {
			return nil, types.NewModelUnavailableError(
				fmt.Sprintf("no AI capacity for %s", capability), nil)
		}
		d.ModelID, d.Reason = cheapest.ID, ReasonFallback
		r.logger.Info("requested model unavailable, falling back",
			zap.String("requested", string(req.RequestedModel)),
			zap.String("model", string(cheapest.ID)))
		return d, nil
	}

	if !req.AllowDowngrade {
		return d, nil
	}

	target := complexity.TargetTier()
	var candidates []catalog.ModelDescriptor
	for _, m := range r.catalog.SameProvider(requested.ProviderID, capability) {
		if m.Tier >= target && m.Tier <= requested.Tier {
			candidates = append(candidates, m)
		}
	}
	best, found := catalog.CheapestOf(candidates, capability)
	if !found || best.ID == requested.ID {
		return d, nil
	}
	if best.Pricing.ReferencePrice(capability).GreaterThanOrEqual(requested.Pricing.ReferencePrice(capability)) {
		return d, nil
	}

	d.ModelID, d.Reason = best.ID, ReasonDowngraded
	r.logger.Info("routing downgrade",
		zap.String("requested", string(requested.ID)),
		zap.String("model", string(best.ID)),
		zap.String("complexity", string(complexity)))
	return d, nil
}
