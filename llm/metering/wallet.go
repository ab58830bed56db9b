package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
)

// OwnerKind 钱包归属类型
type OwnerKind string

const (
	OwnerPersonal     OwnerKind = "personal"
	OwnerOrganization OwnerKind = "organization"
)

// OwnerRef 唯一确定一个钱包
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o OwnerRef) String() string { return string(o.Kind) + ":" + o.ID }

// Identity 已解析的调用方身份
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Owner 组织上下文只用组织钱包，否则只用个人钱包
func (i Identity) Owner() (OwnerRef, error) {
	if i.OrganizationID != "" {
		return OwnerRef{Kind: OwnerOrganization, ID: i.OrganizationID}, nil
	}
	if i.UserID != "" {
		return OwnerRef{Kind: OwnerPersonal, ID: i.UserID}, nil
	}
	return OwnerRef{}, types.NewError(types.ErrInvalidRequest, "identity has neither user nor organization").WithHTTPStatus(400)
}

// CapacityStatus 钱包服务的额度校验结果。PlanLimit 为零表示无计划上限。
type CapacityStatus struct {
	HasCredits      bool            `json:"has_credits"`
	WithinPlanLimit bool            `json:"within_plan_limit"`
	Balance         decimal.Decimal `json:"balance"`
	MonthlyUsed     decimal.Decimal `json:"monthly_used"`
	PlanLimit       decimal.Decimal `json:"plan_limit"`
}

// DebitResult 扣费结果
type DebitResult struct {
	CreditsCharged decimal.Decimal `json:"credits_charged"`
	NewBalance     decimal.Decimal `json:"new_balance"`
}

// UsageRecord 一次调用的用量记录，创建后不再修改
type UsageRecord struct {
	ID             string           `json:"id"`
	RequestID      string           `json:"request_id,omitempty"`
	Owner          OwnerRef         `json:"owner"`
	Capability     types.Capability `json:"capability"`
	ModelID        types.ModelID    `json:"model_id"`
	Usage          llm.Usage        `json:"usage"`
	CreditsCharged decimal.Decimal  `json:"credits_charged"`
	Cached         bool             `json:"cached"`
	Period         string           `json:"period"` // YYYY-MM
	CreatedAt      time.Time        `json:"created_at"`
}

// Period 计费周期，按 UTC 月
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Wallet 钱包服务。Debit 必须在实现内部原子完成扣费与用量记录写入。
// 找不到钱包时返回 WALLET_NOT_FOUND。
type Wallet interface {
	CheckCredits(ctx context.Context, owner OwnerRef, estimate decimal.Decimal) (*CapacityStatus, error)
	Debit(ctx context.Context, owner OwnerRef, record *UsageRecord) (*DebitResult, error)
}

// AggregateQuery 聚合查询条件，零值字段不参与过滤
type AggregateQuery struct {
	Owner      *OwnerRef
	Period     string
	Capability types.Capability
	ModelID    types.ModelID
}

// AggregateRow 按 owner/period/capability/model 分组的汇总
type AggregateRow struct {
	Owner          OwnerRef         `json:"owner"`
	Period         string           `json:"period"`
	Capability     types.Capability `json:"capability"`
	ModelID        types.ModelID    `json:"model_id"`
	Requests       int64            `json:"requests"`
	CachedRequests int64            `json:"cached_requests"`
	InputTokens    int64            `json:"input_tokens"`
	OutputTokens   int64            `json:"output_tokens"`
	Images         int64            `json:"images"`
	Characters     int64            `json:"characters"`
	AudioSeconds   float64          `json:"audio_seconds"`
	Credits        decimal.Decimal  `json:"credits"`
}

// Ledger 只追加的用量账本；Aggregate 仅用于报表，不在请求热路径上。
type Ledger interface {
	Append(ctx context.Context, record *UsageRecord) (string, error)
	Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)
}

// NewWalletNotFoundError 钱包不存在
func NewWalletNotFoundError(owner OwnerRef) *types.Error {
	return types.NewError(types.ErrWalletNotFound, fmt.Sprintf("wallet %s not found", owner)).WithHTTPStatus(404)
}
