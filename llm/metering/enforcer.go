package metering

import (
	"context"
	"time"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Charge 一次结算的输入
type Charge struct {
	RequestID  string
	Owner      OwnerRef
	Capability types.Capability
	ModelID    types.ModelID
	Usage      llm.Usage
}

// Enforcer 额度校验与结算
type Enforcer struct {
	wallet Wallet
	ledger Ledger
	pricer *Pricer
	logger *zap.Logger
	now    func() time.Time
}

// NewEnforcer ledger 可为 nil，此时缓存命中不写记录
func NewEnforcer(wallet Wallet, ledger Ledger, pricer *Pricer, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		wallet: wallet,
		ledger: ledger,
		pricer: pricer,
		logger: logger.With(zap.String("component", "metering")),
		now:    time.Now,
	}
}

// Pricer 返回计价器
func (e *Enforcer) Pricer() *Pricer { return e.pricer }

// CheckCapacity 调用前校验。计划上限优先于余额判定：
// 即使余额足够，超出月度上限也返回 PLAN_LIMIT_EXCEEDED。
func (e *Enforcer) CheckCapacity(ctx context.Context, owner OwnerRef, estimate decimal.Decimal) (*CapacityStatus, error) {
	status, err := e.wallet.CheckCredits(ctx, owner, estimate)
	if err != nil {
		return nil, err
	}
	detail := types.CreditDetail{
		Required: estimate,
		Balance:  status.Balance,
		Limit:    status.PlanLimit,
		Used:     status.MonthlyUsed,
	}
	if !status.WithinPlanLimit {
		e.logger.Info("plan limit exceeded",
			zap.String("owner", owner.String()),
			zap.String("required", estimate.String()),
			zap.String("used", status.MonthlyUsed.String()),
			zap.String("limit", status.PlanLimit.String()))
		return status, types.NewPlanLimitError(detail)
	}
	if !status.HasCredits {
		e.logger.Info("insufficient credits",
			zap.String("owner", owner.String()),
			zap.String("required", estimate.String()),
			zap.String("balance", status.Balance.String()))
		return status, types.NewInsufficientCreditsError(detail)
	}
	return status, nil
}

// Settle 按实际用量计价并扣费。扣费与用量记录由钱包服务在一次调用内原子完成。
func (e *Enforcer) Settle(ctx context.Context, c Charge) (*DebitResult, *UsageRecord, error) {
	credits := e.pricer.Price(c.Capability, c.ModelID, c.Usage)
	rec := e.newRecord(c, credits, false)

	res, err := e.wallet.Debit(ctx, c.Owner, rec)
	if err != nil {
		e.logger.Error("settlement failed",
			zap.String("request_id", c.RequestID),
			zap.String("owner", c.Owner.String()),
			zap.String("model", string(c.ModelID)),
			zap.String("credits", credits.String()),
			zap.Error(err))
		return nil, nil, err
	}
	// 钱包实际扣费可能与定价不同；rec 已交给钱包，返回副本
	if !res.CreditsCharged.Equal(credits) {
		charged := *rec
		charged.CreditsCharged = res.CreditsCharged
		rec = &charged
	}
	e.logger.Debug("settled",
		zap.String("request_id", c.RequestID),
		zap.String("owner", c.Owner.String()),
		zap.String("credits", res.CreditsCharged.String()),
		zap.String("balance", res.NewBalance.String()))
	return res, rec, nil
}

// RecordCacheHit 缓存命中只写零 credits 的记录，不扣费；失败仅告警。
func (e *Enforcer) RecordCacheHit(ctx context.Context, c Charge) *UsageRecord {
	rec := e.newRecord(c, decimal.Zero, true)
	if e.ledger == nil {
		return rec
	}
	if _, err := e.ledger.Append(ctx, rec); err != nil {
		e.logger.Warn("cache hit record failed",
			zap.String("request_id", c.RequestID),
			zap.String("owner", c.Owner.String()),
			zap.Error(err))
	}
	return rec
}

func (e *Enforcer) newRecord(c Charge, credits decimal.Decimal, cached bool) *UsageRecord {
	now := e.now().UTC()
	return &UsageRecord{
		ID:             uuid.NewString(),
		RequestID:      c.RequestID,
		Owner:          c.Owner,
		Capability:     c.Capability,
		ModelID:        c.ModelID,
		Usage:          c.Usage,
		CreditsCharged: credits,
		Cached:         cached,
		Period:         Period(now),
		CreatedAt:      now,
	}
}
