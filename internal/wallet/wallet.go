package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/internal/database"
	"github.com/BaSui01/aicore/internal/ledger"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Account wallets 表
type Account struct {
	OwnerKind   string          `gorm:"primaryKey;size:16"`
	OwnerID     string          `gorm:"primaryKey;size:128"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	PlanLimit   decimal.Decimal `gorm:"type:numeric(20,6);not null"` // 0 表示不限
	MonthlyUsed decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Period      string          `gorm:"size:7;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Account) TableName() string { return "wallets" }

// DefaultDebitRetries 扣费事务的最大重试次数
const DefaultDebitRetries = 3

// Service 钱包服务
type Service struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

var _ metering.Wallet = (*Service)(nil)

func New(pool *database.PoolManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:   pool,
		logger: logger.With(zap.String("component", "wallet")),
		now:    time.Now,
	}
}

// AutoMigrate 建表（钱包与用量记录）
func (s *Service) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&Account{}, &ledger.Record{})
}

func ownerScope(owner metering.OwnerRef) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_kind = ? AND owner_id = ?", string(owner.Kind), owner.ID)
	}
}

// Create 开户；已存在时返回错误
func (s *Service) Create(ctx context.Context, owner metering.OwnerRef, balance, planLimit decimal.Decimal) error {
	acct := &Account{
		OwnerKind:   string(owner.Kind),
		OwnerID:     owner.ID,
		Balance:     balance,
		PlanLimit:   planLimit,
		MonthlyUsed: decimal.Zero,
		Period:      metering.Period(s.now()),
	}
	if err := s.pool.DB().WithContext(ctx).Create(acct).Error; err != nil {
		return fmt.Errorf("create wallet %s: %w", owner, err)
	}
	return nil
}

// TopUp 充值
func (s *Service) TopUp(ctx context.Context, owner metering.OwnerRef, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, types.NewError(types.ErrInvalidRequest, "top-up amount must be positive").WithHTTPStatus(400)
	}
	var balance decimal.Decimal
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).Scopes(ownerScope(owner)).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return metering.NewWalletNotFoundError(owner)
		}
		var acct Account
		if err := tx.Scopes(ownerScope(owner)).Take(&acct).Error; err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	})
	return balance, err
}

// SetPlanLimit 设置月度计划上限，0 表示不限
func (s *Service) SetPlanLimit(ctx context.Context, owner metering.OwnerRef, limit decimal.Decimal) error {
	res := s.pool.DB().WithContext(ctx).Model(&Account{}).Scopes(ownerScope(owner)).
		Update("plan_limit", limit)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return metering.NewWalletNotFoundError(owner)
	}
	return nil
}

// Get 读取钱包
func (s *Service) Get(ctx context.Context, owner metering.OwnerRef) (*Account, error) {
	var acct Account
	err := s.pool.DB().WithContext(ctx).Scopes(ownerScope(owner)).Take(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, metering.NewWalletNotFoundError(owner)
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// CheckCredits 校验余额与月度上限。跨月后当月用量按 0 计。
func (s *Service) CheckCredits(ctx context.Context, owner metering.OwnerRef, estimate decimal.Decimal) (*metering.CapacityStatus, error) {
	acct, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	used := acct.MonthlyUsed
	if acct.Period != metering.Period(s.now()) {
		used = decimal.Zero
	}
	within := acct.PlanLimit.IsZero() || used.Add(estimate).LessThanOrEqual(acct.PlanLimit)
	return &metering.CapacityStatus{
		HasCredits:      acct.Balance.GreaterThanOrEqual(estimate),
		WithinPlanLimit: within,
		Balance:         acct.Balance,
		MonthlyUsed:     used,
		PlanLimit:       acct.PlanLimit,
	}, nil
}

// Debit 扣费并写入用量记录，二者同一事务提交。
// 实际用量可能超过预估，余额允许为负。
func (s *Service) Debit(ctx context.Context, owner metering.OwnerRef, rec *metering.UsageRecord) (*metering.DebitResult, error) {
	if rec == nil {
		return nil, fmt.Errorf("usage record is nil")
	}
	if rec.Owner != owner {
		return nil, fmt.Errorf("usage record owner %s does not match wallet %s", rec.Owner, owner)
	}
	amount := rec.CreditsCharged
	period := rec.Period
	if period == "" {
		period = metering.Period(s.now())
	}

	var balance decimal.Decimal
	err := s.pool.WithTransactionRetry(ctx, DefaultDebitRetries, func(tx *gorm.DB) error {
		// 跨月滚动
		if err := tx.Model(&Account{}).Scopes(ownerScope(owner)).
			Where("period <> ?", period).
			Updates(map[string]any{"monthly_used": decimal.Zero, "period": period}).Error; err != nil {
			return err
		}

		res := tx.Model(&Account{}).Scopes(ownerScope(owner)).
			Updates(map[string]any{
				"balance":      gorm.Expr("balance - ?", amount),
				"monthly_used": gorm.Expr("monthly_used + ?", amount),
				"updated_at":   s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return metering.NewWalletNotFoundError(owner)
		}

		if _, err := ledger.AppendTx(tx, rec); err != nil {
			return err
		}
		var acct Account
		if err := tx.Scopes(ownerScope(owner)).Take(&acct).Error; err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("wallet debited",
		zap.String("owner", owner.String()),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()))
	return &metering.DebitResult{CreditsCharged: amount, NewBalance: balance}, nil
}
