// MockWallet 钱包服务与用量账本的内存模拟实现。
package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/aicore/llm/metering"
	"github.com/shopspring/decimal"
)

type walletState struct {
	balance   decimal.Decimal
	limit     decimal.Decimal // 0 表示不限
	used      decimal.Decimal
	debits    int
	lastCheck decimal.Decimal
}

// MockWallet 实现 metering.Wallet。Debit 在同一把锁内扣费并保存用量记录。
type MockWallet struct {
	mu      sync.Mutex
	wallets map[metering.OwnerRef]*walletState
	records []*metering.UsageRecord

	checkErr error
	debitErr error
}

var _ metering.Wallet = (*MockWallet)(nil)

// NewMockWallet 创建空钱包集合
func NewMockWallet() *MockWallet {
	return &MockWallet{wallets: make(map[metering.OwnerRef]*walletState)}
}

// WithWallet 开设钱包；limit 为 0 表示无月度上限
func (w *MockWallet) WithWallet(owner metering.OwnerRef, balance, limit decimal.Decimal) *MockWallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wallets[owner] = &walletState{balance: balance, limit: limit}
	return w
}

// WithMonthlyUsed 设置当月已用量
func (w *MockWallet) WithMonthlyUsed(owner metering.OwnerRef, used decimal.Decimal) *MockWallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.wallets[owner]; ok {
		s.used = used
	}
	return w
}

// WithCheckError 注入 CheckCredits 错误
func (w *MockWallet) WithCheckError(err error) *MockWallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkErr = err
	return w
}

// WithDebitError 注入 Debit 错误
func (w *MockWallet) WithDebitError(err error) *MockWallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debitErr = err
	return w
}

// CheckCredits 实现 metering.Wallet
func (w *MockWallet) CheckCredits(_ context.Context, owner metering.OwnerRef, estimate decimal.Decimal) (*metering.CapacityStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkErr != nil {
		return nil, w.checkErr
	}
	s, ok := w.wallets[owner]
	if !ok {
		return nil, metering.NewWalletNotFoundError(owner)
	}
	s.lastCheck = estimate
	return &metering.CapacityStatus{
		HasCredits:      s.balance.GreaterThanOrEqual(estimate),
		WithinPlanLimit: s.limit.IsZero() || s.used.Add(estimate).LessThanOrEqual(s.limit),
		Balance:         s.balance,
		MonthlyUsed:     s.used,
		PlanLimit:       s.limit,
	}, nil
}

// Debit 实现 metering.Wallet
func (w *MockWallet) Debit(_ context.Context, owner metering.OwnerRef, record *metering.UsageRecord) (*metering.DebitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debitErr != nil {
		return nil, w.debitErr
	}
	s, ok := w.wallets[owner]
	if !ok {
		return nil, metering.NewWalletNotFoundError(owner)
	}
	s.balance = s.balance.Sub(record.CreditsCharged)
	s.used = s.used.Add(record.CreditsCharged)
	s.debits++
	w.records = append(w.records, record)
	return &metering.DebitResult{CreditsCharged: record.CreditsCharged, NewBalance: s.balance}, nil
}

// Balance 当前余额
func (w *MockWallet) Balance(owner metering.OwnerRef) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.wallets[owner]; ok {
		return s.balance
	}
	return decimal.Zero
}

// DebitCount 钱包被扣费的次数
func (w *MockWallet) DebitCount(owner metering.OwnerRef) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.wallets[owner]; ok {
		return s.debits
	}
	return 0
}

// TotalDebits 所有钱包的扣费次数之和
func (w *MockWallet) TotalDebits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, s := range w.wallets {
		n += s.debits
	}
	return n
}

// LastEstimate 最近一次额度校验使用的预估
func (w *MockWallet) LastEstimate(owner metering.OwnerRef) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.wallets[owner]; ok {
		return s.lastCheck
	}
	return decimal.Zero
}

// Records 扣费时写入的用量记录
func (w *MockWallet) Records() []*metering.UsageRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*metering.UsageRecord(nil), w.records...)
}

// MockLedger 实现 metering.Ledger 的内存账本
type MockLedger struct {
	mu        sync.Mutex
	records   []*metering.UsageRecord
	appendErr error
}

var _ metering.Ledger = (*MockLedger)(nil)

// NewMockLedger 创建空账本
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// WithAppendError 注入 Append 错误
func (l *MockLedger) WithAppendError(err error) *MockLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendErr = err
	return l
}

// Append 实现 metering.Ledger
func (l *MockLedger) Append(_ context.Context, record *metering.UsageRecord) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return "", l.appendErr
	}
	l.records = append(l.records, record)
	return record.ID, nil
}

// Aggregate 实现 metering.Ledger，按 owner/period/capability/model 分组
func (l *MockLedger) Aggregate(_ context.Context, q metering.AggregateQuery) ([]metering.AggregateRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	type key struct {
		owner  metering.OwnerRef
		period string
		cap    string
		model  string
	}
	groups := make(map[key]*metering.AggregateRow)
	var order []key
	for _, r := range l.records {
		if q.Owner != nil && r.Owner != *q.Owner {
			continue
		}
		if q.Period != "" && r.Period != q.Period {
			continue
		}
		if q.Capability != "" && r.Capability != q.Capability {
			continue
		}
		if q.ModelID != "" && r.ModelID != q.ModelID {
			continue
		}
		k := key{r.Owner, r.Period, string(r.Capability), string(r.ModelID)}
		row, ok := groups[k]
		if !ok {
			row = &metering.AggregateRow{Owner: r.Owner, Period: r.Period, Capability: r.Capability, ModelID: r.ModelID}
			groups[k] = row
			order = append(order, k)
		}
		row.Requests++
		if r.Cached {
			row.CachedRequests++
		}
		row.InputTokens += int64(r.Usage.InputTokens)
		row.OutputTokens += int64(r.Usage.OutputTokens)
		row.Images += int64(r.Usage.ImageCount)
		row.Characters += int64(r.Usage.CharacterCount)
		row.AudioSeconds += r.Usage.AudioSeconds
		row.Credits = row.Credits.Add(r.CreditsCharged)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.owner.String() != b.owner.String() {
			return a.owner.String() < b.owner.String()
		}
		if a.period != b.period {
			return a.period < b.period
		}
		if a.cap != b.cap {
			return a.cap < b.cap
		}
		return a.model < b.model
	})
	out := make([]metering.AggregateRow, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

// Records 已追加的记录
func (l *MockLedger) Records() []*metering.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*metering.UsageRecord(nil), l.records...)
}
