package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Record usage_records 表
type Record struct {
	ID             string          `gorm:"primaryKey;size:36"`
	RequestID      string          `gorm:"size:64;index"`
	OwnerKind      string          `gorm:"size:16;not null;index:idx_usage_owner_period,priority:1"`
	OwnerID        string          `gorm:"size:128;not null;index:idx_usage_owner_period,priority:2"`
	Period         string          `gorm:"size:7;not null;index:idx_usage_owner_period,priority:3"`
	Capability     string          `gorm:"size:32;not null"`
	ModelID        string          `gorm:"size:128;not null"`
	InputTokens    int64           `gorm:"not null;default:0"`
	OutputTokens   int64           `gorm:"not null;default:0"`
	ImageCount     int64           `gorm:"not null;default:0"`
	CharacterCount int64           `gorm:"not null;default:0"`
	AudioSeconds   float64         `gorm:"not null;default:0"`
	Estimated      bool            `gorm:"not null;default:false"`
	Cached         bool            `gorm:"not null;default:false"`
	Credits        decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	CreatedAt      time.Time       `gorm:"not null"`
}

func (Record) TableName() string { return "usage_records" }

// fromUsageRecord 缺失的 ID、时间与周期在行上补齐，不改动入参
func fromUsageRecord(rec *metering.UsageRecord) *Record {
	id, createdAt, period := rec.ID, rec.CreatedAt, rec.Period
	if id == "" {
		id = uuid.NewString()
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if period == "" {
		period = metering.Period(createdAt)
	}
	return &Record{
		ID:             id,
		RequestID:      rec.RequestID,
		OwnerKind:      string(rec.Owner.Kind),
		OwnerID:        rec.Owner.ID,
		Period:         period,
		Capability:     string(rec.Capability),
		ModelID:        string(rec.ModelID),
		InputTokens:    int64(rec.Usage.InputTokens),
		OutputTokens:   int64(rec.Usage.OutputTokens),
		ImageCount:     int64(rec.Usage.ImageCount),
		CharacterCount: int64(rec.Usage.CharacterCount),
		AudioSeconds:   rec.Usage.AudioSeconds,
		Estimated:      rec.Usage.Estimated,
		Cached:         rec.Cached,
		Credits:        rec.CreditsCharged,
		CreatedAt:      createdAt,
	}
}

// ToUsageRecord 转回领域类型
func (r *Record) ToUsageRecord() *metering.UsageRecord {
	return &metering.UsageRecord{
		ID:         r.ID,
		RequestID:  r.RequestID,
		Owner:      metering.OwnerRef{Kind: metering.OwnerKind(r.OwnerKind), ID: r.OwnerID},
		Capability: types.Capability(r.Capability),
		ModelID:    types.ModelID(r.ModelID),
		Usage: llm.Usage{
			InputTokens:    int(r.InputTokens),
			OutputTokens:   int(r.OutputTokens),
			ImageCount:     int(r.ImageCount),
			CharacterCount: int(r.CharacterCount),
			AudioSeconds:   r.AudioSeconds,
			Estimated:      r.Estimated,
		},
		CreditsCharged: r.Credits,
		Cached:         r.Cached,
		Period:         r.Period,
		CreatedAt:      r.CreatedAt,
	}
}

// Ledger GORM 用量账本
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ metering.Ledger = (*Ledger)(nil)

func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, logger: logger.With(zap.String("component", "ledger"))}
}

// AutoMigrate 建表
func (l *Ledger) AutoMigrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Append 追加一条记录，返回记录 ID
func (l *Ledger) Append(ctx context.Context, rec *metering.UsageRecord) (string, error) {
	return AppendTx(l.db.WithContext(ctx), rec)
}

// AppendTx 在调用方事务内追加记录
func AppendTx(tx *gorm.DB, rec *metering.UsageRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("usage record is nil")
	}
	row := fromUsageRecord(rec)
	if err := tx.Create(row).Error; err != nil {
		return "", fmt.Errorf("append usage record: %w", err)
	}
	return row.ID, nil
}

// Get 按 ID 读取
func (l *Ledger) Get(ctx context.Context, id string) (*metering.UsageRecord, error) {
	var row Record
	if err := l.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return row.ToUsageRecord(), nil
}

type aggregateScan struct {
	OwnerKind      string
	OwnerID        string
	Period         string
	Capability     string
	ModelID        string
	Requests       int64
	CachedRequests int64
	InputTokens    int64
	OutputTokens   int64
	Images         int64
	Characters     int64
	AudioSeconds   float64
	Credits        decimal.NullDecimal
}

// Aggregate 按 owner/period/capability/model 分组汇总
func (l *Ledger) Aggregate(ctx context.Context, q metering.AggregateQuery) ([]metering.AggregateRow, error) {
	db := l.db.WithContext(ctx).Model(&Record{})
	if q.Owner != nil {
		db = db.Where("owner_kind = ? AND owner_id = ?", string(q.Owner.Kind), q.Owner.ID)
	}
	if q.Period != "" {
		db = db.Where("period = ?", q.Period)
	}
	if q.Capability != "" {
		db = db.Where("capability = ?", string(q.Capability))
	}
	if q.ModelID != "" {
		db = db.Where("model_id = ?", string(q.ModelID))
	}

	var scans []aggregateScan
	err := db.Select(`owner_kind, owner_id, period, capability, model_id,
		COUNT(*) AS requests,
		SUM(CASE WHEN cached THEN 1 ELSE 0 END) AS cached_requests,
		SUM(input_tokens) AS input_tokens,
		SUM(output_tokens) AS output_tokens,
		SUM(image_count) AS images,
		SUM(character_count) AS characters,
		SUM(audio_seconds) AS audio_seconds,
		SUM(credits) AS credits`).
		Group("owner_kind, owner_id, period, capability, model_id").
		Order("owner_kind, owner_id, period, capability, model_id").
		Scan(&scans).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	rows := make([]metering.AggregateRow, 0, len(scans))
	for _, s := range scans {
		credits := decimal.Zero
		if s.Credits.Valid {
			credits = s.Credits.Decimal
		}
		rows = append(rows, metering.AggregateRow{
			Owner:          metering.OwnerRef{Kind: metering.OwnerKind(s.OwnerKind), ID: s.OwnerID},
			Period:         s.Period,
			Capability:     types.Capability(s.Capability),
			ModelID:        types.ModelID(s.ModelID),
			Requests:       s.Requests,
			CachedRequests: s.CachedRequests,
			InputTokens:    s.InputTokens,
			OutputTokens:   s.OutputTokens,
			Images:         s.Images,
			Characters:     s.Characters,
			AudioSeconds:   s.AudioSeconds,
			Credits:        credits,
		})
	}
	return rows, nil
}
