// Package mysql 提供清分与结算仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"gorm.io/gorm"
)

// ClearingEntryModel 是清分条目的数据库模型。
type ClearingEntryModel struct {
	ID         string          `gorm:"column:id;type:varchar(36);primaryKey"`
	TxnID      string          `gorm:"column:txn_id;type:varchar(36);index;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(18,6);not null"`
	Currency   string          `gorm:"column:currency;type:varchar(8);not null"`
	MerchantID string          `gorm:"column:merchant_id;type:varchar(64)"`
	Status     string          `gorm:"column:status;type:varchar(20);index;not null"`
	RawMessage string          `gorm:"column:raw_message;type:text"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (ClearingEntryModel) TableName() string {
	return "clearing_entries"
}

// SettlementBatchModel 是结算批次的数据库模型，明细以 JSON 文本存储。
type SettlementBatchModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	BatchDate   time.Time       `gorm:"column:batch_date;not null;index"`
	Status      string          `gorm:"column:status;type:varchar(20);index;not null"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(18,6);not null"`
	Items       string          `gorm:"column:items;type:text;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (SettlementBatchModel) TableName() string {
	return "settlement_batches"
}

type clearingRepositoryImpl struct {
	db *gorm.DB
}

// NewClearingRepository 创建清分与结算仓储实例
func NewClearingRepository(db *gorm.DB) domain.Repository {
	return &clearingRepositoryImpl{db: db}
}

// CreateEntry 实现 domain.Repository.CreateEntry
func (r *clearingRepositoryImpl) CreateEntry(ctx context.Context, entry *domain.ClearingEntry) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	model := toEntryModel(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		logger.Error(ctx, "clearing_repository.CreateEntry failed", "txn_id", entry.TxnID, "error", err)
		return fmt.Errorf("failed to create clearing entry: %w", err)
	}
	return nil
}

// ListIncluded 实现 domain.Repository.ListIncluded
func (r *clearingRepositoryImpl) ListIncluded(ctx context.Context, limit int) ([]*domain.ClearingEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []ClearingEntryModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.ClearingStatusIncluded).
		Order("id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "clearing_repository.ListIncluded failed", "error", err)
		return nil, fmt.Errorf("failed to list included entries: %w", err)
	}

	return toEntries(models), nil
}

// ListEntries 实现 domain.Repository.ListEntries
func (r *clearingRepositoryImpl) ListEntries(ctx context.Context, status string, limit int) ([]*domain.ClearingEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Model(&ClearingEntryModel{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var models []ClearingEntryModel
	if err := q.Order("created_at desc").Limit(limit).Find(&models).Error; err != nil {
		logger.Error(ctx, "clearing_repository.ListEntries failed", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list clearing entries: %w", err)
	}

	return toEntries(models), nil
}

// CreateBatchAndSettle 实现 domain.Repository.CreateBatchAndSettle。
// 批次写入与条目状态推进在同一个数据库事务内完成。
func (r *clearingRepositoryImpl) CreateBatchAndSettle(ctx context.Context, batch *domain.SettlementBatch, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return fmt.Errorf("empty entry id list for batch %s", batch.ID)
	}

	itemsJSON, err := json.Marshal(batch.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal batch items: %w", err)
	}

	now := time.Now().UTC()
	model := &SettlementBatchModel{
		ID:          batch.ID,
		BatchDate:   batch.BatchDate,
		Status:      batch.Status,
		TotalAmount: batch.TotalAmount,
		Items:       string(itemsJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to create settlement batch: %w", err)
		}

		res := tx.Model(&ClearingEntryModel{}).
			Where("id IN ? AND status = ?", entryIDs, domain.ClearingStatusIncluded).
			Updates(map[string]any{
				"status":     domain.ClearingStatusSettled,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to settle clearing entries: %w", res.Error)
		}
		// 选取与推进之间可能有并发改动，数量不一致时整体回滚，
		// 条目保持 INCLUDED，下一轮重试。
		if res.RowsAffected != int64(len(entryIDs)) {
			return fmt.Errorf("settled %d of %d entries for batch %s", res.RowsAffected, len(entryIDs), batch.ID)
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "clearing_repository.CreateBatchAndSettle failed", "batch_id", batch.ID, "error", err)
		return err
	}

	batch.CreatedAt = model.CreatedAt
	batch.UpdatedAt = model.UpdatedAt
	return nil
}

// GetBatch 实现 domain.Repository.GetBatch
func (r *clearingRepositoryImpl) GetBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	var model SettlementBatchModel
	if err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "clearing_repository.GetBatch failed", "batch_id", batchID, "error", err)
		return nil, fmt.Errorf("failed to get settlement batch: %w", err)
	}
	return toBatch(&model)
}

// ListBatches 实现 domain.Repository.ListBatches
func (r *clearingRepositoryImpl) ListBatches(ctx context.Context, limit int) ([]*domain.SettlementBatch, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []SettlementBatchModel
	if err := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&models).Error; err != nil {
		logger.Error(ctx, "clearing_repository.ListBatches failed", "error", err)
		return nil, fmt.Errorf("failed to list settlement batches: %w", err)
	}

	batches := make([]*domain.SettlementBatch, 0, len(models))
	for i := range models {
		b, err := toBatch(&models[i])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func toEntryModel(e *domain.ClearingEntry) *ClearingEntryModel {
	return &ClearingEntryModel{
		ID:         e.ID,
		TxnID:      e.TxnID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		MerchantID: e.MerchantID,
		Status:     e.Status,
		RawMessage: e.RawMessage,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func toEntries(models []ClearingEntryModel) []*domain.ClearingEntry {
	entries := make([]*domain.ClearingEntry, len(models))
	for i, m := range models {
		entries[i] = &domain.ClearingEntry{
			ID:         m.ID,
			TxnID:      m.TxnID,
			Amount:     m.Amount,
			Currency:   m.Currency,
			MerchantID: m.MerchantID,
			Status:     m.Status,
			RawMessage: m.RawMessage,
			CreatedAt:  m.CreatedAt,
			UpdatedAt:  m.UpdatedAt,
		}
	}
	return entries
}

func toBatch(m *SettlementBatchModel) (*domain.SettlementBatch, error) {
	var items []domain.BatchItem
	if m.Items != "" {
		if err := json.Unmarshal([]byte(m.Items), &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch items: %w", err)
		}
	}
	return &domain.SettlementBatch{
		ID:          m.ID,
		BatchDate:   m.BatchDate,
		Status:      m.Status,
		TotalAmount: m.TotalAmount,
		Items:       items,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
