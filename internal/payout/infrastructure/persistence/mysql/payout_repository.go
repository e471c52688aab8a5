// Package mysql 提供出款仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/payout/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionModel 是账务交易的数据库模型。
type TransactionModel struct {
	ID            string          `gorm:"column:id;type:varchar(36);primaryKey"`
	MerchantID    string          `gorm:"column:merchant_id;type:varchar(64);index;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(18,6);not null"`
	Currency      string          `gorm:"column:currency;type:varchar(8);not null"`
	Status        string          `gorm:"column:status;type:varchar(20);not null"`
	Protocol      string          `gorm:"column:protocol;type:varchar(32)"`
	CorrelationID string          `gorm:"column:correlation_id;type:varchar(64)"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (TransactionModel) TableName() string {
	return "transactions"
}

// PayoutModel 是出款记录的数据库模型。external_ref 上的唯一索引
// 是幂等创建的仲裁点。
type PayoutModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);not null;index"`
	MerchantID    string    `gorm:"column:merchant_id;type:varchar(64);index;not null"`
	Type          string    `gorm:"column:type;type:varchar(16);not null"`
	Status        string    `gorm:"column:status;type:varchar(20);index;not null"`
	Payload       string    `gorm:"column:payload;type:text"`
	ExternalRef   string    `gorm:"column:external_ref;type:varchar(256);uniqueIndex;not null"`
	Attempts      int       `gorm:"column:attempts;not null;default:0"`
	ErrorMsg      string    `gorm:"column:error_msg;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (PayoutModel) TableName() string {
	return "payouts"
}

type payoutRepositoryImpl struct {
	db *gorm.DB
}

// NewPayoutRepository 创建出款仓储实例
func NewPayoutRepository(db *gorm.DB) domain.Repository {
	return &payoutRepositoryImpl{db: db}
}

// CreateOrGet 实现 domain.Repository.CreateOrGet。
// 交易插入与出款冲突插入在同一个事务内完成。
func (r *payoutRepositoryImpl) CreateOrGet(ctx context.Context, txn *domain.Transaction, payout *domain.Payout) (*domain.Payout, bool, error) {
	now := time.Now().UTC()

	txnModel := &TransactionModel{
		ID:            txn.ID,
		MerchantID:    txn.MerchantID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Status:        txn.Status,
		Protocol:      txn.Protocol,
		CorrelationID: txn.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	payoutModel := &PayoutModel{
		ID:            payout.ID,
		TransactionID: payout.TransactionID,
		MerchantID:    payout.MerchantID,
		Type:          payout.Type,
		Status:        payout.Status,
		Payload:       payout.Payload,
		ExternalRef:   payout.ExternalRef,
		Attempts:      payout.Attempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var result *domain.Payout
	var created bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(txnModel).Error; err != nil {
			return fmt.Errorf("failed to create backing transaction: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_ref"}},
			DoNothing: true,
		}).Create(payoutModel)
		if res.Error != nil {
			return fmt.Errorf("failed to insert payout: %w", res.Error)
		}

		if res.RowsAffected > 0 {
			result = payoutToDomain(payoutModel)
			created = true
			return nil
		}

		// 冲突插入未落行，取既有记录。
		var existing PayoutModel
		err := tx.Where("external_ref = ?", payoutModel.ExternalRef).First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 与并发删除竞争：既没插入也查不到，交给调用方重试读取。
				return domain.ErrIndeterminate
			}
			return fmt.Errorf("failed to fetch existing payout: %w", err)
		}

		result = payoutToDomain(&existing)
		created = false
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrIndeterminate) {
			logger.Warn(ctx, "payout not created and not found", "external_ref", payout.ExternalRef)
			return nil, false, domain.ErrIndeterminate
		}
		logger.Error(ctx, "payout_repository.CreateOrGet failed", "external_ref", payout.ExternalRef, "error", err)
		return nil, false, err
	}

	if created {
		logger.Info(ctx, "payout created", "external_ref", payout.ExternalRef, "payout_id", result.ID)
	} else {
		logger.Info(ctx, "payout already exists", "external_ref", payout.ExternalRef, "payout_id", result.ID)
	}
	return result, created, nil
}

// GetByExternalRef 实现 domain.Repository.GetByExternalRef
func (r *payoutRepositoryImpl) GetByExternalRef(ctx context.Context, ref string) (*domain.Payout, error) {
	var model PayoutModel
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "payout_repository.GetByExternalRef failed", "external_ref", ref, "error", err)
		return nil, fmt.Errorf("failed to get payout by external ref: %w", err)
	}
	return payoutToDomain(&model), nil
}

// GetByTransactionID 实现 domain.Repository.GetByTransactionID
func (r *payoutRepositoryImpl) GetByTransactionID(ctx context.Context, txnID string) (*domain.Payout, error) {
	var model PayoutModel
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", txnID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "payout_repository.GetByTransactionID failed", "transaction_id", txnID, "error", err)
		return nil, fmt.Errorf("failed to get payout by transaction id: %w", err)
	}
	return payoutToDomain(&model), nil
}

// ListPending 实现 domain.Repository.ListPending
func (r *payoutRepositoryImpl) ListPending(ctx context.Context, payoutType string, limit int) ([]*domain.Payout, error) {
	if limit <= 0 {
		limit = 20
	}

	var models []PayoutModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ?", domain.PayoutStatusPending, payoutType).
		Order("created_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "payout_repository.ListPending failed", "type", payoutType, "error", err)
		return nil, fmt.Errorf("failed to list pending payouts: %w", err)
	}

	payouts := make([]*domain.Payout, len(models))
	for i := range models {
		payouts[i] = payoutToDomain(&models[i])
	}
	return payouts, nil
}

// Update 实现 domain.Repository.Update
func (r *payoutRepositoryImpl) Update(ctx context.Context, payout *domain.Payout) error {
	res := r.db.WithContext(ctx).Model(&PayoutModel{}).
		Where("id = ?", payout.ID).
		Updates(map[string]any{
			"status":     payout.Status,
			"attempts":   payout.Attempts,
			"error_msg":  payout.ErrorMsg,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		logger.Error(ctx, "payout_repository.Update failed", "payout_id", payout.ID, "error", res.Error)
		return fmt.Errorf("failed to update payout: %w", res.Error)
	}
	return nil
}

func payoutToDomain(m *PayoutModel) *domain.Payout {
	return &domain.Payout{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		MerchantID:    m.MerchantID,
		Type:          m.Type,
		Status:        m.Status,
		Payload:       m.Payload,
		ExternalRef:   m.ExternalRef,
		Attempts:      m.Attempts,
		ErrorMsg:      m.ErrorMsg,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
