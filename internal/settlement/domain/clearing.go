// Package domain 包含清分与结算的领域模型和仓储接口。
// 清分条目在卡报文核准时创建，结算批次任务周期性地把 INCLUDED 条目聚合成批并推进状态。
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 清分条目状态常量。INCLUDED -> SETTLED 由结算批次任务推进，
// FAILED 由对账流程写入（不在本服务内）。
const (
	ClearingStatusIncluded = "INCLUDED"
	ClearingStatusSettled  = "SETTLED"
	ClearingStatusFailed   = "FAILED"
)

// 结算批次状态常量。
const (
	BatchStatusReady = "READY"
)

// ClearingEntry 是清分条目实体。创建后归结算子系统独占，
// 网关只负责在核准时写入。
type ClearingEntry struct {
	// ID 是条目的唯一标识符。
	ID string `json:"id"`
	// TxnID 是关联的交易ID。
	TxnID string `json:"txn_id"`
	// Amount 是金额，使用 decimal 保证精度。
	Amount decimal.Decimal `json:"amount"`
	// Currency 是币种。
	Currency string `json:"currency"`
	// MerchantID 是商户ID，可为空。
	MerchantID string `json:"merchant_id"`
	// Status 是条目状态（INCLUDED / SETTLED / FAILED）。
	Status string `json:"status"`
	// RawMessage 是原始报文的 JSON 文本，用于追溯。
	RawMessage string `json:"raw_message"`
	// CreatedAt / UpdatedAt 是记录时间戳。
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchItem 是结算批次中的一条明细。
type BatchItem struct {
	EntryID  string          `json:"entry_id"`
	TxnID    string          `json:"txn_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// SettlementBatch 是结算批次实体。创建后除状态推进外不可变。
type SettlementBatch struct {
	// ID 是批次的唯一标识符。
	ID string `json:"id"`
	// BatchDate 是批次日期。
	BatchDate time.Time `json:"batch_date"`
	// Status 是批次状态，创建时为 READY。
	Status string `json:"status"`
	// TotalAmount 是批内所有条目的金额之和。
	TotalAmount decimal.Decimal `json:"total_amount"`
	// Items 是批次明细，与被结算的清分条目一一对应。
	Items []BatchItem `json:"items"`
	// CreatedAt / UpdatedAt 是记录时间戳。
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository 是清分与结算的仓储接口。
type Repository interface {
	// CreateEntry 写入一条新的清分条目。
	CreateEntry(ctx context.Context, entry *ClearingEntry) error
	// ListIncluded 按主键顺序返回至多 limit 条 INCLUDED 状态的清分条目。
	// 主键排序保证同一轮选取是确定性的。
	ListIncluded(ctx context.Context, limit int) ([]*ClearingEntry, error)
	// ListEntries 按创建时间倒序返回清分条目，status 为空时不过滤。
	ListEntries(ctx context.Context, status string, limit int) ([]*ClearingEntry, error)
	// CreateBatchAndSettle 在同一个事务里写入结算批次并把 entryIDs
	// 对应的条目从 INCLUDED 推进到 SETTLED。任何一步失败整体回滚，
	// 不存在批次已写入而条目未推进（或反之）的可见中间态。
	CreateBatchAndSettle(ctx context.Context, batch *SettlementBatch, entryIDs []string) error
	// GetBatch 按 ID 返回结算批次，不存在时返回 nil。
	GetBatch(ctx context.Context, batchID string) (*SettlementBatch, error)
	// ListBatches 按创建时间倒序返回结算批次。
	ListBatches(ctx context.Context, limit int) ([]*SettlementBatch, error)
}
