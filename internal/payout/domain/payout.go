// Package domain 包含出款的领域模型、仓储接口与外部广播器边界。
// external_ref 的全局唯一约束是幂等性的唯一仲裁点：并发重复提交
// 由存储层裁决，应用层不做任何锁。
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 出款类型常量。
const (
	PayoutTypeBank   = "BANK"
	PayoutTypeCrypto = "CRYPTO"
)

// 出款状态常量。
const (
	PayoutStatusPending   = "PENDING"
	PayoutStatusConfirmed = "CONFIRMED"
	PayoutStatusFailed    = "FAILED"
)

// 账务交易状态常量。
const (
	TransactionStatusPending = "PENDING"
)

// ErrIndeterminate 表示冲突插入既没有产生新行、也查不到既有行
// （例如与并发删除竞争）。调用方应当重试读取，而不是当作失败。
var ErrIndeterminate = errors.New("payout creation indeterminate, retry the read")

// Transaction 是出款背后的账务交易实体。每次出款创建都会生成一条
// 全新的交易记录作为外键目标。
type Transaction struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Protocol      string          `json:"protocol"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payout 是出款记录实体。ExternalRef 全局唯一，同一个引用至多
// 只会存在一条出款记录。
type Payout struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	MerchantID    string    `json:"merchant_id"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Payload       string    `json:"payload"`
	ExternalRef   string    `json:"external_ref"`
	Attempts      int       `json:"attempts"`
	ErrorMsg      string    `json:"error_msg"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Repository 是出款的仓储接口。
type Repository interface {
	// CreateOrGet 在一个原子工作单元内写入交易与出款记录。
	// 出款插入按 external_ref 冲突时不做任何事，返回既有行与
	// created=false；两者都不成立时返回 ErrIndeterminate。
	CreateOrGet(ctx context.Context, txn *Transaction, payout *Payout) (*Payout, bool, error)
	// GetByExternalRef 按幂等引用返回出款记录，不存在时返回 nil。
	GetByExternalRef(ctx context.Context, ref string) (*Payout, error)
	// GetByTransactionID 按账务交易ID返回出款记录，不存在时返回 nil。
	GetByTransactionID(ctx context.Context, txnID string) (*Payout, error)
	// ListPending 返回指定类型的 PENDING 出款，按创建时间升序。
	ListPending(ctx context.Context, payoutType string, limit int) ([]*Payout, error)
	// Update 更新出款的状态、尝试次数和错误信息。
	Update(ctx context.Context, payout *Payout) error
}

// Broadcaster 是外部转账广播器的边界接口。只在出款记录持久化
// 之后调用，内部实现（链上逻辑等）与本服务无关。
type Broadcaster interface {
	// Broadcast 发起一笔转账，成功返回交易哈希。
	Broadcast(ctx context.Context, toAddress string, amount decimal.Decimal) (string, error)
}
