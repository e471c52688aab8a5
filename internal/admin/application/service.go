// Package application 包含管理面的查询用例。读接口只做仓储转发，
// 不会修改处理器的核心状态。
package application

import (
	"context"

	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	payoutdomain "github.com/wyfcoding/paymentprocessor/internal/payout/domain"
	settlementdomain "github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
)

// QueryService 是管理面的应用服务。
type QueryService struct {
	events   eventdomain.Repository
	payouts  *payoutapp.Service
	clearing settlementdomain.Repository
}

// NewQueryService 创建管理面应用服务
func NewQueryService(
	events eventdomain.Repository,
	payouts *payoutapp.Service,
	clearing settlementdomain.Repository,
) *QueryService {
	return &QueryService{
		events:   events,
		payouts:  payouts,
		clearing: clearing,
	}
}

// ListEvents 按 topic 返回最近的审计事件。
func (s *QueryService) ListEvents(ctx context.Context, topic string, limit int) ([]*eventdomain.ProcessorEvent, error) {
	return s.events.List(ctx, topic, limit)
}

// GetPayoutByTransactionID 按账务交易ID查询出款记录，不存在时返回 nil。
func (s *QueryService) GetPayoutByTransactionID(ctx context.Context, txnID string) (*payoutdomain.Payout, error) {
	return s.payouts.GetByTransactionID(ctx, txnID)
}

// CreatePayout 幂等地创建出款记录。
func (s *QueryService) CreatePayout(ctx context.Context, req payoutapp.CreateRequest) (*payoutdomain.Payout, bool, error) {
	return s.payouts.CreateOrGet(ctx, req)
}

// ListClearingEntries 按状态返回最近的清分条目。
func (s *QueryService) ListClearingEntries(ctx context.Context, status string, limit int) ([]*settlementdomain.ClearingEntry, error) {
	return s.clearing.ListEntries(ctx, status, limit)
}

// ListBatches 返回最近的结算批次。
func (s *QueryService) ListBatches(ctx context.Context, limit int) ([]*settlementdomain.SettlementBatch, error) {
	return s.clearing.ListBatches(ctx, limit)
}
