// Package application 包含出款的用例逻辑：幂等创建与广播 worker。
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/payout/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
)

// CreateRequest 是出款创建请求的数据传输对象。
type CreateRequest struct {
	MerchantID string
	Method     string
	Amount     decimal.Decimal
	Currency   string
	Protocol   string
	AuthCode   string
	Payload    map[string]any
	// Reference 是调用方提供的幂等引用，缺省时由系统生成，
	// 此时不带引用的重试被视为不同的出款。
	Reference string
}

// Service 是出款应用服务。
type Service struct {
	repo    domain.Repository
	metrics *metrics.Metrics
}

// NewService 创建出款应用服务
func NewService(repo domain.Repository, m *metrics.Metrics) *Service {
	return &Service{repo: repo, metrics: m}
}

// CreateOrGet 幂等地创建出款记录。同一个 reference 的并发调用中
// 恰好一个观察到 created=true，其余拿到同一条既有记录。
func (s *Service) CreateOrGet(ctx context.Context, req CreateRequest) (*domain.Payout, bool, error) {
	reference := req.Reference
	if reference == "" {
		reference = generateReference()
	}

	payoutType := domain.PayoutTypeBank
	if strings.EqualFold(req.Method, "crypto") {
		payoutType = domain.PayoutTypeCrypto
	}

	// 每次调用都生成全新的账务交易，出款记录以它为外键目标。
	txn := &domain.Transaction{
		ID:            uuid.NewString(),
		MerchantID:    req.MerchantID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.TransactionStatusPending,
		Protocol:      req.Protocol,
		CorrelationID: uuid.NewString(),
	}

	payload := map[string]any{
		"merchant_id": req.MerchantID,
		"method":      req.Method,
		"amount":      req.Amount.String(),
		"currency":    req.Currency,
		"protocol":    req.Protocol,
		"auth_code":   req.AuthCode,
		"reference":   reference,
	}
	for k, v := range req.Payload {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal payout payload: %w", err)
	}

	payout := &domain.Payout{
		ID:            uuid.NewString(),
		TransactionID: txn.ID,
		MerchantID:    req.MerchantID,
		Type:          payoutType,
		Status:        domain.PayoutStatusPending,
		Payload:       string(payloadJSON),
		ExternalRef:   reference,
	}

	result, created, err := s.repo.CreateOrGet(ctx, txn, payout)
	if err != nil {
		return nil, false, err
	}

	if s.metrics != nil {
		if created {
			s.metrics.PayoutsTotal.WithLabelValues("created").Inc()
		} else {
			s.metrics.PayoutsTotal.WithLabelValues("existing").Inc()
		}
	}
	return result, created, nil
}

// GetByTransactionID 按账务交易ID查询出款记录。
func (s *Service) GetByTransactionID(ctx context.Context, txnID string) (*domain.Payout, error) {
	return s.repo.GetByTransactionID(ctx, txnID)
}

// GetByExternalRef 按幂等引用查询出款记录。
func (s *Service) GetByExternalRef(ctx context.Context, ref string) (*domain.Payout, error) {
	return s.repo.GetByExternalRef(ctx, ref)
}

// generateReference 生成缺省幂等引用：时间戳加随机后缀
func generateReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	ref := fmt.Sprintf("payout-%d-%s", time.Now().Unix(), suffix)
	logger.Debug(context.Background(), "generated payout reference", "reference", ref)
	return ref
}
