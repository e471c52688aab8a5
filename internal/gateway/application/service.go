// Package application 包含网关的报文路由与校验用例。
// 分类后两条终态路径：结构化出款走校验加幂等创建，传统卡报文走
// 结构校验加清分登记。任何未处理的异常都在最外层收敛为 96 响应，
// 绝不向传输层传播。
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/domain"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	settlementdomain "github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
)

// ProcessingService 是网关的报文处理应用服务。
type ProcessingService struct {
	events   eventdomain.Repository
	payouts  *payoutapp.Service
	clearing settlementdomain.Repository
	metrics  *metrics.Metrics
}

// NewProcessingService 创建报文处理服务
func NewProcessingService(
	events eventdomain.Repository,
	payouts *payoutapp.Service,
	clearing settlementdomain.Repository,
	m *metrics.Metrics,
) *ProcessingService {
	return &ProcessingService{
		events:   events,
		payouts:  payouts,
		clearing: clearing,
		metrics:  m,
	}
}

// Process 路由并处理一条已解码的报文，总是返回可响应的结果。
func (s *ProcessingService) Process(ctx context.Context, fields map[string]any) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Unhandled processing panic", "panic", r)
			outcome = domain.Outcome{
				Approved:     false,
				ResponseCode: domain.CodeMalfunction,
				ErrorDetail:  fmt.Sprintf("unhandled: %v", r),
			}
		}
		if s.metrics != nil {
			s.metrics.MessagesTotal.WithLabelValues(outcome.ResponseCode).Inc()
		}
	}()

	structured, legacy := domain.Classify(fields)
	if structured != nil {
		return s.processStructured(ctx, structured)
	}
	return s.processLegacy(ctx, legacy)
}

// processStructured 处理结构化出款报文。
func (s *ProcessingService) processStructured(ctx context.Context, msg *domain.StructuredPayoutMessage) domain.Outcome {
	reasons := msg.Validate()
	if len(reasons) > 0 {
		// 审计写入失败只记日志，不改变已经算出的拒绝结论。
		if _, err := s.events.Append(ctx, eventdomain.TopicPayoutIncomingRejected, map[string]any{
			"reason":  strings.Join(reasons, ";"),
			"message": msg.Raw,
		}); err != nil {
			logger.Error(ctx, "Failed to append rejection event", "error", err)
		}
		logger.Warn(ctx, "Structured payout rejected", "reasons", reasons)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeDeclined,
			ErrorDetail:  "validation_failed:" + strings.Join(reasons, ","),
		}
	}

	if _, err := s.events.Append(ctx, eventdomain.TopicPayoutIncoming, msg.Raw); err != nil {
		// 核准路径上审计是结论的一部分，写不进去按系统故障处理。
		logger.Error(ctx, "Failed to append payout.incoming event", "error", err)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  fmt.Sprintf("audit append failed: %v", err),
		}
	}

	amount := decimal.Zero
	if msg.Amount != "" {
		if d, err := decimal.NewFromString(msg.Amount); err == nil {
			amount = d
		}
	}
	reference := msg.TxnID
	if reference == "" {
		reference = msg.CorrelationID
	}

	payout, created, err := s.payouts.CreateOrGet(ctx, payoutapp.CreateRequest{
		MerchantID: msg.MerchantID,
		Method:     msg.Method,
		Amount:     amount,
		Currency:   msg.Currency,
		Protocol:   msg.Protocol,
		AuthCode:   msg.AuthCode,
		Payload:    msg.Raw,
		Reference:  reference,
	})
	if err != nil {
		logger.Error(ctx, "Payout creation failed", "reference", reference, "error", err)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  fmt.Sprintf("payout creation failed: %v", err),
		}
	}

	txnID := msg.TxnID
	if txnID == "" {
		txnID = payout.TransactionID
	}
	logger.Info(ctx, "Structured payout approved",
		"payout_id", payout.ID,
		"txn_id", txnID,
		"created", created,
	)
	return domain.Outcome{
		Approved:      true,
		ResponseCode:  domain.CodeApproved,
		GatewayTxnID:  "ISS-" + uuid.NewString(),
		TxnID:         txnID,
		CorrelationID: msg.CorrelationID,
		AuthCode:      msg.AuthCode,
	}
}

// processLegacy 处理传统卡报文。结构不合格和不可识别的报文一律 96，
// 同样落到 clearing.incoming 审计。
func (s *ProcessingService) processLegacy(ctx context.Context, msg *domain.LegacyCardMessage) domain.Outcome {
	var outcome domain.Outcome
	if msg.StructurallyValid() {
		outcome = s.approveLegacy(ctx, msg)
	} else {
		outcome = domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  "unrecognized message",
		}
	}

	if _, err := s.events.Append(ctx, eventdomain.TopicClearingIncoming, map[string]any{
		"message": msg.Raw,
		"outcome": outcome,
	}); err != nil {
		logger.Error(ctx, "Failed to append clearing event", "error", err)
		if outcome.Approved {
			return domain.Outcome{
				Approved:     false,
				ResponseCode: domain.CodeMalfunction,
				ErrorDetail:  fmt.Sprintf("audit append failed: %v", err),
			}
		}
	}
	return outcome
}

func (s *ProcessingService) approveLegacy(ctx context.Context, msg *domain.LegacyCardMessage) domain.Outcome {
	txnID := msg.TxnID
	if txnID == "" {
		txnID = uuid.NewString()
	}

	amount := decimal.Zero
	if msg.Amount != "" {
		if d, err := decimal.NewFromString(msg.Amount); err == nil {
			amount = d
		}
	}
	currency := msg.Currency
	if currency == "" {
		currency = "USD"
	}

	raw, err := rawMessageJSON(msg.Raw)
	if err != nil {
		logger.Error(ctx, "Failed to serialize card message", "txn_id", txnID, "error", err)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  fmt.Sprintf("serialize failed: %v", err),
		}
	}

	entry := &settlementdomain.ClearingEntry{
		ID:         uuid.NewString(),
		TxnID:      txnID,
		Amount:     amount,
		Currency:   currency,
		MerchantID: msg.MerchantID,
		Status:     settlementdomain.ClearingStatusIncluded,
		RawMessage: raw,
	}
	if err := s.clearing.CreateEntry(ctx, entry); err != nil {
		logger.Error(ctx, "Failed to create clearing entry", "txn_id", txnID, "error", err)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  fmt.Sprintf("clearing entry failed: %v", err),
		}
	}

	logger.Info(ctx, "Card message approved", "txn_id", txnID, "entry_id", entry.ID)
	return domain.Outcome{
		Approved:     true,
		ResponseCode: domain.CodeApproved,
		GatewayTxnID: "ISS-" + uuid.NewString(),
		TxnID:        txnID,
	}
}

// rawMessageJSON 把原始报文序列化为清分条目保存的 JSON 文本。
func rawMessageJSON(raw map[string]any) (string, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("failed to marshal raw message: %w", err)
	}
	return string(b), nil
}
