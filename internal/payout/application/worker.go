package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
	"github.com/wyfcoding/paymentprocessor/internal/payout/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
)

// Worker 轮询 PENDING 的 CRYPTO 出款并调用外部广播器。
// 广播只在出款记录已持久化之后发起。
type Worker struct {
	repo        domain.Repository
	events      eventdomain.Repository
	broadcaster domain.Broadcaster
	metrics     *metrics.Metrics
	poll        time.Duration
	batchSize   int
	maxAttempts int
}

// NewWorker 创建广播 worker
func NewWorker(
	repo domain.Repository,
	events eventdomain.Repository,
	broadcaster domain.Broadcaster,
	m *metrics.Metrics,
	poll time.Duration,
	batchSize int,
	maxAttempts int,
) *Worker {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		repo:        repo,
		events:      events,
		broadcaster: broadcaster,
		metrics:     m,
		poll:        poll,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// RunOnce 执行一轮广播，返回处理的出款数。
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	payouts, err := w.repo.ListPending(ctx, domain.PayoutTypeCrypto, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(payouts) == 0 {
		// 空轮写一条心跳事件，便于外部监控确认 worker 存活。
		if _, err := w.events.Append(ctx, eventdomain.TopicCryptoWorkerHeartbeat, map[string]any{
			"ts": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			logger.Warn(ctx, "failed to append heartbeat event", "error", err)
		}
		return 0, nil
	}

	for _, p := range payouts {
		w.broadcastOne(ctx, p)
	}
	return len(payouts), nil
}

// Run 周期性执行 RunOnce，直到 ctx 取消。
func (w *Worker) Run(ctx context.Context) {
	logger.Info(ctx, "Crypto broadcast worker started", "poll", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Crypto broadcast worker stopped")
			return
		case <-ticker.C:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			logger.Error(ctx, "Broadcast poll failed", "error", err)
		}
	}
}

func (w *Worker) broadcastOne(ctx context.Context, p *domain.Payout) {
	toAddress, amount := broadcastParams(p)

	txHash, err := w.broadcaster.Broadcast(ctx, toAddress, amount)
	p.Attempts++
	if err != nil {
		p.ErrorMsg = err.Error()
		if p.Attempts >= w.maxAttempts {
			p.Status = domain.PayoutStatusFailed
		}
		if w.metrics != nil {
			w.metrics.BroadcastsTotal.WithLabelValues("failed").Inc()
		}
		logger.Error(ctx, "Broadcast failed",
			"payout_id", p.ID,
			"attempts", p.Attempts,
			"error", err,
		)
	} else {
		p.Status = domain.PayoutStatusConfirmed
		p.ErrorMsg = ""
		if w.metrics != nil {
			w.metrics.BroadcastsTotal.WithLabelValues("confirmed").Inc()
		}
		if _, evErr := w.events.Append(ctx, eventdomain.TopicPayoutBroadcast, map[string]any{
			"payout_id": p.ID,
			"tx_hash":   txHash,
		}); evErr != nil {
			logger.Warn(ctx, "failed to append broadcast event", "payout_id", p.ID, "error", evErr)
		}
		logger.Info(ctx, "Broadcast confirmed", "payout_id", p.ID, "tx_hash", txHash)
	}

	if err := w.repo.Update(ctx, p); err != nil {
		logger.Error(ctx, "Failed to update payout after broadcast", "payout_id", p.ID, "error", err)
	}
}

// broadcastParams 从出款 payload 中提取广播参数
func broadcastParams(p *domain.Payout) (string, decimal.Decimal) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(p.Payload), &payload); err != nil {
		return "", decimal.Zero
	}

	var toAddress string
	if details, ok := payload["payoutDetails"].(map[string]any); ok {
		if addr, ok := details["address"].(string); ok {
			toAddress = addr
		}
	}
	if toAddress == "" {
		if addr, ok := payload["to_address"].(string); ok {
			toAddress = addr
		}
	}

	amount := decimal.Zero
	switch v := payload["amount"].(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			amount = d
		}
	case float64:
		amount = decimal.NewFromFloat(v)
	}
	return toAddress, amount
}
