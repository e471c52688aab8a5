// Package application 包含结算批次任务的用例逻辑。
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
)

// Batcher 周期性地把 INCLUDED 清分条目聚合成结算批次。
// Tick 是单轮逻辑，独立可测；Run 负责调度与失败退避。
type Batcher struct {
	repo      domain.Repository
	metrics   *metrics.Metrics
	interval  time.Duration
	backoff   time.Duration
	batchSize int
}

// NewBatcher 创建结算批次任务
func NewBatcher(repo domain.Repository, m *metrics.Metrics, interval, backoff time.Duration, batchSize int) *Batcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Batcher{
		repo:      repo,
		metrics:   m,
		interval:  interval,
		backoff:   backoff,
		batchSize: batchSize,
	}
}

// Tick 执行一轮批次构建，返回本轮结算的条目数。
// 没有待结算条目时不创建批次。批次写入与条目状态推进由仓储
// 保证在同一个事务内完成。
func (b *Batcher) Tick(ctx context.Context) (int, error) {
	entries, err := b.repo.ListIncluded(ctx, b.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	items := make([]domain.BatchItem, 0, len(entries))
	entryIDs := make([]string, 0, len(entries))
	total := decimal.Zero
	for _, e := range entries {
		items = append(items, domain.BatchItem{
			EntryID:  e.ID,
			TxnID:    e.TxnID,
			Amount:   e.Amount,
			Currency: e.Currency,
		})
		entryIDs = append(entryIDs, e.ID)
		total = total.Add(e.Amount)
	}

	now := time.Now().UTC()
	batch := &domain.SettlementBatch{
		ID:          uuid.NewString(),
		BatchDate:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Status:      domain.BatchStatusReady,
		TotalAmount: total,
		Items:       items,
	}

	if err := b.repo.CreateBatchAndSettle(ctx, batch, entryIDs); err != nil {
		return 0, err
	}

	if b.metrics != nil {
		b.metrics.SettlementBatchesTotal.Inc()
		b.metrics.SettledEntriesTotal.Add(float64(len(entries)))
	}

	logger.Info(ctx, "Created settlement batch",
		"batch_id", batch.ID,
		"entries", len(entries),
		"total_amount", total.String(),
	)
	return len(entries), nil
}

// Run 周期性执行 Tick，直到 ctx 取消。单轮失败只记日志并
// 短暂退避，循环本身永不因此退出。
func (b *Batcher) Run(ctx context.Context) {
	logger.Info(ctx, "Settlement batcher started", "interval", b.interval, "batch_size", b.batchSize)

	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Settlement batcher stopped")
			return
		case <-timer.C:
		}

		next := b.interval
		if _, err := b.Tick(ctx); err != nil {
			logger.Error(ctx, "Settlement tick failed", "error", err)
			next = b.backoff
		}
		timer.Reset(next)
	}
}
