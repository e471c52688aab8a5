package application

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
	settlementmysql "github.com/wyfcoding/paymentprocessor/internal/settlement/infrastructure/persistence/mysql"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&settlementmysql.ClearingEntryModel{}, &settlementmysql.SettlementBatchModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return settlementmysql.NewClearingRepository(db)
}

func seedIncluded(t *testing.T, repo domain.Repository, n int) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(10 * (i + 1)))
		e := &domain.ClearingEntry{
			ID:         fmt.Sprintf("entry-%03d", i),
			TxnID:      uuid.NewString(),
			Amount:     amount,
			Currency:   "USD",
			Status:     domain.ClearingStatusIncluded,
			RawMessage: "{}",
		}
		if err := repo.CreateEntry(context.Background(), e); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
		total = total.Add(amount)
	}
	return total
}

func TestTickSettlesAllIncluded(t *testing.T) {
	repo := newTestRepo(t)
	total := seedIncluded(t, repo, 4)
	batcher := NewBatcher(repo, nil, time.Second, time.Second, 50)
	ctx := context.Background()

	n, err := batcher.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 4 {
		t.Errorf("settled = %d, want 4", n)
	}

	remaining, err := repo.ListIncluded(ctx, 10)
	if err != nil {
		t.Fatalf("ListIncluded: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining INCLUDED = %d, want 0", len(remaining))
	}

	batches, err := repo.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want exactly one", len(batches))
	}
	batch := batches[0]
	if batch.Status != domain.BatchStatusReady {
		t.Errorf("batch status = %q, want READY", batch.Status)
	}
	if len(batch.Items) != 4 {
		t.Errorf("batch items = %d, want 4", len(batch.Items))
	}
	if !batch.TotalAmount.Equal(total) {
		t.Errorf("batch total = %s, want %s", batch.TotalAmount, total)
	}
}

func TestTickEmptyCreatesNoBatch(t *testing.T) {
	repo := newTestRepo(t)
	batcher := NewBatcher(repo, nil, time.Second, time.Second, 50)
	ctx := context.Background()

	n, err := batcher.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Errorf("settled = %d, want 0", n)
	}

	batches, err := repo.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("batches = %d, empty tick must not create a batch", len(batches))
	}
}

func TestTickHonorsBatchSize(t *testing.T) {
	repo := newTestRepo(t)
	seedIncluded(t, repo, 5)
	batcher := NewBatcher(repo, nil, time.Second, time.Second, 3)
	ctx := context.Background()

	n, err := batcher.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 3 {
		t.Errorf("settled = %d, want batch size cap 3", n)
	}

	remaining, err := repo.ListIncluded(ctx, 10)
	if err != nil {
		t.Fatalf("ListIncluded: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining = %d, want 2 left for the next tick", len(remaining))
	}

	// 下一轮收尾。
	n, err = batcher.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 2 {
		t.Errorf("second tick settled = %d, want 2", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := newTestRepo(t)
	batcher := NewBatcher(repo, nil, 10*time.Millisecond, 10*time.Millisecond, 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
