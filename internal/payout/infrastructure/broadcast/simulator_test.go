package broadcast

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBroadcastReturnsHash(t *testing.T) {
	s := &Simulator{}

	hash, err := s.Broadcast(context.Background(), "0xabc", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		t.Errorf("hash = %q, want 0x-prefixed 32-byte hex", hash)
	}
}

func TestBroadcastRejectsBadInput(t *testing.T) {
	s := &Simulator{}
	ctx := context.Background()

	if _, err := s.Broadcast(ctx, "", decimal.NewFromInt(10)); err == nil {
		t.Error("empty address accepted")
	}
	if _, err := s.Broadcast(ctx, "0xabc", decimal.Zero); err == nil {
		t.Error("zero amount accepted")
	}
	if _, err := s.Broadcast(ctx, "0xabc", decimal.NewFromInt(-1)); err == nil {
		t.Error("negative amount accepted")
	}
}

func TestBroadcastHonorsContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Broadcast(ctx, "0xabc", decimal.NewFromInt(1)); err == nil {
		t.Error("cancelled context not honored")
	}
}
