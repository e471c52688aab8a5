// Package broadcast 提供外部转账广播器边界的模拟实现。
// 真实环境里这是一个独立的链上服务，这里只保留接口语义：
// 给定地址和金额，返回交易哈希或错误。
package broadcast

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/payout/domain"
)

// Simulator 是 domain.Broadcaster 的模拟实现。
type Simulator struct {
	// Latency 模拟外部服务的响应延迟。
	Latency time.Duration
}

// NewSimulator 创建广播模拟器
func NewSimulator() *Simulator {
	return &Simulator{Latency: 50 * time.Millisecond}
}

// Broadcast 实现 domain.Broadcaster.Broadcast
func (s *Simulator) Broadcast(ctx context.Context, toAddress string, amount decimal.Decimal) (string, error) {
	if toAddress == "" {
		return "", fmt.Errorf("missing destination address")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("non-positive amount %s", amount)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.Latency):
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tx hash: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

var _ domain.Broadcaster = (*Simulator)(nil)
