// Package domain 包含审计事件的领域模型与仓储接口。
// 处理器对每一条经手的报文都会落一条只追加的事件记录，事后可按 topic 回溯。
package domain

import (
	"context"
	"time"
)

// 事件 topic 常量。写入后不再变更，管理面和对账都按这些 topic 查询。
const (
	TopicClearingIncoming       = "clearing.incoming"
	TopicPayoutIncoming         = "payout.incoming"
	TopicPayoutIncomingRejected = "payout.incoming.rejected"
	TopicPayoutBroadcast        = "payout.broadcast"
	TopicCryptoWorkerHeartbeat  = "crypto_worker.heartbeat"
)

// ProcessorEvent 是审计事件实体。只插入，不更新、不删除。
type ProcessorEvent struct {
	// ID 是事件的唯一标识符，由系统生成。
	ID string `json:"id"`
	// Topic 是事件主题。
	Topic string `json:"topic"`
	// Payload 是事件内容的 JSON 文本。
	Payload string `json:"payload"`
	// CreatedAt 是事件写入时间。
	CreatedAt time.Time `json:"created_at"`
}

// Repository 是审计事件的仓储接口。
type Repository interface {
	// Append 追加一条事件。payload 可以是任意可序列化的值，
	// 无法序列化时以字符串表示兜底，而不是让整次写入失败。
	Append(ctx context.Context, topic string, payload any) (*ProcessorEvent, error)
	// List 按时间倒序返回事件，topic 为空时不过滤。
	List(ctx context.Context, topic string, limit int) ([]*ProcessorEvent, error)
}
