// Package messaging 提供审计事件到 Kafka 的镜像。
// 数据库里的事件行始终是事实来源，镜像失败只记日志，绝不影响主流程。
package messaging

import (
	"context"

	"github.com/wyfcoding/paymentprocessor/internal/event/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/mq"
)

// MirrorRepository 装饰一个事件仓储，在成功落库后把事件异步镜像到 Kafka。
type MirrorRepository struct {
	inner    domain.Repository
	producer *mq.KafkaProducer
	topic    string
}

// NewMirrorRepository 创建带 Kafka 镜像的事件仓储
func NewMirrorRepository(inner domain.Repository, producer *mq.KafkaProducer, topic string) *MirrorRepository {
	return &MirrorRepository{
		inner:    inner,
		producer: producer,
		topic:    topic,
	}
}

// Append 先落库，成功后镜像到 Kafka
func (r *MirrorRepository) Append(ctx context.Context, topic string, payload any) (*domain.ProcessorEvent, error) {
	ev, err := r.inner.Append(ctx, topic, payload)
	if err != nil {
		return nil, err
	}

	if sendErr := r.producer.SendMessage(ctx, r.topic, ev.ID, ev); sendErr != nil {
		logger.Warn(ctx, "event mirror to kafka failed", "event_id", ev.ID, "topic", topic, "error", sendErr)
	}

	return ev, nil
}

// List 透传给底层仓储
func (r *MirrorRepository) List(ctx context.Context, topic string, limit int) ([]*domain.ProcessorEvent, error) {
	return r.inner.List(ctx, topic, limit)
}
