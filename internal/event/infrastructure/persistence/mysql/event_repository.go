// Package mysql 提供审计事件仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/paymentprocessor/internal/event/domain"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"gorm.io/gorm"
)

// EventModel 是审计事件的数据库模型。
type EventModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Topic     string    `gorm:"column:topic;type:varchar(128);index;not null"`
	Payload   string    `gorm:"column:payload;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "processor_events"
}

type eventRepositoryImpl struct {
	db *gorm.DB
}

// NewEventRepository 创建审计事件仓储实例
func NewEventRepository(db *gorm.DB) domain.Repository {
	return &eventRepositoryImpl{db: db}
}

// Append 实现 domain.Repository.Append
func (r *eventRepositoryImpl) Append(ctx context.Context, topic string, payload any) (*domain.ProcessorEvent, error) {
	model := &EventModel{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   marshalPayload(payload),
		CreatedAt: time.Now().UTC(),
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		logger.Error(ctx, "event_repository.Append failed", "topic", topic, "error", err)
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}

	return toDomain(model), nil
}

// List 实现 domain.Repository.List
func (r *eventRepositoryImpl) List(ctx context.Context, topic string, limit int) ([]*domain.ProcessorEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Model(&EventModel{})
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}

	var models []EventModel
	if err := q.Order("created_at desc").Limit(limit).Find(&models).Error; err != nil {
		logger.Error(ctx, "event_repository.List failed", "topic", topic, "error", err)
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.ProcessorEvent, len(models))
	for i := range models {
		events[i] = toDomain(&models[i])
	}
	return events, nil
}

// marshalPayload 序列化事件内容，失败时退回字符串表示，保证审计写入不因内容形状丢失
func marshalPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{"repr": fmt.Sprintf("%v", payload)})
		return string(fallback)
	}
	return string(data)
}

func toDomain(m *EventModel) *domain.ProcessorEvent {
	return &domain.ProcessorEvent{
		ID:        m.ID,
		Topic:     m.Topic,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}
