// Package metrics 提供 Prometheus helper，包含处理器常用 counter/gauge/histogram
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// 收到的帧总数
	FramesTotal prometheus.Counter
	// 处理的报文总数，按响应码（DE39）分类
	MessagesTotal *prometheus.CounterVec
	// 报文处理耗时
	MessageDuration prometheus.Histogram
	// 活跃连接数
	ActiveConnections prometheus.Gauge

	// 出款创建计数（created / existing）
	PayoutsTotal *prometheus.CounterVec
	// 出款广播计数（confirmed / failed）
	BroadcastsTotal *prometheus.CounterVec

	// 结算批次计数
	SettlementBatchesTotal prometheus.Counter
	// 已结算清分条目计数
	SettledEntriesTotal prometheus.Counter

	// 审计事件写入计数，按 topic 分类
	EventsTotal *prometheus.CounterVec
}

// New 创建并注册指标实例
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "frames_total",
			Help:      "Total frames received on the TCP listener",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "messages_total",
			Help:      "Total processed messages by response code",
		}, []string{"code"}),
		MessageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "message_duration_seconds",
			Help:      "Message processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "active_connections",
			Help:      "Currently open gateway connections",
		}),
		PayoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "payouts_total",
			Help:      "Total payout create-or-get results",
		}, []string{"result"}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "broadcasts_total",
			Help:      "Total crypto broadcast attempts by result",
		}, []string{"result"}),
		SettlementBatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "settlement_batches_total",
			Help:      "Total settlement batches created",
		}),
		SettledEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "settled_entries_total",
			Help:      "Total clearing entries transitioned to SETTLED",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "processor",
			Subsystem: serviceName,
			Name:      "events_total",
			Help:      "Total processor events appended by topic",
		}, []string{"topic"}),
	}

	registry.MustRegister(
		m.FramesTotal,
		m.MessagesTotal,
		m.MessageDuration,
		m.ActiveConnections,
		m.PayoutsTotal,
		m.BroadcastsTotal,
		m.SettlementBatchesTotal,
		m.SettledEntriesTotal,
		m.EventsTotal,
	)

	return m
}

// ExposeHTTP 启动 /metrics HTTP 服务
func (m *Metrics) ExposeHTTP(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Metrics endpoint started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "Metrics endpoint failed", "error", err)
	}
}
