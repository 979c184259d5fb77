package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 聚合全部 Prometheus 指标。promauto 在创建时自动注册到
// 默认 registry，进程内只应构造一次。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 收件箱生命周期指标
	InboxesCreated  prometheus.Counter
	InboxesRotated  prometheus.Counter
	InboxesDeleted  prometheus.Counter
	InboxesExpired  prometheus.Counter
	InboxesPurged   prometheus.Counter
	CooldownsPurged prometheus.Counter

	// 地址分配指标
	AllocationFailures prometheus.Counter

	// 投递指标
	MessagesReceived prometheus.Counter
	MessagesRejected *prometheus.CounterVec

	// 清理运行指标
	CleanupRuns     *prometheus.CounterVec
	CleanupDuration prometheus.Histogram
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboxesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_inboxes_created_total",
			Help: "Total number of inboxes created",
		}),
		InboxesRotated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_inboxes_rotated_total",
			Help: "Total number of inbox rotations",
		}),
		InboxesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_inboxes_deleted_total",
			Help: "Total number of user-initiated inbox deletions",
		}),
		InboxesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_inboxes_expired_total",
			Help: "Total number of inboxes marked expired by cleanup",
		}),
		InboxesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_inboxes_purged_total",
			Help: "Total number of inboxes hard-deleted by cleanup",
		}),
		CooldownsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_cooldowns_purged_total",
			Help: "Total number of expired cooldown records removed",
		}),

		AllocationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_allocation_failures_total",
			Help: "Total number of exhausted address allocations",
		}),

		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sessionbox_messages_received_total",
			Help: "Total number of messages accepted via SMTP",
		}),
		MessagesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionbox_messages_rejected_total",
				Help: "Total number of messages rejected via SMTP",
			},
			[]string{"reason"},
		),

		CleanupRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionbox_cleanup_runs_total",
				Help: "Total number of cleanup runs by result",
			},
			[]string{"result"},
		),
		CleanupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionbox_cleanup_duration_seconds",
			Help:    "Cleanup run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// HTTPHandler 返回 /metrics 端点的处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
