package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义结算业务监控指标
type BusinessMetrics struct {
	UserRegisteredTotal   prometheus.Counter
	RequestsCreatedTotal  *prometheus.CounterVec // currency
	RequestsExpiredTotal  prometheus.Counter
	SettlementsTotal      *prometheus.CounterVec // currency, status
	PaymentVolumeTotal    *prometheus.CounterVec // currency
	PlatformFeeTotal      *prometheus.CounterVec // currency
	ConfirmationDuration  *prometheus.HistogramVec
	ReconciledTotal       *prometheus.CounterVec // outcome
	WsConnectionsActive   prometheus.Gauge
	EventsDeliveredTotal  *prometheus.CounterVec // event
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		UserRegisteredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payx_user_registered_total",
			Help: "The total number of registered users",
		}),
		RequestsCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_payment_requests_created_total",
			Help: "Total number of payment requests created",
		}, []string{"currency"}),
		RequestsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payx_payment_requests_expired_total",
			Help: "Total number of payment requests expired",
		}),
		SettlementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_settlements_total",
			Help: "Total number of settlement attempts by outcome",
		}, []string{"currency", "status"}),
		PaymentVolumeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_payment_volume_total",
			Help: "The total settled payment volume",
		}, []string{"currency"}),
		PlatformFeeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_platform_fee_total",
			Help: "The total platform fee collected",
		}, []string{"currency"}),
		ConfirmationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payx_confirmation_wait_seconds",
			Help:    "Time spent waiting for on-chain confirmations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"currency"}),
		ReconciledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_reconciled_transactions_total",
			Help: "Stale transactions converged by the reconciler",
		}, []string{"outcome"}),
		WsConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "payx_ws_connections_active",
			Help: "Currently open websocket connections",
		}),
		EventsDeliveredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payx_events_delivered_total",
			Help: "Settlement events pushed to websocket clients",
		}, []string{"event"}),
	}
}
