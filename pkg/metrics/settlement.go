package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records payment, wallet, and remittance activity.
type SettlementMetrics struct {
	gatewayDuration    *prometheus.HistogramVec
	paymentTransitions *prometheus.CounterVec
	walletMovements    *prometheus.CounterVec
	walletRejections   prometheus.Counter
	remittances        *prometheus.CounterVec
	materializations   *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided
// registerer. A nil registerer yields a no-op collector for tests.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	paymentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_transitions",
		Help: "Payment status transitions applied.",
	}, []string{"from", "to"})
	walletMovements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_movements",
		Help: "Wallet credits and debits recorded.",
	}, []string{"direction", "reference_type"})
	walletRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_debit_rejections",
		Help: "Wallet debits rejected for insufficient balance.",
	})
	remittances := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_remittances",
		Help: "Commission remittance outcomes.",
	}, []string{"outcome"})
	materializations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_materializations",
		Help: "Order materialization outcomes per vendor group.",
	}, []string{"outcome"})
	reg.MustRegister(gatewayDuration, paymentTransitions, walletMovements, walletRejections, remittances, materializations)
	return &SettlementMetrics{
		gatewayDuration:    gatewayDuration,
		paymentTransitions: paymentTransitions,
		walletMovements:    walletMovements,
		walletRejections:   walletRejections,
		remittances:        remittances,
		materializations:   materializations,
	}
}

// ObserveGatewayCall records the duration of a gateway operation.
func (m *SettlementMetrics) ObserveGatewayCall(operation string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncPaymentTransition counts one status transition.
func (m *SettlementMetrics) IncPaymentTransition(from, to string) {
	if m == nil || m.paymentTransitions == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncWalletMovement counts one applied credit or debit.
func (m *SettlementMetrics) IncWalletMovement(direction, referenceType string) {
	if m == nil || m.walletMovements == nil {
		return
	}
	m.walletMovements.WithLabelValues(normalizeLabel(direction), normalizeLabel(referenceType)).Inc()
}

// IncWalletRejection counts one debit rejected for insufficient balance.
func (m *SettlementMetrics) IncWalletRejection() {
	if m == nil || m.walletRejections == nil {
		return
	}
	m.walletRejections.Inc()
}

// IncRemittance counts one remittance outcome.
func (m *SettlementMetrics) IncRemittance(outcome string) {
	if m == nil || m.remittances == nil {
		return
	}
	m.remittances.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncMaterialization counts one per-vendor materialization outcome.
func (m *SettlementMetrics) IncMaterialization(outcome string) {
	if m == nil || m.materializations == nil {
		return
	}
	m.materializations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
