package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CustodyMetrics instruments the basket operation surface.
type CustodyMetrics struct {
	operations     *prometheus.CounterVec
	escrowedTotal  prometheus.Gauge
	adjudications  prometheus.Counter
	lapsedRecovery prometheus.Counter
}

var (
	custodyOnce     sync.Once
	custodyRegistry *CustodyMetrics
)

// Custody returns the process-wide custody metrics, registering them on
// first use.
func Custody() *CustodyMetrics {
	custodyOnce.Do(func() {
		custodyRegistry = &CustodyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "custody_operations_total",
				Help: "Count of basket operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			escrowedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "custody_escrowed_total",
				Help: "Sum of quantities currently held across open baskets.",
			}),
			adjudications: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "custody_adjudications_total",
				Help: "Number of governor-directed dispute splits.",
			}),
			lapsedRecovery: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "custody_lapsed_recoveries_total",
				Help: "Number of post-deadline recoveries paid back to originators.",
			}),
		}
		prometheus.MustRegister(
			custodyRegistry.operations,
			custodyRegistry.escrowedTotal,
			custodyRegistry.adjudications,
			custodyRegistry.lapsedRecovery,
		)
	})
	return custodyRegistry
}

// ObserveOperation records one basket operation and its outcome.
func (m *CustodyMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetEscrowedTotal publishes the current escrowed sum.
func (m *CustodyMetrics) SetEscrowedTotal(total float64) {
	if m == nil {
		return
	}
	m.escrowedTotal.Set(total)
}

// ObserveAdjudication counts a completed dispute split.
func (m *CustodyMetrics) ObserveAdjudication() {
	if m == nil {
		return
	}
	m.adjudications.Inc()
}

// ObserveLapsedRecovery counts a post-deadline refund.
func (m *CustodyMetrics) ObserveLapsedRecovery() {
	if m == nil {
		return
	}
	m.lapsedRecovery.Inc()
}
