// Package metrics exposes ledger operation counters to Prometheus.
package metrics

import (
	"context"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coinledger"

// Recorder implements ledger.OperationLogger on top of Prometheus counters.
type Recorder struct {
	operations *prometheus.CounterVec
	coinsMoved *prometheus.CounterVec
	purchases  *prometheus.CounterVec
}

// NewRecorder builds the collectors and registers them on registerer.
func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	recorder := &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by name and status.",
			},
			[]string{"operation", "status"},
		),
		coinsMoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coins_moved_total",
				Help:      "Coins moved by successful operations.",
			},
			[]string{"operation"},
		),
		purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Purchase requests by terminal state.",
			},
			[]string{"state"},
		),
	}
	for _, collector := range []prometheus.Collector{recorder.operations, recorder.coinsMoved, recorder.purchases} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

func (recorder *Recorder) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error == nil && entry.Amount > 0 {
		recorder.coinsMoved.WithLabelValues(entry.Operation).Add(float64(entry.Amount.Int64()))
	}
	if state := ledger.PurchaseState(entry.Outcome); entry.Operation == ledger.OperationPurchase && state.Terminal() {
		recorder.ObservePurchase(state)
	}
}

// ObservePurchase counts one purchase that ended in state.
func (recorder *Recorder) ObservePurchase(state ledger.PurchaseState) {
	recorder.purchases.WithLabelValues(state.String()).Inc()
}
