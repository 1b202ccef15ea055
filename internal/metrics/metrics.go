package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, exposed on the web server's /metrics endpoint.
var (
	EpochsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "epochs_started_total",
		Help:      "Epochs whose aggregation round has started.",
	})

	AggregationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "aggregations_completed_total",
		Help:      "Epochs whose order book was finalized.",
	})

	RebalancesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "rebalances_completed_total",
		Help:      "Epochs whose execution round fully completed.",
	})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "trades_executed_total",
		Help:      "Orders successfully executed, by side.",
	}, []string{"side"})

	TradeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "trade_failures_total",
		Help:      "Order executions aborted, by reason.",
	}, []string{"reason"})

	ProtocolValue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orion",
		Name:      "protocol_value",
		Help:      "Total protocol value at the latest aggregation, in unit-of-account smallest units.",
	})

	BufferLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orion",
		Name:      "buffer_level",
		Help:      "Cash reserved as buffer at the latest aggregation.",
	})

	UnallocatedDust = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orion",
		Name:      "unallocated_dust_total",
		Help:      "Cumulative rounding dust and unallocatable value absorbed into the reserve.",
	})
)
