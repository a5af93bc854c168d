package engine

import (
	"math/big"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one engine. Every collector
// carries a constant "pool" label.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastPrice   *prometheus.GaugeVec
	priceOracle *prometheus.GaugeVec
	dOracle     prometheus.Gauge
	supply      prometheus.Gauge
}

// NewMetrics creates the collectors of pool and registers them with reg.
func NewMetrics(reg prometheus.Registerer, pool uint64) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableswap_operations_total",
			Help: "State-changing operations by type and outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stableswap_operation_duration_seconds",
			Help:    "Time spent pricing and committing an operation.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"op"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stableswap_last_price",
			Help: "Latest recorded spot price of a coin in units of coin 0.",
		}, []string{"coin"}),
		priceOracle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stableswap_price_oracle",
			Help: "Price moving average of a coin in units of coin 0, as of the last operation.",
		}, []string{"coin"}),
		dOracle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stableswap_d_oracle",
			Help: "Moving average of the invariant, as of the last operation.",
		}),
		supply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stableswap_lp_supply",
			Help: "Outstanding LP token supply.",
		}),
	}

	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"pool": strconv.FormatUint(pool, 10)}, reg)
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.lastPrice, m.priceOracle, m.dOracle, m.supply} {
		if err := wrapped.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// wadFloat converts a 1e18 fixed-point value to a float for reporting only.
func wadFloat(x *uint256.Int) float64 {
	f, _ := new(big.Rat).SetFrac(x.ToBig(), big.NewInt(1e18)).Float64()
	return f
}

func (m *Metrics) record(lastPrices, emas []*uint256.Int, dOracle, supply *uint256.Int) {
	for k := range lastPrices {
		coin := strconv.Itoa(k + 1)
		m.lastPrice.WithLabelValues(coin).Set(wadFloat(lastPrices[k]))
		m.priceOracle.WithLabelValues(coin).Set(wadFloat(emas[k]))
	}
	m.dOracle.Set(wadFloat(dOracle))
	m.supply.Set(wadFloat(supply))
}
