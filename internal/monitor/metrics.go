package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockwatch_cycles_total",
		Help: "Vendor polling cycles by outcome.",
	}, []string{"vendor", "status"})

	unitsSoldTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockwatch_units_sold_total",
		Help: "Units of inferred sales per vendor.",
	}, []string{"vendor"})

	missingPriceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockwatch_missing_price_events_total",
		Help: "Sale events recorded with zero revenue because no price was configured.",
	}, []string{"vendor"})

	anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockwatch_anomalies_total",
		Help: "Products excluded from a cycle because their quantities were inconsistent.",
	}, []string{"vendor"})

	reauthTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockwatch_reauth_total",
		Help: "Session refreshes triggered by expiry during a fetch.",
	})
)

func init() {
	prometheus.MustRegister(cyclesTotal, unitsSoldTotal, missingPriceTotal, anomaliesTotal, reauthTotal)
}
