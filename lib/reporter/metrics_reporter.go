package reporter

import (
	"errors"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsReporter exports counters about the windows it sees.
type MetricsReporter struct {
	windowsProcessed prometheus.Counter
	windowsSkipped   *prometheus.CounterVec
	correlatedPairs  prometheus.Counter
	constantRows     prometheus.Gauge
	pairsPerWindow   prometheus.Histogram
}

// NewMetricsReporter creates the metrics and registers them with registerer.
func NewMetricsReporter(registerer prometheus.Registerer) (*MetricsReporter, error) {
	r := &MetricsReporter{
		windowsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "windowjoin_windows_processed_total",
				Help: "Total number of windows that were processed.",
			},
		),
		windowsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windowjoin_windows_skipped_total",
				Help: "Total number of windows that were skipped, by reason.",
			},
			[]string{"reason"},
		),
		correlatedPairs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "windowjoin_correlated_pairs_total",
				Help: "Total number of correlated pairs found.",
			},
		),
		constantRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "windowjoin_constant_timeseries",
				Help: "Number of constant timeseries in the last window.",
			},
		),
		pairsPerWindow: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "windowjoin_correlated_pairs_per_window",
				Help:    "Number of correlated pairs found per window.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
	}
	for _, c := range []prometheus.Collector{r.windowsProcessed, r.windowsSkipped,
		r.correlatedPairs, r.constantRows, r.pairsPerWindow} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SkipReason is the label value for why a window was skipped.
func SkipReason(err error) string {
	var degenerate datatypes.DegenerateWindowError
	var noConvergence datatypes.NonConvergenceError
	switch {
	case errors.As(err, &degenerate):
		return "constant_rows"
	case errors.As(err, &noConvergence):
		return "svd"
	}
	return "other"
}

func (r *MetricsReporter) InitializeWindow(_ int, _ int, _ int, _ []datatypes.TsId) error {
	return nil
}

func (r *MetricsReporter) AddConstantRows(_ int, constantRows []bool) error {
	ctr := 0
	for _, c := range constantRows {
		if c {
			ctr++
		}
	}
	r.constantRows.Set(float64(ctr))
	return nil
}

func (r *MetricsReporter) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	r.windowsProcessed.Inc()
	r.correlatedPairs.Add(float64(len(result.CorrelatedPairs)))
	r.pairsPerWindow.Observe(float64(len(result.CorrelatedPairs)))
	return nil
}

func (r *MetricsReporter) SkipWindow(_ int, reason error) {
	r.windowsSkipped.WithLabelValues(SkipReason(reason)).Inc()
}

func (r *MetricsReporter) Flush(_ int) error {
	return nil
}
