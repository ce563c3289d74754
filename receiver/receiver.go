package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	corrjoin "github.com/kpaschen/windowjoin/lib"
	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/kpaschen/windowjoin/lib/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/prompb"
	"github.com/prometheus/prometheus/storage/remote"
)

var (
	receivedSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windowjoin_received_samples_total",
			Help: "Total number of received samples.",
		},
	)
	ignoredSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windowjoin_ignored_samples_total",
			Help: "Total number of samples that were duplicates, backfill or not finite.",
		},
	)
	requestedCorrelationBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windowjoin_requested_correlation_batches_total",
			Help: "Total number of times a correlation batch computation has been requested.",
		},
	)
	numberOfTimeseries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "windowjoin_number_of_timeseries",
			Help: "number of timeseries in the last batch",
		},
	)
	correlationDurationHist = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:                            "windowjoin_correlation_duration_milliseconds_histogram",
			Help:                            "Duration of correlation computation calls.",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  10,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
	)
	correlationDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "windowjoin_correlation_duration_milliseconds",
			Help: "Duration of the last correlation computation call.",
		},
	)
)

func init() {
	prometheus.MustRegister(receivedSamples)
	prometheus.MustRegister(ignoredSamples)
	prometheus.MustRegister(requestedCorrelationBatches)
	prometheus.MustRegister(numberOfTimeseries)
	prometheus.MustRegister(correlationDurationHist)
	prometheus.MustRegister(correlationDuration)
}

// Types for the REST API
type joinSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

type joinRequest struct {
	Timeseries []joinSeries `json:"timeseries"`
}

type summaryResponse struct {
	Windows             int                `json:"windows"`
	WindowsProcessed    int                `json:"windowsProcessed"`
	WindowsSkipped      int                `json:"windowsSkipped"`
	CorrelatedPairs     int                `json:"correlatedPairs"`
	MeanPruningRate     float64            `json:"meanPruningRate"`
	MeanJoinPruningRate float64            `json:"meanJoinPruningRate"`
	StageMilliseconds   map[string]float64 `json:"stageMilliseconds"`
}

type correlationResponse struct {
	// Batch is part of the names of the result files of this run.
	Batch      int64                      `json:"batch"`
	Summary    summaryResponse            `json:"summary"`
	Timeseries []string                   `json:"timeseries"`
	Pairs      []datatypes.CorrelatedPair `json:"pairs"`
	Skipped    map[int]string             `json:"skipped,omitempty"`
}

// TsProcessor accumulates remote-write samples into a batch and runs the
// join over a batch on request.
type TsProcessor struct {
	settings       settings.CorrjoinSettings
	sampleInterval time.Duration
	metrics        reporter.Reporter
	logger         *log.Logger

	// Guards accumulator.
	mu          sync.Mutex
	accumulator *corrjoin.TimeseriesAccumulator

	// Only one join runs at a time so result files are not interleaved.
	runMu sync.Mutex
	// Guarded by runMu.
	lastBatch int64
}

// NewTsProcessor creates a processor. metrics may be nil.
func NewTsProcessor(corrjoinConfig settings.CorrjoinSettings, sampleInterval time.Duration,
	metrics reporter.Reporter, logger *log.Logger) (*TsProcessor, error) {
	if sampleInterval <= 0 {
		return nil, datatypes.ConfigurationError{
			Parameter: "sampleInterval",
			Reason:    fmt.Sprintf("must be positive but is %v", sampleInterval),
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TsProcessor{
		settings:       corrjoinConfig.ComputeSettingsFields(),
		sampleInterval: sampleInterval,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

func earliestTimestamp(req *prompb.WriteRequest) (int64, bool) {
	found := false
	var earliest int64
	for _, ts := range req.Timeseries {
		for _, s := range ts.Samples {
			if !found || s.Timestamp < earliest {
				earliest = s.Timestamp
				found = true
			}
		}
	}
	return earliest, found
}

func (t *TsProcessor) observeTs(req *prompb.WriteRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accumulator == nil {
		earliest, found := earliestTimestamp(req)
		if !found {
			return nil
		}
		start := time.UnixMilli(earliest).UTC().Truncate(t.sampleInterval)
		accumulator, err := corrjoin.NewTimeseriesAccumulator(start, t.sampleInterval,
			t.settings.MaxSamplesPerSeries, t.logger)
		if err != nil {
			return err
		}
		t.accumulator = accumulator
	}
	ignoredBefore := t.accumulator.IgnoredCount()
	for _, ts := range req.Timeseries {
		metric := make(model.Metric, len(ts.Labels))
		for _, l := range ts.Labels {
			metric[model.LabelName(l.Name)] = model.LabelValue(l.Value)
		}
		mjson, err := json.Marshal(metric)
		if err != nil {
			return err
		}
		metricName := string(mjson)
		for _, s := range ts.Samples {
			t.accumulator.AddObservation(&corrjoin.Observation{
				MetricFingerprint: (uint64)(metric.Fingerprint()),
				MetricName:        metricName,
				Value:             s.Value,
				Timestamp:         time.UnixMilli(s.Timestamp).UTC(),
			})
		}
		receivedSamples.Add(float64(len(ts.Samples)))
	}
	ignoredSamples.Add(float64(t.accumulator.IgnoredCount() - ignoredBefore))
	return nil
}

// ReceivePrometheusData adds the samples of a remote-write request to the
// current batch.
func (t *TsProcessor) ReceivePrometheusData(w http.ResponseWriter, r *http.Request) {
	req, err := remote.DecodeWriteRequest(r.Body)
	if err != nil {
		t.logger.Printf("failed to decode write request: %v\n", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Stale markers are NaN values, the accumulator ignores them.
	err = t.observeTs(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Correlate runs the join over the current batch and starts a new batch.
func (t *TsProcessor) Correlate(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	accumulator := t.accumulator
	t.accumulator = nil
	t.mu.Unlock()
	if accumulator == nil {
		http.Error(w, "no samples received", http.StatusUnprocessableEntity)
		return
	}
	matrix, err := accumulator.Matrix()
	if err != nil {
		writeError(w, err)
		return
	}
	t.runAndRespond(w, r, matrix, accumulator.StartTime().UnixMilli())
}

// Join runs the join over the timeseries in the request body.
func (t *TsProcessor) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	rows := make([][]float64, len(req.Timeseries))
	tsids := make([]datatypes.TsId, len(req.Timeseries))
	for i, ts := range req.Timeseries {
		rows[i] = ts.Values
		tsids[i] = datatypes.TsId{MetricName: ts.Name}
	}
	matrix, err := corrjoin.NewTimeseriesMatrix(rows)
	if err != nil {
		writeError(w, err)
		return
	}
	matrix.Tsids = tsids
	t.runAndRespond(w, r, matrix, time.Now().UnixMilli())
}

// nextBatch returns a batch id that is larger than every earlier one, so
// result files of different runs never share a name. Callers hold runMu.
func (t *TsProcessor) nextBatch(candidate int64) int64 {
	if candidate <= t.lastBatch {
		candidate = t.lastBatch + 1
	}
	t.lastBatch = candidate
	return candidate
}

func (t *TsProcessor) newReporter(collector *reporter.Collector, batch int64) reporter.Reporter {
	reporters := []reporter.Reporter{collector}
	if t.settings.ResultsDirectory != "" {
		parquetReporter := reporter.NewParquetReporter(t.settings.ResultsDirectory,
			t.settings.MaxRowsPerRowGroup, t.logger)
		parquetReporter.Batch = batch
		reporters = append(reporters, parquetReporter)
	}
	if t.metrics != nil {
		reporters = append(reporters, t.metrics)
	}
	return reporter.NewMultiReporter(reporters...)
}

func (t *TsProcessor) runAndRespond(w http.ResponseWriter, r *http.Request, matrix *corrjoin.TimeseriesMatrix,
	batchCandidate int64) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	batch := t.nextBatch(batchCandidate)

	requestedCorrelationBatches.Inc()
	rowCount, _ := matrix.Dims()
	numberOfTimeseries.Set(float64(rowCount))

	collector := reporter.NewCollector()
	joiner, err := corrjoin.NewJoiner(t.settings, t.newReporter(collector, batch), corrjoin.WithLogger(t.logger))
	if err != nil {
		writeError(w, err)
		return
	}
	requestStart := time.Now()
	summary, err := joiner.Run(r.Context(), matrix)
	if err != nil {
		t.logger.Printf("correlation batch failed: %v\n", err)
		writeError(w, err)
		return
	}
	elapsed := time.Since(requestStart)
	correlationDurationHist.Observe(float64(elapsed.Milliseconds()))
	correlationDuration.Set(float64(elapsed.Milliseconds()))
	t.logger.Printf("correlation batch %d processed in %d milliseconds\n", batch, elapsed.Milliseconds())

	resp := correlationResponse{
		Batch:      batch,
		Summary:    toSummaryResponse(summary),
		Timeseries: matrix.RowNames(),
		Pairs:      collector.Pairs(),
	}
	if len(collector.Skipped()) > 0 {
		resp.Skipped = make(map[int]string)
		for window, reason := range collector.Skipped() {
			resp.Skipped[window] = reason.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func toSummaryResponse(summary *corrjoin.RunSummary) summaryResponse {
	ret := summaryResponse{
		Windows:             summary.WindowCount,
		WindowsProcessed:    summary.WindowsProcessed,
		WindowsSkipped:      summary.WindowsSkipped,
		CorrelatedPairs:     summary.CorrelatedPairs,
		MeanPruningRate:     summary.MeanPruningRate,
		MeanJoinPruningRate: summary.MeanJoinPruningRate,
		StageMilliseconds:   make(map[string]float64, len(summary.StageTimings)),
	}
	for step, d := range summary.StageTimings {
		ret.StageMilliseconds[step] = float64(d.Microseconds()) / 1000.0
	}
	return ret
}

func writeError(w http.ResponseWriter, err error) {
	var configError datatypes.ConfigurationError
	var shapeError datatypes.DataShapeError
	switch {
	case errors.As(err, &configError):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &shapeError):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
