package explorer

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"testing"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/prometheus/common/model"
)

var quietLogger = log.New(io.Discard, "", 0)

func TestComputePrometheusGraphURL(t *testing.T) {
	m := Metric{
		LabelSet: make(map[model.LabelName]model.LabelValue),
	}
	m.ComputePrometheusGraphURL("http://localhost:9090", "", "")
	if m.PrometheusGraphURL != "http://localhost:9090/graph" {
		t.Errorf("unexpected prometheus graph url %s", m.PrometheusGraphURL)
	}

	m.LabelSet["__name__"] = "node_cpu_seconds_total"
	m.LabelSet["namespace"] = "default"
	m.LabelSet["cpu"] = "0"

	targetURL := "http://localhost:9090/graph?g0.expr=node_cpu_seconds_total%7Bcpu%3D%220%22%2C+namespace%3D%22default%22%7D&g0.tab=0&g0.display_mode=lines&g0.show_exemplars=0&g0.range_input=10m&g0.end_input=2024-09-24+08%3A52%3A15&g0.moment_input=2024-09-24+08%3A52%3A15"

	m.ComputePrometheusGraphURL("http://localhost:9090", "10m", "2024-09-24 08:52:15")
	if m.PrometheusGraphURL != targetURL {
		t.Errorf("expected %s but got %s\n", targetURL, m.PrometheusGraphURL)
	}
}

// writeResults writes a results file for window 3 with six timeseries:
// 0-1-2 are one correlated group, 3-4 another, 5 is constant.
func writeResults(t *testing.T, dir string) string {
	rep := reporter.NewParquetReporter(dir, 2, quietLogger)
	tsids := make([]datatypes.TsId, 6)
	for i := range tsids {
		metric := model.Metric{
			model.MetricNameLabel: "requests_total",
			"pod":                 model.LabelValue(string(rune('a' + i))),
		}
		name, err := json.Marshal(metric)
		if err != nil {
			t.Fatalf("failed to marshal metric: %v", err)
		}
		tsids[i] = datatypes.TsId{MetricName: string(name), MetricFingerprint: uint64(metric.Fingerprint())}
	}
	if err := rep.InitializeWindow(3, 30, 60, tsids); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rep.AddConstantRows(3, []bool{false, false, false, false, false, true})
	err := rep.AddCorrelatedPairs(datatypes.CorrjoinResult{
		CorrelatedPairs: map[datatypes.RowPair]float64{
			{R1: 0, R2: 1}: 0.9,
			{R1: 1, R2: 2}: 0.95,
			{R1: 3, R2: 4}: -0.99,
		},
		StrideCounter: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = rep.Flush(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reporter.ResultsFileName(0, 3, 30, 60)
}

func openResults(t *testing.T) *ParquetExplorer {
	dir := t.TempDir()
	filename := writeResults(t, dir)
	explorer := NewParquetExplorer(dir, quietLogger)
	if err := explorer.Initialize(filename); err != nil {
		t.Fatalf("failed to read parquet file: %v", err)
	}
	t.Cleanup(func() { explorer.Close() })
	return explorer
}

func TestLookupMetric(t *testing.T) {
	explorer := openResults(t)
	if explorer.NumRows() != 13 {
		t.Errorf("expected 13 rows but got %d", explorer.NumRows())
	}
	m, err := explorer.LookupMetric(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.LabelSet["pod"] != "c" || m.LabelSet[model.MetricNameLabel] != "requests_total" {
		t.Errorf("unexpected metric %+v", m)
	}
	if m.Fingerprint == 0 || m.Constant {
		t.Errorf("expected a fingerprint for a non-constant metric but got %+v", m)
	}
	m, _ = explorer.LookupMetric(5)
	if m == nil || !m.Constant {
		t.Errorf("expected metric 5 to be constant but got %+v", m)
	}
	m, _ = explorer.LookupMetric(17)
	if m != nil {
		t.Errorf("expected no metric for id 17 but got %+v", m)
	}
}

func TestGetMetrics(t *testing.T) {
	metrics, err := openResults(t).GetMetrics()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(metrics) != 6 {
		t.Errorf("expected 6 metrics but got %d", len(metrics))
	}
	for id, m := range metrics {
		if m.RowId != id {
			t.Errorf("metric %d has row id %d", id, m.RowId)
		}
		if m.Constant != (id == 5) {
			t.Errorf("unexpected constant flag for metric %d", id)
		}
	}
}

func TestCorrelatedWith(t *testing.T) {
	correlated, err := openResults(t).CorrelatedWith(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(correlated) != 2 || correlated[0] != float32(0.9) || correlated[2] != float32(0.95) {
		t.Errorf("unexpected correlates of row 1: %v", correlated)
	}
}

func TestGetSubgraphs(t *testing.T) {
	subgraphs, err := openResults(t).GetSubgraphs()
	if err != nil {
		t.Fatalf("failed to get subgraphs: %v", err)
	}
	if len(subgraphs.Sizes) != 2 {
		t.Errorf("expected two subgraphs but got %+v", subgraphs)
	}
	// Verify that the sizes are correct.
	for graphId, size := range subgraphs.Sizes {
		counter := 0
		for _, g := range subgraphs.Rows {
			if g == graphId {
				counter++
			}
		}
		if counter != size {
			t.Errorf("wrong count for subgraph %d: size should be %d but count is %d\n", graphId, size, counter)
		}
	}
	if subgraphs.GetGraphId(0) != subgraphs.GetGraphId(2) || subgraphs.GetGraphId(0) == subgraphs.GetGraphId(3) {
		t.Errorf("unexpected subgraph assignment %v", subgraphs.Rows)
	}
	if subgraphs.GetGraphId(5) != -1 {
		t.Errorf("constant row should not be in a subgraph")
	}
}

func TestSubgraphMerge(t *testing.T) {
	s := NewSubgraphMemberships()
	s.addEdge(1, 2)
	s.addEdge(3, 4)
	s.addEdge(4, 5)
	s.addEdge(2, 5)
	if len(s.Sizes) != 1 {
		t.Fatalf("expected one subgraph after the merge but got %v", s.Sizes)
	}
	for _, size := range s.Sizes {
		if size != 5 {
			t.Errorf("expected size 5 but got %d", size)
		}
	}
}

func TestExplorerNeedsFile(t *testing.T) {
	explorer := NewParquetExplorer(os.TempDir(), quietLogger)
	if _, err := explorer.GetMetrics(); err == nil {
		t.Errorf("expected an error without a file")
	}
	if err := explorer.Initialize("does_not_exist.pq"); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
