package lib

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/kpaschen/windowjoin/lib/settings"
	"gonum.org/v1/gonum/mat"
)

func walks(seed int64, rows int, length int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	ret := make([][]float64, rows)
	for i := range ret {
		ret[i] = make([]float64, length)
		v := 0.0
		for j := range ret[i] {
			v += rng.NormFloat64()
			ret[i][j] = v
		}
	}
	return ret
}

func joinSettings(algorithm string, threshold float64) settings.CorrjoinSettings {
	return settings.CorrjoinSettings{
		SvdDimensions:        15,
		EuclidDimensions:     30,
		SvdOutputDimensions:  3,
		CorrelationThreshold: threshold,
		WindowSize:           300,
		StrideLength:         10,
		Algorithm:            algorithm,
	}
}

func runJoin(t *testing.T, config settings.CorrjoinSettings, rows [][]float64,
	opts ...Option) (*reporter.Collector, *RunSummary) {
	matrix, err := NewTimeseriesMatrix(rows)
	if err != nil {
		t.Fatalf("failed to create matrix: %v", err)
	}
	collector := reporter.NewCollector()
	joiner, err := NewJoiner(config, collector, append([]Option{WithLogger(quietLogger)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create joiner: %v", err)
	}
	summary, err := joiner.Run(context.Background(), matrix)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return collector, summary
}

func pairKey(p datatypes.CorrelatedPair) string {
	return fmt.Sprintf("%d:%d-%d", p.Window, p.R1, p.R2)
}

func samePairs(t *testing.T, expected []datatypes.CorrelatedPair, actual []datatypes.CorrelatedPair) {
	want := make(map[string]float64, len(expected))
	for _, p := range expected {
		want[pairKey(p)] = p.Pearson
	}
	got := make(map[string]float64, len(actual))
	for _, p := range actual {
		got[pairKey(p)] = p.Pearson
	}
	for k, v := range want {
		g, ok := got[k]
		if !ok {
			t.Errorf("missing correlated pair %s (%f)", k, v)
			continue
		}
		if math.Abs(g-v) > 1e-9 {
			t.Errorf("pair %s: expected pearson %f but got %f", k, v, g)
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			t.Errorf("unexpected correlated pair %s", k)
		}
	}
}

func TestJoinerDuplicateRows(t *testing.T) {
	rows := walks(1, 3, 1000)
	copy(rows[2], rows[0])
	collector, summary := runJoin(t, joinSettings(settings.ALGO_PAA_SVD, 0.75), rows)

	if summary.WindowCount != 71 || summary.WindowsProcessed != 71 {
		t.Errorf("expected 71 processed windows but got %+v", summary)
	}
	found := make(map[int]bool)
	for _, p := range collector.Pairs() {
		if p.R1 == 0 && p.R2 == 2 {
			found[p.Window] = true
			if math.Abs(p.Pearson-1.0) > 1e-9 {
				t.Errorf("expected pearson 1 for duplicate rows but got %f", p.Pearson)
			}
		}
	}
	if len(found) != 71 {
		t.Errorf("expected the duplicate rows to be found in all 71 windows but got %d", len(found))
	}
}

func TestJoinerMatchesFullPearson(t *testing.T) {
	rows := walks(7, 12, 1000)
	// A scaled and shifted copy and a noisy copy.
	for j := range rows[0] {
		rows[5][j] = 3.0*rows[0][j] + 10.0
		rows[9][j] = rows[2][j] + 0.3*math.Sin(float64(j))
	}
	for _, threshold := range []float64{0.85, 0.95} {
		expected, _ := runJoin(t, joinSettings(settings.ALGO_FULL_PEARSON, threshold), rows)
		for _, algorithm := range []string{settings.ALGO_PAA_ONLY, settings.ALGO_PAA_SVD} {
			actual, summary := runJoin(t, joinSettings(algorithm, threshold), rows)
			samePairs(t, expected.Pairs(), actual.Pairs())
			if summary.MeanPruningRate < 0 || summary.MeanPruningRate > 1 {
				t.Errorf("%s: pruning rate out of range: %f", algorithm, summary.MeanPruningRate)
			}
		}
	}
}

func TestJoinerAbsoluteMode(t *testing.T) {
	rows := walks(3, 4, 700)
	for j := range rows[0] {
		rows[3][j] = -rows[1][j]
	}
	config := joinSettings(settings.ALGO_PAA_SVD, 0.9)
	config.CorrelationMode = settings.CORRELATION_ABSOLUTE
	expectedConfig := config
	expectedConfig.Algorithm = settings.ALGO_FULL_PEARSON

	actual, _ := runJoin(t, config, rows)
	expected, _ := runJoin(t, expectedConfig, rows)
	samePairs(t, expected.Pairs(), actual.Pairs())

	negated := 0
	for _, p := range actual.Pairs() {
		if p.R1 == 1 && p.R2 == 3 {
			negated++
			if math.Abs(p.Pearson+1.0) > 1e-9 {
				t.Errorf("expected pearson -1 but got %f", p.Pearson)
			}
		}
	}
	if negated != 41 {
		t.Errorf("expected the negated pair in all 41 windows but got %d", negated)
	}

	signed, _ := runJoin(t, joinSettings(settings.ALGO_PAA_SVD, 0.9), rows)
	for _, p := range signed.Pairs() {
		if p.Pearson < 0.9 {
			t.Errorf("signed mode reported pair %v", p)
		}
	}
}

func TestJoinerParallelMatchesSequential(t *testing.T) {
	rows := walks(11, 10, 1000)
	config := joinSettings(settings.ALGO_PAA_SVD, 0.8)
	sequential, seqSummary := runJoin(t, config, rows)
	config.Workers = 4
	parallel, parSummary := runJoin(t, config, rows)
	samePairs(t, sequential.Pairs(), parallel.Pairs())
	if seqSummary.WindowsProcessed != parSummary.WindowsProcessed ||
		seqSummary.CorrelatedPairs != parSummary.CorrelatedPairs {
		t.Errorf("summaries differ: %+v vs %+v", seqSummary, parSummary)
	}
	if len(parallel.Windows()) != 71 {
		t.Errorf("expected 71 reported windows but got %d", len(parallel.Windows()))
	}
}

func TestJoinerConfigurationError(t *testing.T) {
	matrix, err := NewTimeseriesMatrix(walks(1, 3, 1000))
	if err != nil {
		t.Fatalf("failed to create matrix: %v", err)
	}
	collector := reporter.NewCollector()
	config := joinSettings(settings.ALGO_PAA_SVD, 0.85)
	config.SvdDimensions = 7
	joiner, err := NewJoiner(config, collector, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = joiner.Run(context.Background(), matrix)
	var configError datatypes.ConfigurationError
	if !errors.As(err, &configError) {
		t.Fatalf("expected a configuration error but got %v", err)
	}
	if configError.Parameter != "ks" {
		t.Errorf("expected the error to be about ks but got %s", configError.Parameter)
	}
	if len(collector.Windows()) != 0 || len(collector.Skipped()) != 0 {
		t.Errorf("expected no output for an invalid configuration")
	}

	config = joinSettings(settings.ALGO_PAA_SVD, 0.85)
	config.WindowSize = 1200
	joiner, _ = NewJoiner(config, collector, WithLogger(quietLogger))
	if _, err = joiner.Run(context.Background(), matrix); !errors.As(err, &configError) {
		t.Errorf("expected a configuration error for a window longer than the input but got %v", err)
	}

	config.Algorithm = "magic"
	if _, err = NewJoiner(config, collector); !errors.As(err, &configError) {
		t.Errorf("expected a configuration error for an unknown algorithm but got %v", err)
	}
}

type failingProjector struct{}

func (failingProjector) FitTransform(_ mat.Matrix, _ mat.Matrix) (*mat.Dense, error) {
	return nil, errors.New("did not converge")
}

func TestJoinerSkipsWindowsWhenSvdFails(t *testing.T) {
	collector, summary := runJoin(t, joinSettings(settings.ALGO_PAA_SVD, 0.85), walks(2, 4, 400),
		WithProjector(func(_ int) Projector { return failingProjector{} }))
	if summary.WindowsSkipped != 11 || summary.WindowsProcessed != 0 {
		t.Errorf("expected all 11 windows to be skipped but got %+v", summary)
	}
	if len(collector.Skipped()) != 11 {
		t.Errorf("expected 11 skipped windows but got %d", len(collector.Skipped()))
	}
	for window, reason := range collector.Skipped() {
		var noConvergence datatypes.NonConvergenceError
		if !errors.As(reason, &noConvergence) || noConvergence.Window != window {
			t.Errorf("unexpected reason for skipping window %d: %v", window, reason)
		}
	}
	if len(collector.Windows()) != 0 {
		t.Errorf("skipped windows should not be initialized")
	}
}

func TestJoinerConstantRows(t *testing.T) {
	rows := walks(4, 4, 400)
	for j := range rows[1] {
		rows[1][j] = 5.0
	}
	config := joinSettings(settings.ALGO_PAA_SVD, 0.85)
	collector, summary := runJoin(t, config, rows)
	if summary.WindowsSkipped != 11 {
		t.Errorf("expected constant rows to fail all windows but got %+v", summary)
	}
	for _, reason := range collector.Skipped() {
		var degenerate datatypes.DegenerateWindowError
		if !errors.As(reason, &degenerate) || degenerate.ConstantRows[0] != 1 {
			t.Errorf("unexpected reason %v", reason)
		}
	}

	config.SkipConstantRows = true
	collector, summary = runJoin(t, config, rows)
	if summary.WindowsProcessed != 11 {
		t.Errorf("expected all windows to be processed but got %+v", summary)
	}
	for window, constant := range collector.ConstantRows() {
		if len(constant) != 1 || constant[0] != 1 {
			t.Errorf("window %d: expected row 1 to be constant but got %v", window, constant)
		}
	}
	for _, p := range collector.Pairs() {
		if p.R1 == 1 || p.R2 == 1 {
			t.Errorf("constant row reported as correlated: %v", p)
		}
	}
}

func TestJoinerCancelled(t *testing.T) {
	matrix, err := NewTimeseriesMatrix(walks(5, 3, 1000))
	if err != nil {
		t.Fatalf("failed to create matrix: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 3} {
		config := joinSettings(settings.ALGO_PAA_SVD, 0.85)
		config.Workers = workers
		joiner, err := NewJoiner(config, reporter.NewCollector(), WithLogger(quietLogger))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		summary, err := joiner.Run(ctx, matrix)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the run to be cancelled but got %v", err)
		}
		if summary == nil || summary.WindowsProcessed != 0 {
			t.Errorf("expected an empty summary but got %+v", summary)
		}
	}
}

type callRecorder struct {
	calls []string
}

func (c *callRecorder) InitializeWindow(window int, start int, end int, _ []datatypes.TsId) error {
	c.calls = append(c.calls, fmt.Sprintf("init %d %d-%d", window, start, end))
	return nil
}

func (c *callRecorder) AddConstantRows(window int, _ []bool) error {
	c.calls = append(c.calls, fmt.Sprintf("constant %d", window))
	return nil
}

func (c *callRecorder) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	c.calls = append(c.calls, fmt.Sprintf("pairs %d", result.StrideCounter))
	return nil
}

func (c *callRecorder) SkipWindow(window int, _ error) {
	c.calls = append(c.calls, fmt.Sprintf("skip %d", window))
}

func (c *callRecorder) Flush(window int) error {
	c.calls = append(c.calls, fmt.Sprintf("flush %d", window))
	return nil
}

func TestJoinerReportingOrder(t *testing.T) {
	matrix, err := NewTimeseriesMatrix(walks(6, 3, 320))
	if err != nil {
		t.Fatalf("failed to create matrix: %v", err)
	}
	recorder := &callRecorder{}
	joiner, err := NewJoiner(joinSettings(settings.ALGO_PAA_SVD, 0.85), recorder, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, err := joiner.Run(context.Background(), matrix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := summary.StageTimings["bucketing"]; !ok {
		t.Errorf("expected a timing for the bucketing stage but got %v", summary.StageTimings)
	}
	expected := []string{
		"init 0 0-300", "constant 0", "pairs 0", "flush 0",
		"init 1 10-310", "constant 1", "pairs 1", "flush 1",
		"init 2 20-320", "constant 2", "pairs 2", "flush 2",
	}
	if len(recorder.calls) != len(expected) {
		t.Fatalf("expected calls %v but got %v", expected, recorder.calls)
	}
	for i := range expected {
		if recorder.calls[i] != expected[i] {
			t.Errorf("call %d: expected %s but got %s", i, expected[i], recorder.calls[i])
		}
	}
}
