package comparisons

import (
	"fmt"
	"time"

	"github.com/kpaschen/windowjoin/lib/buckets"
	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/settings"
)

// Rounding in PAA and svd can push a pair that sits exactly on the
// threshold a few ulps past epsilon. The filters are widened by this
// relative amount; the verifier is not.
const epsilonTolerance = 1e-9

func widen(epsilon float64) float64 {
	return epsilon * (1.0 + epsilonTolerance)
}

// StageStats records how many pairs went into and came out of a stage.
type StageStats struct {
	Name     string
	In       int
	Out      int
	Duration time.Duration
}

// PipelineResult is the outcome of one pipeline run on one window.
type PipelineResult struct {
	Result *datatypes.CorrjoinResult
	Stages []StageStats

	// TotalPairs is m(m-1)/2 for the m non-constant rows of the window.
	TotalPairs int
	// 1 - |C1| / TotalPairs
	JoinPruningRate float64
	// 1 - |C2| / TotalPairs, where C2 is what reached the verifier.
	PruningRate float64
}

// Pipeline is a candidate source, a chain of filters and a verifier.
// A pipeline holds no per-window state and can be shared between
// goroutines.
type Pipeline struct {
	Source   CandidateSource
	Filters  []Filter
	Verifier Verifier
}

// NewPipeline builds the stage chain for config.Algorithm.
// config must have gone through ComputeSettingsFields.
func NewPipeline(config settings.CorrjoinSettings) (*Pipeline, error) {
	verifier := PearsonVerifier{
		Threshold: config.CorrelationThreshold,
		Mode:      config.CorrelationMode,
	}
	euclid := EuclidFilter{
		Epsilon: widen(config.Epsilon2),
		Mode:    config.CorrelationMode,
	}
	switch config.Algorithm {
	case settings.ALGO_FULL_PEARSON:
		return &Pipeline{Source: AllPairs{}, Verifier: verifier}, nil
	case settings.ALGO_PAA_ONLY:
		return &Pipeline{Source: AllPairs{}, Filters: []Filter{euclid}, Verifier: verifier}, nil
	case settings.ALGO_PAA_SVD:
		source := BucketCandidates{
			Epsilon:  widen(config.Epsilon1),
			Mirrored: config.CorrelationMode == settings.CORRELATION_ABSOLUTE,
		}
		return &Pipeline{Source: source, Filters: []Filter{euclid}, Verifier: verifier}, nil
	}
	return nil, datatypes.ConfigurationError{
		Parameter: "algorithm",
		Reason:    fmt.Sprintf("unsupported algorithm choice %q", config.Algorithm),
	}
}

// Run processes one window. The returned result contains the pairs the
// verifier accepted.
func (p *Pipeline) Run(w Window) (*PipelineResult, error) {
	rows := 0
	for i := range w.Normalized() {
		if !IsConstantRow(i, w.ConstantRows()) {
			rows++
		}
	}
	totalPairs := rows * (rows - 1) / 2
	ret := &PipelineResult{
		Stages:     make([]StageStats, 0, len(p.Filters)+2),
		TotalPairs: totalPairs,
	}

	start := time.Now()
	candidates, err := p.Source.Candidates(w)
	if err != nil {
		return nil, fmt.Errorf("%s failed for window %d: %w", p.Source.Name(), w.Index(), err)
	}
	ret.Stages = append(ret.Stages, StageStats{
		Name:     p.Source.Name(),
		In:       totalPairs,
		Out:      len(candidates),
		Duration: time.Since(start),
	})
	ret.JoinPruningRate = buckets.PruningRate(len(candidates), rows)

	for _, filter := range p.Filters {
		start = time.Now()
		kept := candidates[:0:0]
		for _, pair := range candidates {
			ok, err := filter.Keep(w, pair)
			if err != nil {
				return nil, fmt.Errorf("%s failed for window %d: %w", filter.Name(), w.Index(), err)
			}
			if ok {
				kept = append(kept, pair)
			}
		}
		ret.Stages = append(ret.Stages, StageStats{
			Name:     filter.Name(),
			In:       len(candidates),
			Out:      len(kept),
			Duration: time.Since(start),
		})
		candidates = kept
	}
	ret.PruningRate = buckets.PruningRate(len(candidates), rows)

	start = time.Now()
	result := &datatypes.CorrjoinResult{
		CorrelatedPairs: map[datatypes.RowPair]float64{},
		StrideCounter:   w.Index(),
		ConstantRows:    w.ConstantRows(),
	}
	for _, pair := range candidates {
		pearson, ok, err := p.Verifier.Verify(w, pair)
		if err != nil {
			return nil, fmt.Errorf("%s failed for window %d: %w", p.Verifier.Name(), w.Index(), err)
		}
		if ok {
			result.CorrelatedPairs[pair] = pearson
		}
	}
	ret.Stages = append(ret.Stages, StageStats{
		Name:     p.Verifier.Name(),
		In:       len(candidates),
		Out:      len(result.CorrelatedPairs),
		Duration: time.Since(start),
	})
	ret.Result = result
	return ret, nil
}

// StageNames lists the stages in the order they run.
func (p *Pipeline) StageNames() []string {
	ret := []string{p.Source.Name()}
	for _, f := range p.Filters {
		ret = append(ret, f.Name())
	}
	return append(ret, p.Verifier.Name())
}
