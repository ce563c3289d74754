package lib

import (
	"time"

	"github.com/kpaschen/windowjoin/lib/comparisons"
)

// RunSummary describes a finished (or cancelled) run.
type RunSummary struct {
	WindowCount      int
	WindowsProcessed int
	WindowsSkipped   int
	CorrelatedPairs  int

	// Averages over the processed windows.
	MeanPruningRate     float64
	MeanJoinPruningRate float64

	// Total time spent per step over all processed windows.
	// "window" is the time for a whole window.
	StageTimings map[string]time.Duration
}

// PruningStatistics accumulates per-window results. It is not safe for
// concurrent use; the Joiner guards it.
type PruningStatistics struct {
	windowCount        int
	windowsProcessed   int
	windowsSkipped     int
	correlatedPairs    int
	pruningRateSum     float64
	joinPruningRateSum float64
	stageTimings       map[string]time.Duration
}

func NewPruningStatistics(windowCount int) *PruningStatistics {
	return &PruningStatistics{
		windowCount:  windowCount,
		stageTimings: make(map[string]time.Duration),
	}
}

// Add records a processed window. timings are the preparation steps of
// the window (normalize, paa, svd).
func (p *PruningStatistics) Add(result *comparisons.PipelineResult, timings map[string]time.Duration,
	elapsed time.Duration) {
	p.windowsProcessed++
	p.correlatedPairs += len(result.Result.CorrelatedPairs)
	p.pruningRateSum += result.PruningRate
	p.joinPruningRateSum += result.JoinPruningRate
	for step, d := range timings {
		p.stageTimings[step] += d
	}
	for _, stage := range result.Stages {
		p.stageTimings[stage.Name] += stage.Duration
	}
	p.stageTimings["window"] += elapsed
}

func (p *PruningStatistics) Skip() {
	p.windowsSkipped++
}

func (p *PruningStatistics) Summary() *RunSummary {
	ret := &RunSummary{
		WindowCount:      p.windowCount,
		WindowsProcessed: p.windowsProcessed,
		WindowsSkipped:   p.windowsSkipped,
		CorrelatedPairs:  p.correlatedPairs,
		StageTimings:     make(map[string]time.Duration, len(p.stageTimings)),
	}
	if p.windowsProcessed > 0 {
		ret.MeanPruningRate = p.pruningRateSum / float64(p.windowsProcessed)
		ret.MeanJoinPruningRate = p.joinPruningRateSum / float64(p.windowsProcessed)
	}
	for step, d := range p.stageTimings {
		ret.StageTimings[step] = d
	}
	return ret
}
