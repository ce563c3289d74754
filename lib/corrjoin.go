package lib

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kpaschen/windowjoin/lib/comparisons"
	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/kpaschen/windowjoin/lib/settings"
	"golang.org/x/sync/errgroup"
)

// A Joiner slides a window over a TimeseriesMatrix and reports the
// pairs of rows that are correlated in each window.
type Joiner struct {
	config       settings.CorrjoinSettings
	reporter     reporter.Reporter
	pipeline     *comparisons.Pipeline
	newProjector NewProjectorFunc
	logger       *log.Logger

	// Guards the reporter and the statistics.
	mu sync.Mutex
}

type Option func(*Joiner)

func WithLogger(logger *log.Logger) Option {
	return func(j *Joiner) {
		j.logger = logger
	}
}

// WithProjector replaces the truncated svd used to project windows.
func WithProjector(newProjector NewProjectorFunc) Option {
	return func(j *Joiner) {
		j.newProjector = newProjector
	}
}

func NewJoiner(config settings.CorrjoinSettings, rep reporter.Reporter, opts ...Option) (*Joiner, error) {
	if rep == nil {
		return nil, fmt.Errorf("a reporter is required")
	}
	config = config.ComputeSettingsFields()
	pipeline, err := comparisons.NewPipeline(config)
	if err != nil {
		return nil, err
	}
	j := &Joiner{
		config:       config,
		reporter:     rep,
		pipeline:     pipeline,
		newProjector: newTruncatedSVD,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = log.Default()
	}
	return j, nil
}

func (j *Joiner) Settings() settings.CorrjoinSettings {
	return j.config
}

// Run processes every window of matrix. Windows that fail with a
// recoverable error are skipped and passed to the reporter's SkipWindow.
// Any other error stops the run. When ctx is cancelled, Run returns the
// summary of what was processed so far together with the context's error.
func (j *Joiner) Run(ctx context.Context, matrix *TimeseriesMatrix) (*RunSummary, error) {
	if matrix == nil {
		return nil, datatypes.DataShapeError{Row: -1, Reason: "there is no matrix"}
	}
	rowCount, columnCount := matrix.Dims()
	if err := j.config.Validate(rowCount, columnCount); err != nil {
		return nil, err
	}
	windowCount := WindowCount(columnCount, j.config.WindowSize, j.config.StrideLength)
	stats := NewPruningStatistics(windowCount)
	j.logger.Printf("processing %d windows over %d timeseries with algorithm %s\n",
		windowCount, rowCount, j.config.Algorithm)

	var err error
	if j.config.Workers <= 1 {
		err = j.runSequential(ctx, matrix, windowCount, stats)
	} else {
		err = j.runParallel(ctx, matrix, windowCount, stats)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	summary := stats.Summary()
	if err != nil {
		return summary, err
	}
	j.logger.Printf("processed %d windows, skipped %d, found %d correlated pairs, mean pruning rate %f\n",
		summary.WindowsProcessed, summary.WindowsSkipped, summary.CorrelatedPairs, summary.MeanPruningRate)
	return summary, nil
}

func (j *Joiner) runSequential(ctx context.Context, matrix *TimeseriesMatrix, windowCount int,
	stats *PruningStatistics) error {
	for alpha := 0; alpha < windowCount; alpha++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.processWindow(matrix, alpha, stats); err != nil {
			return err
		}
	}
	return nil
}

// runParallel processes up to Workers windows at the same time. Windows
// are reported in the order they finish.
func (j *Joiner) runParallel(ctx context.Context, matrix *TimeseriesMatrix, windowCount int,
	stats *PruningStatistics) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Workers)
	for alpha := 0; alpha < windowCount; alpha++ {
		if gctx.Err() != nil {
			break
		}
		alpha := alpha
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return j.processWindow(matrix, alpha, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (j *Joiner) processWindow(matrix *TimeseriesMatrix, alpha int, stats *PruningStatistics) error {
	start := time.Now()
	offset := alpha * j.config.StrideLength
	buffers, err := matrix.Window(offset, j.config.WindowSize)
	if err != nil {
		return err
	}
	window := NewTimeseriesWindow(alpha, buffers, j.config, j.newProjector, j.logger)
	var result *comparisons.PipelineResult
	err = window.Prepare()
	if err == nil {
		result, err = j.pipeline.Run(window)
	}
	if err != nil {
		if !datatypes.IsRecoverable(err) {
			return fmt.Errorf("window %d failed: %w", alpha, err)
		}
		j.logger.Printf("skipping window %d: %v\n", alpha, err)
		j.mu.Lock()
		defer j.mu.Unlock()
		stats.Skip()
		j.reporter.SkipWindow(alpha, err)
		return nil
	}
	elapsed := time.Since(start)

	for _, stage := range result.Stages {
		j.logger.Printf("window %d: %s kept %d of %d pairs in %v\n",
			alpha, stage.Name, stage.Out, stage.In, stage.Duration)
	}
	j.logger.Printf("window %d: join pruning rate %f, pruning rate %f, %d correlated pairs\n",
		alpha, result.JoinPruningRate, result.PruningRate, len(result.Result.CorrelatedPairs))

	j.mu.Lock()
	defer j.mu.Unlock()
	stats.Add(result, window.Timings(), elapsed)
	return j.report(alpha, offset, matrix.Tsids, result.Result)
}

func (j *Joiner) report(alpha int, offset int, tsids []datatypes.TsId, result *datatypes.CorrjoinResult) error {
	if err := j.reporter.InitializeWindow(alpha, offset, offset+j.config.WindowSize, tsids); err != nil {
		return fmt.Errorf("failed to initialize reporting for window %d: %w", alpha, err)
	}
	if err := j.reporter.AddConstantRows(alpha, result.ConstantRows); err != nil {
		return fmt.Errorf("failed to report constant rows for window %d: %w", alpha, err)
	}
	if err := j.reporter.AddCorrelatedPairs(*result); err != nil {
		return fmt.Errorf("failed to report correlated pairs for window %d: %w", alpha, err)
	}
	if err := j.reporter.Flush(alpha); err != nil {
		return fmt.Errorf("failed to flush window %d: %w", alpha, err)
	}
	return nil
}
