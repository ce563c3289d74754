package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	corrjoin "github.com/kpaschen/windowjoin/lib"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/kpaschen/windowjoin/lib/settings"
)

// Reads a whitespace-separated matrix of timeseries, one per line, and
// reports the correlated pairs of every window.
func main() {
	configFile := flag.String("config", "", "yaml file with settings; flags given on the command line override it")
	filename := flag.String("filename", "", "Name of the file to read")
	windowSize := flag.Int("windowSize", 1020, "column count of a time series window")
	stride := flag.Int("stride", 102, "how much to slide the time series window by")
	correlationThreshold := flag.Int("correlationThreshold", 90, "correlation threshold in percent")
	// paper says 15 is good
	ks := flag.Int("ks", 15, "How many columns to reduce the input to in the first paa step")
	// paper says 30 is good
	ke := flag.Int("ke", 30, "How many columns to reduce the input to in the second paa step")
	svdDimensions := flag.Int("svdOutput", 3, "How many columns to choose after svd") // aka kb
	algorithm := flag.String("algorithm", settings.ALGO_PAA_SVD, "Algorithm to use. Possible values: full_pearson, paa_only, paa_svd")
	mode := flag.String("correlationMode", settings.CORRELATION_SIGNED, "signed (r >= T) or absolute (|r| >= T)")
	skipConstant := flag.Bool("skipConstantRows", true, "Whether to ignore rows that are constant in a window")
	workers := flag.Int("workers", 1, "how many windows to process concurrently")
	resultsDirectory := flag.String("resultsDirectory", "", "If set, write result files to this directory")
	format := flag.String("format", "parquet", "Format of the result files: parquet or csv")
	printSets := flag.Bool("sets", false, "Whether to log the correlated sets of every window")
	summaryCsv := flag.String("summaryCsv", "", "If set, append a line describing this run to this csv file")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile here")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logger.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	config := settings.CorrjoinSettings{
		SvdDimensions:        *ks,
		EuclidDimensions:     *ke,
		SvdOutputDimensions:  *svdDimensions,
		CorrelationThreshold: float64(*correlationThreshold) / 100.0,
		WindowSize:           *windowSize,
		StrideLength:         *stride,
		Algorithm:            *algorithm,
		CorrelationMode:      *mode,
		SkipConstantRows:     *skipConstant,
		Workers:              *workers,
		ResultsDirectory:     *resultsDirectory,
	}
	if *configFile != "" {
		fileConfig, err := settings.LoadSettings(*configFile)
		if err != nil {
			logger.Fatal(err)
		}
		config, err = fileConfig.Override(config, explicitSettings())
		if err != nil {
			logger.Fatal(err)
		}
	}
	config = config.ComputeSettingsFields()

	file, err := os.Open(*filename)
	if err != nil {
		logger.Fatal(err)
	}
	matrix, err := corrjoin.ReadTimeseriesMatrix(file)
	file.Close()
	if err != nil {
		logger.Fatalf("failed to read %s: %v", *filename, err)
	}
	rows, columns := matrix.Dims()
	logger.Printf("read %d timeseries with %d samples each from %s\n", rows, columns, *filename)

	reporters := []reporter.Reporter{reporter.NewLogReporter(logger)}
	if config.ResultsDirectory != "" {
		if err := os.MkdirAll(config.ResultsDirectory, 0750); err != nil {
			logger.Fatal(err)
		}
		switch *format {
		case "csv":
			reporters = append(reporters, reporter.NewCsvReporter(config.ResultsDirectory, logger))
		case "parquet":
			reporters = append(reporters,
				reporter.NewParquetReporter(config.ResultsDirectory, config.MaxRowsPerRowGroup, logger))
		default:
			logger.Fatalf("unknown format %s", *format)
		}
	}
	if *printSets {
		reporters = append(reporters, reporter.NewSetReporter(logger))
	}

	joiner, err := corrjoin.NewJoiner(config, reporter.NewMultiReporter(reporters...), corrjoin.WithLogger(logger))
	if err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runStart := time.Now()
	summary, err := joiner.Run(ctx, matrix)
	elapsed := time.Since(runStart)
	if summary != nil && *summaryCsv != "" {
		if summaryErr := corrjoin.AppendRunSummary(*summaryCsv, config, rows, summary, elapsed); summaryErr != nil {
			logger.Printf("failed to write run summary: %v\n", summaryErr)
		}
	}
	if summary != nil {
		fmt.Printf("windows: %d processed: %d skipped: %d correlated pairs: %d\n",
			summary.WindowCount, summary.WindowsProcessed, summary.WindowsSkipped, summary.CorrelatedPairs)
		fmt.Printf("mean pruning rate: %.4f mean join pruning rate: %.4f\n",
			summary.MeanPruningRate, summary.MeanJoinPruningRate)
		for stage, d := range summary.StageTimings {
			fmt.Printf("%s: %v\n", stage, d)
		}
	}
	if err != nil {
		logger.Printf("caught error: %v\n", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

// The settings keys of the flags that correspond to a setting.
var flagSettings = map[string]string{
	"windowSize":           "windowSize",
	"stride":               "stride",
	"correlationThreshold": "correlationThreshold",
	"ks":                   "ks",
	"ke":                   "ke",
	"svdOutput":            "svdOutputDimensions",
	"algorithm":            "algorithm",
	"correlationMode":      "correlationMode",
	"skipConstantRows":     "skipConstantRows",
	"workers":              "workers",
	"resultsDirectory":     "resultsDirectory",
}

// explicitSettings lists the settings whose flags were given on the command line.
func explicitSettings() []string {
	keys := []string{}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagSettings[f.Name]; ok {
			keys = append(keys, key)
		}
	})
	return keys
}
