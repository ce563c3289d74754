package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/kpaschen/windowjoin/explorer"
	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/kpaschen/windowjoin/lib/settings"
	"github.com/kpaschen/windowjoin/receiver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	explorerAddress   string
	prometheusAddress string
	metricsAddress    string
}

func main() {
	var metricsAddr string
	var prometheusAddr string
	var explorerAddr string
	var configFile string
	var windowSize int
	var stride int
	var correlationThreshold int
	var ks int
	var ke int
	var svdDimensions int
	var algorithm string
	var correlationMode string
	var skipConstantTs bool
	var workers int
	var parquetMaxRowsPerRowGroup int
	var maxSamplesPerSeries int
	var sampleInterval int
	var resultsDirectory string
	var justExplore bool
	var noExplore bool
	var prometheusURL string
	var windowMaxAgeSeconds int
	var scanInterval time.Duration

	flag.StringVar(&metricsAddr, "metrics-address", ":9203", "The address the metrics endpoint binds to.")
	flag.StringVar(&prometheusAddr, "listen-address", ":9201", "The address that the storage endpoint binds to.")
	flag.StringVar(&explorerAddr, "explorer-address", ":9205", "The address that the explorer endpoint binds to.")

	flag.StringVar(&configFile, "config", "", "A yaml file with the correlation settings. Correlation flags given on the command line override it.")
	flag.IntVar(&windowSize, "windowSize", 1020, "number of data points to use in determining correlatedness")
	flag.IntVar(&stride, "stride", 102, "the number of data points to read before computing correlation again")
	flag.IntVar(&sampleInterval, "sampleInterval", 20, "the time between samples, in seconds. This should be at least the global Prometheus scrape interval")
	flag.IntVar(&correlationThreshold, "correlationThreshold", 90, "correlation threshold in percent")
	flag.IntVar(&ks, "ks", 15, "how many columns to reduce the input to in the first PAA step")
	flag.IntVar(&ke, "ke", 30, "how many columns to reduce the input to in the second PAA step (during bucketing)")
	flag.IntVar(&svdDimensions, "svdDimensions", 3, "How many columns to choose after SVD")
	flag.StringVar(&algorithm, "algorithm", settings.ALGO_PAA_SVD, "Algorithm to use. Possible values: full_pearson, paa_only, paa_svd")
	flag.StringVar(&correlationMode, "correlationMode", settings.CORRELATION_SIGNED, "signed or absolute")
	flag.BoolVar(&skipConstantTs, "skipConstantTs", true, "Whether to ignore timeseries whose value is constant in the current window")
	flag.IntVar(&workers, "workers", 1, "How many windows to process concurrently")
	flag.IntVar(&parquetMaxRowsPerRowGroup, "parquetMaxRowsPerRowGroup", 100000, "Number of rows per row group in Parquet. Small numbers reduce memory usage but cost more disk space; large numbers cost more memory but improve compression.")
	flag.IntVar(&maxSamplesPerSeries, "maxSamplesPerSeries", 100000, "Samples of a timeseries beyond this many in one batch are dropped.")
	flag.StringVar(&resultsDirectory, "resultsDirectory", "/tmp/windowjoinResults", "The directory with the result files.")
	flag.BoolVar(&justExplore, "justExplore", false, "If true, launch only the explorer endpoint")
	flag.BoolVar(&noExplore, "noExplore", false, "If true, do not launch the explorer endpoint")
	flag.StringVar(&prometheusURL, "prometheusURL", "", "A URL for the prometheus service")
	flag.IntVar(&windowMaxAgeSeconds, "windowMaxAgeSeconds", 7200, "The maximum time to keep result files around for.")
	flag.DurationVar(&scanInterval, "scanInterval", time.Minute, "How often the explorer looks for new result files.")

	flag.Parse()

	cfg := &config{
		prometheusAddress: prometheusAddr,
		metricsAddress:    metricsAddr,
		explorerAddress:   explorerAddr,
	}

	corrjoinConfig := settings.CorrjoinSettings{
		SvdDimensions:        ks,
		SvdOutputDimensions:  svdDimensions,
		EuclidDimensions:     ke,
		CorrelationThreshold: float64(correlationThreshold) / 100.0,
		WindowSize:           windowSize,
		StrideLength:         stride,
		Algorithm:            algorithm,
		CorrelationMode:      correlationMode,
		SkipConstantRows:     skipConstantTs,
		Workers:              workers,
		MaxRowsPerRowGroup:   int64(parquetMaxRowsPerRowGroup),
		MaxSamplesPerSeries:  maxSamplesPerSeries,
		ResultsDirectory:     resultsDirectory,
	}
	if configFile != "" {
		fileConfig, err := settings.LoadSettings(configFile)
		if err != nil {
			log.Fatal(err)
		}
		corrjoinConfig, err = fileConfig.Override(corrjoinConfig, explicitSettings())
		if err != nil {
			log.Fatal(err)
		}
		if corrjoinConfig.ResultsDirectory == "" {
			corrjoinConfig.ResultsDirectory = resultsDirectory
		}
		resultsDirectory = corrjoinConfig.ResultsDirectory
	}
	corrjoinConfig = corrjoinConfig.ComputeSettingsFields()
	if resultsDirectory != "" {
		if err := os.MkdirAll(resultsDirectory, 0750); err != nil {
			log.Fatal(err)
		}
	}

	var expl *explorer.CorrelationExplorer
	var explorerRouter *mux.Router

	if !noExplore {
		expl = explorer.NewCorrelationExplorer(resultsDirectory, log.Default())
		err := expl.Initialize(prometheusURL, windowMaxAgeSeconds, scanInterval)
		if err != nil {
			log.Printf("failed to initialize explorer: %v\n", err)
		}
		defer expl.Stop()

		explorerRouter = mux.NewRouter().StrictSlash(true)
		expl.RegisterRoutes(explorerRouter)
	}

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(cfg.metricsAddress, nil)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var prometheusServer *http.Server

	if !justExplore {
		metrics, err := reporter.NewMetricsReporter(prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatal(err)
		}
		processor, err := receiver.NewTsProcessor(corrjoinConfig, time.Duration(sampleInterval)*time.Second,
			metrics, log.Default())
		if err != nil {
			log.Fatal(err)
		}
		prometheusRouter := mux.NewRouter().StrictSlash(true)
		prometheusRouter.HandleFunc("/api/v1/write", processor.ReceivePrometheusData).Methods("POST")
		prometheusRouter.HandleFunc("/api/v1/correlate", processor.Correlate).Methods("POST")
		prometheusRouter.HandleFunc("/api/v1/join", processor.Join).Methods("POST")
		prometheusServer = &http.Server{
			Addr:    cfg.prometheusAddress,
			Handler: prometheusRouter,
		}
		go func() {
			log.Printf("correlation service listening on port %s\n", cfg.prometheusAddress)
			if err := prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err)
			}
		}()
	}

	var explorerServer *http.Server

	if !noExplore {
		explorerServer = &http.Server{
			Addr:    cfg.explorerAddress,
			Handler: explorerRouter,
		}

		go func() {
			log.Printf("explorer service listening on port %s\n", cfg.explorerAddress)
			if err := explorerServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err)
			}
		}()
	}

	<-stop
	log.Println("correlation service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Lets a running correlation batch finish writing its result files.
	if prometheusServer != nil {
		if err := prometheusServer.Shutdown(ctx); err != nil {
			log.Printf("failed to shut down the correlation service: %v\n", err)
		}
	}
	if explorerServer != nil {
		if err := explorerServer.Shutdown(ctx); err != nil {
			log.Printf("failed to shut down the explorer: %v\n", err)
		}
	}
}

// The settings keys of the flags that correspond to a setting.
var flagSettings = map[string]string{
	"windowSize":                "windowSize",
	"stride":                    "stride",
	"correlationThreshold":      "correlationThreshold",
	"ks":                        "ks",
	"ke":                        "ke",
	"svdDimensions":             "svdOutputDimensions",
	"algorithm":                 "algorithm",
	"correlationMode":           "correlationMode",
	"skipConstantTs":            "skipConstantRows",
	"workers":                   "workers",
	"parquetMaxRowsPerRowGroup": "maxRowsPerRowGroup",
	"maxSamplesPerSeries":       "maxSamplesPerSeries",
	"resultsDirectory":          "resultsDirectory",
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
