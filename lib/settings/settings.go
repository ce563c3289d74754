// Package settings contains all the parameters for the corrjoin algorithm.
package settings

import (
	"fmt"
	"math"
	"os"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"gopkg.in/yaml.v3"
)

const (
	ALGO_FULL_PEARSON = "full_pearson"
	ALGO_PAA_ONLY     = "paa_only"
	ALGO_PAA_SVD      = "paa_svd"
)

const (
	// r >= T
	CORRELATION_SIGNED = "signed"
	// |r| >= T
	CORRELATION_ABSOLUTE = "absolute"
)

type CorrjoinSettings struct {
	// The number of columns used for the first PAA step.
	// Equals the number of columns in the svd input matrix
	SvdDimensions int `yaml:"ks"` // also Ks
	// The number of columns to use for the second PAA step.
	EuclidDimensions int `yaml:"ke"` // also Ke
	// The correlation Threshold (T)
	CorrelationThreshold float64 `yaml:"correlationThreshold"`

	// The number of columns in a window.
	WindowSize int `yaml:"windowSize"` // also n

	// How far the window moves between iterations.
	StrideLength int `yaml:"stride"` // also h

	// The number of dimensions to choose from the output of SVD (aka kb)
	SvdOutputDimensions int `yaml:"svdOutputDimensions"`

	// Thresholds for the two filtering steps
	// epsilon1 = sqrt(2 ks (1 - correlationThreshold) / n)
	// where n = windowSize
	Epsilon1 float64 `yaml:"-"`
	// epsilon2 = sqrt(2 ke (1 - correlationThreshold) / n)
	Epsilon2 float64 `yaml:"-"` // this is for the euclidean distance filter

	// Cap on number of rows for svd. 10000 is a good number.
	// This is an implementation detail that works around a limitation
	// on the lapack implementation where svd fails on very large
	// matrices.
	MaxRowsForSvd int `yaml:"maxRowsForSvd"`

	// Number of rows per row group in Parquet.
	MaxRowsPerRowGroup int64 `yaml:"maxRowsPerRowGroup"`

	// Where the file reporters write to.
	ResultsDirectory string `yaml:"resultsDirectory"`

	Algorithm string `yaml:"algorithm"`

	// Either CORRELATION_SIGNED or CORRELATION_ABSOLUTE.
	CorrelationMode string `yaml:"correlationMode"`

	// When true, rows that are constant in a window are left out of that
	// window. Otherwise a constant row makes the whole window fail.
	SkipConstantRows bool `yaml:"skipConstantRows"`

	// Number of windows processed concurrently. 0 and 1 mean sequential.
	Workers int `yaml:"workers"`

	// Upper bound on the samples per timeseries in one remote-write batch.
	// Later samples are dropped.
	MaxSamplesPerSeries int `yaml:"maxSamplesPerSeries"`
}

func (s CorrjoinSettings) ComputeSettingsFields() CorrjoinSettings {
	if s.WindowSize > 0 {
		s.Epsilon1 = math.Sqrt(float64(2*s.SvdDimensions) * (1.0 - s.CorrelationThreshold) / float64(s.WindowSize))
		s.Epsilon2 = math.Sqrt(float64(2*s.EuclidDimensions) * (1.0 - s.CorrelationThreshold) / float64(s.WindowSize))
	}
	if s.Algorithm == "" {
		s.Algorithm = ALGO_PAA_SVD
	}
	if s.CorrelationMode == "" {
		s.CorrelationMode = CORRELATION_SIGNED
	}
	if s.MaxRowsForSvd == 0 {
		s.MaxRowsForSvd = 10000
	}
	if s.MaxRowsPerRowGroup == 0 {
		s.MaxRowsPerRowGroup = 100000
	}
	if s.MaxSamplesPerSeries == 0 {
		s.MaxSamplesPerSeries = 100000
	}
	return s
}

func configError(parameter string, format string, args ...interface{}) error {
	return datatypes.ConfigurationError{Parameter: parameter, Reason: fmt.Sprintf(format, args...)}
}

func checkReduction(parameter string, k int, n int) error {
	if k <= 0 {
		return configError(parameter, "must be positive but is %d", k)
	}
	if k >= n {
		return configError(parameter, "%d must be less than the window size %d", k, n)
	}
	if n%k != 0 {
		return configError(parameter, "%d does not divide the window size %d", k, n)
	}
	return nil
}

// Validate checks the settings against a matrix with rowCount sequences
// of columnCount samples each.
func (s CorrjoinSettings) Validate(rowCount int, columnCount int) error {
	if s.WindowSize <= 0 {
		return configError("windowSize", "must be positive but is %d", s.WindowSize)
	}
	if s.StrideLength <= 0 {
		return configError("stride", "must be positive but is %d", s.StrideLength)
	}
	if s.WindowSize > columnCount {
		return configError("windowSize", "%d exceeds the sequence length %d", s.WindowSize, columnCount)
	}
	if math.IsNaN(s.CorrelationThreshold) || s.CorrelationThreshold > 1.0 || s.CorrelationThreshold < -1.0 {
		return configError("correlationThreshold", "%f is outside [-1, 1]", s.CorrelationThreshold)
	}
	switch s.CorrelationMode {
	case CORRELATION_SIGNED, CORRELATION_ABSOLUTE:
	default:
		return configError("correlationMode", "unsupported mode %q", s.CorrelationMode)
	}
	if s.Workers < 0 {
		return configError("workers", "must not be negative")
	}
	switch s.Algorithm {
	case ALGO_FULL_PEARSON:
		return nil
	case ALGO_PAA_ONLY:
		return checkReduction("ke", s.EuclidDimensions, s.WindowSize)
	case ALGO_PAA_SVD:
	default:
		return configError("algorithm", "unsupported algorithm choice %q", s.Algorithm)
	}
	if err := checkReduction("ks", s.SvdDimensions, s.WindowSize); err != nil {
		return err
	}
	if err := checkReduction("ke", s.EuclidDimensions, s.WindowSize); err != nil {
		return err
	}
	if s.SvdOutputDimensions <= 0 {
		return configError("svdOutputDimensions", "must be positive but is %d", s.SvdOutputDimensions)
	}
	if s.SvdOutputDimensions > min(rowCount, s.SvdDimensions) {
		return configError("svdOutputDimensions", "%d exceeds min(rows %d, ks %d)",
			s.SvdOutputDimensions, rowCount, s.SvdDimensions)
	}
	return nil
}

// Override copies the fields named by their yaml keys from overrides
// into s and computes the derived fields. Commands use it to let flags
// that were given explicitly win over a settings file.
func (s CorrjoinSettings) Override(overrides CorrjoinSettings, keys []string) (CorrjoinSettings, error) {
	for _, key := range keys {
		switch key {
		case "ks":
			s.SvdDimensions = overrides.SvdDimensions
		case "ke":
			s.EuclidDimensions = overrides.EuclidDimensions
		case "correlationThreshold":
			s.CorrelationThreshold = overrides.CorrelationThreshold
		case "windowSize":
			s.WindowSize = overrides.WindowSize
		case "stride":
			s.StrideLength = overrides.StrideLength
		case "svdOutputDimensions":
			s.SvdOutputDimensions = overrides.SvdOutputDimensions
		case "maxRowsForSvd":
			s.MaxRowsForSvd = overrides.MaxRowsForSvd
		case "maxRowsPerRowGroup":
			s.MaxRowsPerRowGroup = overrides.MaxRowsPerRowGroup
		case "resultsDirectory":
			s.ResultsDirectory = overrides.ResultsDirectory
		case "algorithm":
			s.Algorithm = overrides.Algorithm
		case "correlationMode":
			s.CorrelationMode = overrides.CorrelationMode
		case "skipConstantRows":
			s.SkipConstantRows = overrides.SkipConstantRows
		case "workers":
			s.Workers = overrides.Workers
		case "maxSamplesPerSeries":
			s.MaxSamplesPerSeries = overrides.MaxSamplesPerSeries
		default:
			return s, fmt.Errorf("unknown setting %q", key)
		}
	}
	return s.ComputeSettingsFields(), nil
}

// LoadSettings reads settings from a yaml file and computes the derived fields.
func LoadSettings(path string) (CorrjoinSettings, error) {
	var s CorrjoinSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err = yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return s.ComputeSettingsFields(), nil
}
