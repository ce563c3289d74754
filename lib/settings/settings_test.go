package settings

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

func validSettings() CorrjoinSettings {
	return CorrjoinSettings{
		SvdDimensions:        15,
		EuclidDimensions:     30,
		CorrelationThreshold: 0.85,
		WindowSize:           300,
		StrideLength:         10,
		SvdOutputDimensions:  3,
	}.ComputeSettingsFields()
}

func TestComputeSettingsFields(t *testing.T) {
	s := validSettings()
	expected := math.Sqrt(2 * 15 * 0.15 / 300.0)
	if math.Abs(s.Epsilon1-expected) > 1e-12 {
		t.Errorf("expected epsilon1 %f but got %f", expected, s.Epsilon1)
	}
	expected = math.Sqrt(2 * 30 * 0.15 / 300.0)
	if math.Abs(s.Epsilon2-expected) > 1e-12 {
		t.Errorf("expected epsilon2 %f but got %f", expected, s.Epsilon2)
	}
	if s.Algorithm != ALGO_PAA_SVD {
		t.Errorf("expected default algorithm %s but got %s", ALGO_PAA_SVD, s.Algorithm)
	}
	if s.CorrelationMode != CORRELATION_SIGNED {
		t.Errorf("expected default correlation mode %s but got %s", CORRELATION_SIGNED, s.CorrelationMode)
	}
	if s.MaxRowsForSvd != 10000 {
		t.Errorf("expected default svd row cap 10000 but got %d", s.MaxRowsForSvd)
	}
}

func TestValidate(t *testing.T) {
	if err := validSettings().Validate(3, 1000); err != nil {
		t.Errorf("unexpected error for valid settings: %v", err)
	}

	cases := []struct {
		name      string
		modify    func(s *CorrjoinSettings)
		rows      int
		parameter string
	}{
		{"ks does not divide n", func(s *CorrjoinSettings) { s.SvdDimensions = 7; s.WindowSize = 100 }, 3, "ks"},
		{"ke too large", func(s *CorrjoinSettings) { s.EuclidDimensions = 300 }, 3, "ke"},
		{"kb exceeds rows", func(s *CorrjoinSettings) { s.SvdOutputDimensions = 3 }, 2, "svdOutputDimensions"},
		{"kb exceeds ks", func(s *CorrjoinSettings) { s.SvdOutputDimensions = 16 }, 100, "svdOutputDimensions"},
		{"zero stride", func(s *CorrjoinSettings) { s.StrideLength = 0 }, 3, "stride"},
		{"window too long", func(s *CorrjoinSettings) { s.WindowSize = 1200 }, 3, "windowSize"},
		{"bad mode", func(s *CorrjoinSettings) { s.CorrelationMode = "both" }, 3, "correlationMode"},
		{"bad algorithm", func(s *CorrjoinSettings) { s.Algorithm = "magic" }, 3, "algorithm"},
		{"threshold out of range", func(s *CorrjoinSettings) { s.CorrelationThreshold = 1.5 }, 3, "correlationThreshold"},
	}
	for _, c := range cases {
		s := validSettings()
		c.modify(&s)
		err := s.Validate(c.rows, 1000)
		var configErr datatypes.ConfigurationError
		if !errors.As(err, &configErr) {
			t.Errorf("%s: expected a configuration error but got %v", c.name, err)
			continue
		}
		if configErr.Parameter != c.parameter {
			t.Errorf("%s: expected error about %s but got %v", c.name, c.parameter, err)
		}
	}
}

func TestValidateFullPearsonIgnoresReductions(t *testing.T) {
	s := CorrjoinSettings{
		WindowSize:           100,
		StrideLength:         10,
		CorrelationThreshold: 0.9,
		Algorithm:            ALGO_FULL_PEARSON,
	}.ComputeSettingsFields()
	if err := s.Validate(2, 200); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrjoin.yaml")
	content := []byte(`windowSize: 300
stride: 10
correlationThreshold: 0.85
ks: 15
ke: 30
svdOutputDimensions: 3
correlationMode: absolute
skipConstantRows: true
workers: 4
`)
	if err := os.WriteFile(path, content, 0640); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("unexpected error loading settings: %v", err)
	}
	if s.WindowSize != 300 || s.StrideLength != 10 || s.SvdDimensions != 15 ||
		s.EuclidDimensions != 30 || s.SvdOutputDimensions != 3 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.CorrelationMode != CORRELATION_ABSOLUTE || !s.SkipConstantRows || s.Workers != 4 {
		t.Errorf("unexpected run options %+v", s)
	}
	if s.Epsilon1 == 0.0 || s.Algorithm != ALGO_PAA_SVD {
		t.Errorf("derived fields were not computed: %+v", s)
	}

	if _, err = LoadSettings(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expected an error for a missing settings file")
	}
}

func TestOverride(t *testing.T) {
	fromFile := validSettings()
	fromFile.Workers = 4
	fromFile.ResultsDirectory = "/var/lib/windowjoin"

	fromFlags := CorrjoinSettings{
		CorrelationThreshold: 0.95,
		WindowSize:           1020,
		Workers:              1,
		MaxSamplesPerSeries:  500,
	}
	s, err := fromFile.Override(fromFlags, []string{"correlationThreshold", "maxSamplesPerSeries"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CorrelationThreshold != 0.95 || s.MaxSamplesPerSeries != 500 {
		t.Errorf("expected the explicit values to win but got %+v", s)
	}
	// Everything else comes from the file.
	if s.WindowSize != 300 || s.Workers != 4 || s.ResultsDirectory != "/var/lib/windowjoin" {
		t.Errorf("expected the file values to be kept but got %+v", s)
	}
	expected := math.Sqrt(2 * 15 * 0.05 / 300.0)
	if math.Abs(s.Epsilon1-expected) > 1e-12 {
		t.Errorf("expected epsilon1 to be recomputed as %f but got %f", expected, s.Epsilon1)
	}

	if _, err = fromFile.Override(fromFlags, []string{"threshold"}); err == nil {
		t.Errorf("expected an error for an unknown setting")
	}
}
