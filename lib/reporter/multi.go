package reporter

import (
	"errors"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// MultiReporter passes every call on to all of its reporters.
type MultiReporter struct {
	reporters []Reporter
}

func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

func (m *MultiReporter) InitializeWindow(window int, start int, end int, tsids []datatypes.TsId) error {
	var errs []error
	for _, r := range m.reporters {
		errs = append(errs, r.InitializeWindow(window, start, end, tsids))
	}
	return errors.Join(errs...)
}

func (m *MultiReporter) AddConstantRows(window int, constantRows []bool) error {
	var errs []error
	for _, r := range m.reporters {
		errs = append(errs, r.AddConstantRows(window, constantRows))
	}
	return errors.Join(errs...)
}

func (m *MultiReporter) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	var errs []error
	for _, r := range m.reporters {
		errs = append(errs, r.AddCorrelatedPairs(result))
	}
	return errors.Join(errs...)
}

func (m *MultiReporter) SkipWindow(window int, reason error) {
	for _, r := range m.reporters {
		r.SkipWindow(window, reason)
	}
}

func (m *MultiReporter) Flush(window int) error {
	var errs []error
	for _, r := range m.reporters {
		errs = append(errs, r.Flush(window))
	}
	return errors.Join(errs...)
}
