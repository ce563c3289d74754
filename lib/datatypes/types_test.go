package datatypes

import (
	"errors"
	"fmt"
	"testing"
)

func TestMarshalRowPair(t *testing.T) {
	rp := NewRowPair(2, 3)
	b, err := rp.MarshalJSON()
	if err != nil {
		t.Errorf("unexpected: %v", err)
	}

	var reconstructed RowPair
	err = (&reconstructed).UnmarshalJSON(b)
	if err != nil {
		t.Errorf("unexpected: %v", err)
	}
	if reconstructed.R1 != rp.R1 || reconstructed.R2 != rp.R2 {
		t.Errorf("unexpected row pair mismatch %v vs. %v", reconstructed, rp)
	}
}

func TestNewRowPairOrdersIndices(t *testing.T) {
	rp := NewRowPair(7, 2)
	if rp.R1 != 2 || rp.R2 != 7 {
		t.Errorf("expected (2, 7) but got %+v", *rp)
	}
}

func TestMarshallCorrjoinResult(t *testing.T) {
	pairs := map[RowPair]float64{
		{R1: 0, R2: 1}: 0.01,
		{R1: 1, R2: 3}: 0.02,
		{R1: 2, R2: 5}: 0.03,
		{R1: 3, R2: 7}: 0.04,
	}
	cr := &CorrjoinResult{
		CorrelatedPairs: pairs,
		StrideCounter:   1,
	}

	b, err := cr.MarshalJSON()
	if err != nil {
		t.Errorf("unexpected: %v", err)
	}

	var reconstructed CorrjoinResult
	err = (&reconstructed).UnmarshalJSON(b)
	if err != nil {
		t.Errorf("unexpected: %v", err)
	}
	if len(reconstructed.CorrelatedPairs) != len(pairs) {
		t.Errorf("reconstructed result has wrong number of pairs")
	}
	if reconstructed.StrideCounter != cr.StrideCounter {
		t.Errorf("window counter mismatch")
	}
	for rp, v := range pairs {
		rv, exists := reconstructed.CorrelatedPairs[rp]
		if !exists {
			t.Errorf("missing rowpair %v in reconstructed correlated pairs", rp)
		}
		if rv != v {
			t.Errorf("value mismatch in correlated pairs")
		}
	}
}

func TestRecordsAreSorted(t *testing.T) {
	cr := &CorrjoinResult{
		CorrelatedPairs: map[RowPair]float64{
			{R1: 3, R2: 4}: 0.9,
			{R1: 0, R2: 5}: 0.8,
			{R1: 0, R2: 2}: 0.95,
		},
		StrideCounter: 4,
	}
	records := cr.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records but got %d", len(records))
	}
	if records[0].R2 != 2 || records[1].R2 != 5 || records[2].R1 != 3 {
		t.Errorf("records are not sorted: %+v", records)
	}
	for _, r := range records {
		if r.Window != 4 {
			t.Errorf("expected window 4 but got %d", r.Window)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		err         error
		recoverable bool
	}{
		{DegenerateWindowError{Window: 1, ConstantRows: []int{2}}, true},
		{fmt.Errorf("window 3: %w", NonConvergenceError{Window: 3, Err: errors.New("no")}), true},
		{ConfigurationError{Parameter: "ks", Reason: "bad"}, false},
		{DataShapeError{Row: 1, Reason: "short"}, false},
		{errors.New("other"), false},
	}
	for _, c := range cases {
		if IsRecoverable(c.err) != c.recoverable {
			t.Errorf("expected IsRecoverable(%v) to be %t", c.err, c.recoverable)
		}
	}
}

func TestDegenerateWindowErrorMessage(t *testing.T) {
	err := DegenerateWindowError{Window: 2, ConstantRows: []int{5, 7}}
	if err.Error() != "window 2 has 2 constant rows (first: 5)" {
		t.Errorf("unexpected message %q", err.Error())
	}
	empty := DegenerateWindowError{Window: 3}
	if empty.Error() != "window 3 is degenerate" {
		t.Errorf("unexpected message %q", empty.Error())
	}
}
