package reporter

import (
	"testing"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

func addPair(t *testing.T, rep *SetReporter, r1 int, r2 int, corr float64) {
	result := datatypes.CorrjoinResult{
		CorrelatedPairs: map[datatypes.RowPair]float64{*datatypes.NewRowPair(r1, r2): corr},
		StrideCounter:   0,
	}
	if err := rep.AddCorrelatedPairs(result); err != nil {
		t.Errorf("failed to add correlated pair: %v", err)
	}
}

func TestAddCorrelatedPair(t *testing.T) {
	rep := NewSetReporter(quietLogger)
	rep.InitializeWindow(0, 0, 10, nil)

	// Add a new pair
	addPair(t, rep, 1, 2, 0.1)
	if len(rep.correlations[0]) != 1 {
		t.Errorf("expected one correlation set but got %d", len(rep.correlations[0]))
	}

	// Add a second new pair
	addPair(t, rep, 3, 4, 0.2)
	if len(rep.correlations[0]) != 2 {
		t.Errorf("expected two correlation sets but got %d", len(rep.correlations[0]))
	}

	// Add a pair with overlap.
	addPair(t, rep, 3, 5, 0.3)
	if len(rep.correlations[0]) != 2 {
		t.Errorf("expected two correlation sets but got %d", len(rep.correlations[0]))
	}

	// Add a redundant pair
	addPair(t, rep, 4, 5, 0.4)
	if len(rep.correlations[0]) != 2 {
		t.Errorf("expected two correlation sets but got %d", len(rep.correlations[0]))
	}

	// Add a pair that forces a merge
	addPair(t, rep, 2, 5, 0.5)
	if len(rep.correlations[0]) != 2 {
		t.Errorf("expected two correlation sets but got %d", len(rep.correlations[0]))
	}
	if len(rep.correlations[0][0].members) > 0 && len(rep.correlations[0][1].members) > 0 {
		t.Errorf("expected one of the member lists to be empty")
	}
	sets := rep.Sets(0)
	if len(sets) != 1 {
		t.Fatalf("expected one non-empty set after the merge but got %d", len(sets))
	}
	members := sets[0].Members()
	expected := []int{1, 2, 3, 4, 5}
	if len(members) != len(expected) {
		t.Fatalf("expected members %v but got %v", expected, members)
	}
	for i := range expected {
		if members[i] != expected[i] {
			t.Errorf("expected members %v but got %v", expected, members)
			break
		}
	}
	if len(sets[0].Pairs()) != 5 {
		t.Errorf("expected 5 pairs in the merged set but got %d", len(sets[0].Pairs()))
	}

	// Add another pair after merging.
	addPair(t, rep, 6, 7, 0.6)
	if len(rep.correlations[0]) != 3 {
		t.Errorf("expected three correlation sets but got %d", len(rep.correlations[0]))
	}

	if err := rep.Flush(0); err != nil {
		t.Errorf("unexpected error in flush: %v", err)
	}
	if len(rep.Sets(0)) != 0 {
		t.Errorf("expected flush to forget the window")
	}
}

func TestSetsArePerWindow(t *testing.T) {
	rep := NewSetReporter(quietLogger)
	rep.InitializeWindow(0, 0, 10, nil)
	rep.InitializeWindow(1, 5, 15, nil)
	addPair(t, rep, 1, 2, 0.9)
	rep.AddCorrelatedPairs(datatypes.CorrjoinResult{
		CorrelatedPairs: map[datatypes.RowPair]float64{{R1: 3, R2: 4}: 0.95},
		StrideCounter:   1,
	})
	if len(rep.Sets(0)) != 1 || len(rep.Sets(1)) != 1 {
		t.Errorf("expected one set per window")
	}
	if rep.Sets(1)[0].Members()[0] != 3 {
		t.Errorf("expected window 1 to hold rows 3 and 4")
	}
}
