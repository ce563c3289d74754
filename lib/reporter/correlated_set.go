package reporter

import (
	"log"
	"slices"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// A CorrelatedSet is a connected group of timeseries: every member is
// correlated with at least one other member.
type CorrelatedSet struct {
	pairs   map[datatypes.RowPair]float64
	members []int // maintained in sort order
}

func (s *CorrelatedSet) contains(member int) bool {
	_, found := slices.BinarySearch(s.members, member)
	return found
}

func (s *CorrelatedSet) insert(member int) bool {
	i, found := slices.BinarySearch(s.members, member)
	if found {
		return false
	}
	s.members = slices.Insert(s.members, i, member)
	return true
}

// Members returns the row ids of the set in ascending order.
func (s *CorrelatedSet) Members() []int {
	return slices.Clone(s.members)
}

// Pairs returns the correlated pairs within the set.
func (s *CorrelatedSet) Pairs() map[datatypes.RowPair]float64 {
	return s.pairs
}

// SetReporter groups the correlated pairs of a window into sets and
// logs them when the window is flushed.
type SetReporter struct {
	correlations map[int][]*CorrelatedSet
	tsids        map[int][]datatypes.TsId
	logger       *log.Logger
}

func NewSetReporter(logger *log.Logger) *SetReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &SetReporter{
		correlations: make(map[int][]*CorrelatedSet),
		tsids:        make(map[int][]datatypes.TsId),
		logger:       logger,
	}
}

func (r *SetReporter) InitializeWindow(window int, _ int, _ int, tsids []datatypes.TsId) error {
	r.tsids[window] = tsids
	r.correlations[window] = make([]*CorrelatedSet, 0)
	return nil
}

func (r *SetReporter) AddConstantRows(_ int, _ []bool) error {
	return nil
}

func (r *SetReporter) SkipWindow(_ int, _ error) {}

func (r *SetReporter) name(window int, row int) string {
	tsids := r.tsids[window]
	if row < len(tsids) && tsids[row].MetricName != "" {
		return tsids[row].MetricName
	}
	return ""
}

// Sets returns the non-empty correlated sets of a window that has not
// been flushed yet.
func (r *SetReporter) Sets(window int) []*CorrelatedSet {
	ret := make([]*CorrelatedSet, 0)
	for _, c := range r.correlations[window] {
		if len(c.members) > 0 {
			ret = append(ret, c)
		}
	}
	return ret
}

func (r *SetReporter) Flush(window int) error {
	sets := r.Sets(window)
	r.logger.Printf("timeseries correlation report for window %d: %d correlated sets\n", window, len(sets))
	for _, c := range sets {
		r.logger.Printf("correlated set with %d members\n", len(c.members))
		if len(c.members) < 100 {
			for i, m := range c.members {
				r.logger.Printf("%d: %d %s\n", i, m, r.name(window, m))
			}
		}
	}
	delete(r.correlations, window)
	delete(r.tsids, window)
	return nil
}

func (r *SetReporter) AddCorrelatedPairs(results datatypes.CorrjoinResult) error {
	for _, pair := range results.Records() {
		r.addCorrelatedPair(results.StrideCounter, datatypes.RowPair{R1: pair.R1, R2: pair.R2}, pair.Pearson)
	}
	return nil
}

func (r *SetReporter) addCorrelatedPair(window int, pair datatypes.RowPair, corr float64) {
	correlations := r.correlations[window]
	ids := pair.RowIds()
	homeForT1 := -1
	homeForT2 := -1
	// Cases:
	// 1. neither of them is in a set yet --> create one for them
	// 2. t1 and t2 are already in the same set --> add their pair to that set
	// 3. t1 is in a set, t2 isn't or vice versa --> add their pair and the new member to the set
	// 4. they are in different sets --> merge those two sets
	for idx, set := range correlations {
		if homeForT1 < 0 && set.contains(ids[0]) {
			homeForT1 = idx
		}
		if homeForT2 < 0 && set.contains(ids[1]) {
			homeForT2 = idx
		}
		if homeForT1 >= 0 && homeForT2 >= 0 {
			break
		}
	}
	switch {
	// Case 1: new set needs to be created
	case homeForT1 < 0 && homeForT2 < 0:
		newset := &CorrelatedSet{
			pairs:   map[datatypes.RowPair]float64{pair: corr},
			members: make([]int, 0, 2),
		}
		newset.insert(ids[0])
		newset.insert(ids[1])
		r.correlations[window] = append(correlations, newset)
	// Case 2: already in same set
	case homeForT1 == homeForT2:
		correlations[homeForT1].pairs[pair] = corr
	// Case 3: one of them is in a set
	case homeForT1 < 0:
		correlations[homeForT2].pairs[pair] = corr
		correlations[homeForT2].insert(ids[0])
	case homeForT2 < 0:
		correlations[homeForT1].pairs[pair] = corr
		correlations[homeForT1].insert(ids[1])
	// Case 4: They are in different sets
	default:
		for p, c := range correlations[homeForT2].pairs {
			correlations[homeForT1].pairs[p] = c
		}
		correlations[homeForT1].pairs[pair] = corr
		for _, m := range correlations[homeForT2].members {
			correlations[homeForT1].insert(m)
		}
		correlations[homeForT2].pairs = make(map[datatypes.RowPair]float64)
		correlations[homeForT2].members = make([]int, 0)
	}
}
