package reporter

import (
	"sort"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// A Collector keeps all results in memory.
type Collector struct {
	pairs        []datatypes.CorrelatedPair
	constantRows map[int][]int
	skipped      map[int]error
	windows      []int
}

func NewCollector() *Collector {
	return &Collector{
		pairs:        make([]datatypes.CorrelatedPair, 0),
		constantRows: make(map[int][]int),
		skipped:      make(map[int]error),
		windows:      make([]int, 0),
	}
}

func (c *Collector) InitializeWindow(window int, _ int, _ int, _ []datatypes.TsId) error {
	c.windows = append(c.windows, window)
	return nil
}

func (c *Collector) AddConstantRows(window int, constantRows []bool) error {
	for i, isConstant := range constantRows {
		if isConstant {
			c.constantRows[window] = append(c.constantRows[window], i)
		}
	}
	return nil
}

func (c *Collector) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	c.pairs = append(c.pairs, result.Records()...)
	return nil
}

func (c *Collector) SkipWindow(window int, reason error) {
	c.skipped[window] = reason
}

func (c *Collector) Flush(_ int) error {
	return nil
}

// Pairs returns the collected pairs sorted by window, then rows.
func (c *Collector) Pairs() []datatypes.CorrelatedPair {
	ret := make([]datatypes.CorrelatedPair, len(c.pairs))
	copy(ret, c.pairs)
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Window != ret[j].Window {
			return ret[i].Window < ret[j].Window
		}
		if ret[i].R1 != ret[j].R1 {
			return ret[i].R1 < ret[j].R1
		}
		return ret[i].R2 < ret[j].R2
	})
	return ret
}

// Skipped maps skipped windows to the reason they were skipped.
func (c *Collector) Skipped() map[int]error {
	return c.skipped
}

// ConstantRows maps windows to the rows that were constant in them.
func (c *Collector) ConstantRows() map[int][]int {
	return c.constantRows
}

// Windows lists the processed windows in the order they were reported.
func (c *Collector) Windows() []int {
	return c.windows
}
