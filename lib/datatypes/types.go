package datatypes

import (
	"encoding/json"
	"sort"
)

// RowPair is a pair of row indices with R1 < R2.
// The fields are public because this struct gets
// json-encoded.
type RowPair struct {
	R1 int
	R2 int
}

// TsId identifies a timeseries. MetricName is usually the json
// serialization of the metric name and its labels.
type TsId struct {
	MetricFingerprint uint64
	MetricName        string
}

// CorrelatedPair is one detected correlation: rows R1 and R2 are
// correlated in window Window with coefficient Pearson.
type CorrelatedPair struct {
	R1      int     `json:"r1"`
	R2      int     `json:"r2"`
	Window  int     `json:"window"`
	Pearson float64 `json:"pearson"`
}

// CorrjoinResult holds the correlated pairs found in one window.
type CorrjoinResult struct {
	CorrelatedPairs map[RowPair]float64
	StrideCounter   int
	ConstantRows    []bool
}

func (r RowPair) RowIds() [2]int {
	return [2]int{r.R1, r.R2}
}

// NewRowPair orders the indices so that equal pairs compare equal.
func NewRowPair(r1 int, r2 int) *RowPair {
	if r1 > r2 {
		r1, r2 = r2, r1
	}
	return &RowPair{R1: r1, R2: r2}
}

// SortRowPairs sorts pairs by first, then second row.
func SortRowPairs(pairs []RowPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].R1 != pairs[j].R1 {
			return pairs[i].R1 < pairs[j].R1
		}
		return pairs[i].R2 < pairs[j].R2
	})
}

// Records returns the pairs of this result as CorrelatedPair records,
// sorted by row indices.
func (c *CorrjoinResult) Records() []CorrelatedPair {
	ret := make([]CorrelatedPair, 0, len(c.CorrelatedPairs))
	for pair, pearson := range c.CorrelatedPairs {
		ret = append(ret, CorrelatedPair{
			R1:      pair.R1,
			R2:      pair.R2,
			Window:  c.StrideCounter,
			Pearson: pearson,
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].R1 != ret[j].R1 {
			return ret[i].R1 < ret[j].R1
		}
		return ret[i].R2 < ret[j].R2
	})
	return ret
}

func (r *RowPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		R1 int `json:"r1"`
		R2 int `json:"r2"`
	}{
		R1: r.R1,
		R2: r.R2,
	})
}

func (r *RowPair) UnmarshalJSON(data []byte) error {
	rp := &struct {
		R1 int `json:"r1"`
		R2 int `json:"r2"`
	}{}
	if err := json.Unmarshal(data, &rp); err != nil {
		return err
	}
	r.R1 = rp.R1
	r.R2 = rp.R2
	return nil
}

func translateMap(pairs map[RowPair]float64) map[string]float64 {
	ret := make(map[string]float64)
	for key, val := range pairs {
		k, _ := (&key).MarshalJSON()
		ret[string(k[:])] = val
	}
	return ret
}

func retranslateMap(pairs map[string]float64) (map[RowPair]float64, error) {
	ret := make(map[RowPair]float64)
	var rp RowPair
	for key, val := range pairs {
		if err := (&rp).UnmarshalJSON([]byte(key)); err != nil {
			return nil, err
		}
		ret[rp] = val
	}
	return ret, nil
}

func (c *CorrjoinResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		CorrelatedPairs map[string]float64 `json:"correlatedPairs"`
		Window          int                `json:"window"`
		ConstantRows    []bool             `json:"constantRows,omitempty"`
	}{
		CorrelatedPairs: translateMap(c.CorrelatedPairs),
		Window:          c.StrideCounter,
		ConstantRows:    c.ConstantRows,
	})
}

func (c *CorrjoinResult) UnmarshalJSON(data []byte) error {
	cr := &struct {
		CorrelatedPairs map[string]float64 `json:"correlatedPairs"`
		Window          int                `json:"window"`
		ConstantRows    []bool             `json:"constantRows,omitempty"`
	}{}
	if err := json.Unmarshal(data, &cr); err != nil {
		return err
	}
	pairs, err := retranslateMap(cr.CorrelatedPairs)
	if err != nil {
		return err
	}
	c.StrideCounter = cr.Window
	c.CorrelatedPairs = pairs
	c.ConstantRows = cr.ConstantRows
	return nil
}
