package lib

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

type Observation struct {
	MetricFingerprint uint64
	MetricName        string
	Value             float64
	Timestamp         time.Time
}

// A TimeseriesAccumulator collects observations into a TimeseriesMatrix.
// It maps the timeseries fingerprints to matrix row ids and every
// timestamp to a column (slot) relative to the start time.
// Every timeseries needs a sample in every slot before the matrix
// can be built; gaps are not interpolated.
type TimeseriesAccumulator struct {
	// rowmap maps the timeseries fingerprints to row ids
	rowmap map[uint64]int

	// The ids of the timeseries, in order.
	// invariant: rowmap[Tsids[i].MetricFingerprint] == i
	Tsids []datatypes.TsId

	// buffers holds one slice of samples per row id. Slots that have
	// not been filled are NaN.
	buffers [][]float64

	startTs    time.Time
	sampleTime time.Duration
	slotCount  int
	// Samples that would land in slot maxSlots or later are ignored.
	maxSlots int

	ignoredCount int
	logger       *log.Logger
}

// NewTimeseriesAccumulator creates an accumulator that keeps at most
// maxSlots samples per timeseries.
func NewTimeseriesAccumulator(startTime time.Time, sampleInterval time.Duration, maxSlots int,
	logger *log.Logger) (*TimeseriesAccumulator, error) {
	if sampleInterval <= 0 {
		return nil, datatypes.ConfigurationError{
			Parameter: "sampleInterval",
			Reason:    fmt.Sprintf("must be positive but is %v", sampleInterval),
		}
	}
	if maxSlots <= 0 {
		return nil, datatypes.ConfigurationError{
			Parameter: "maxSamplesPerSeries",
			Reason:    fmt.Sprintf("must be positive but is %d", maxSlots),
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TimeseriesAccumulator{
		rowmap:     make(map[uint64]int),
		Tsids:      make([]datatypes.TsId, 0),
		buffers:    make([][]float64, 0),
		startTs:    startTime,
		sampleTime: sampleInterval,
		maxSlots:   maxSlots,
		logger:     logger,
	}, nil
}

func (a *TimeseriesAccumulator) computeSlotIndex(timestamp time.Time) (int, error) {
	if timestamp.Before(a.startTs) {
		return -1, fmt.Errorf("timestamp %v is before the start time %v", timestamp, a.startTs)
	}
	diff := timestamp.Sub(a.startTs)
	return int(diff / a.sampleTime), nil
}

func (a *TimeseriesAccumulator) growRow(rowid int, slots int) {
	for len(a.buffers[rowid]) < slots {
		a.buffers[rowid] = append(a.buffers[rowid], math.NaN())
	}
}

// AddObservation records one sample. Samples before the start time,
// samples too far after it and samples that are not finite numbers are
// ignored. A second sample for a slot that already has a value is ignored
// as well.
func (a *TimeseriesAccumulator) AddObservation(observation *Observation) {
	if math.IsNaN(observation.Value) || math.IsInf(observation.Value, 0) {
		a.ignoredCount++
		return
	}
	slot, err := a.computeSlotIndex(observation.Timestamp)
	if err != nil {
		// This is a backfill, it is safe to ignore.
		a.ignoredCount++
		return
	}
	if slot >= a.maxSlots {
		if a.ignoredCount == 0 || a.ignoredCount%1000 == 0 {
			a.logger.Printf("ignoring sample at %v, the batch holds at most %d samples per timeseries\n",
				observation.Timestamp.UTC(), a.maxSlots)
		}
		a.ignoredCount++
		return
	}

	rowid, ok := a.rowmap[observation.MetricFingerprint]
	if !ok {
		rowid = len(a.Tsids)
		a.rowmap[observation.MetricFingerprint] = rowid
		a.buffers = append(a.buffers, make([]float64, 0, a.slotCount))
		a.Tsids = append(a.Tsids,
			datatypes.TsId{MetricName: observation.MetricName, MetricFingerprint: observation.MetricFingerprint})
	}

	if slot >= a.slotCount {
		a.slotCount = slot + 1
	}
	a.growRow(rowid, slot+1)
	if !math.IsNaN(a.buffers[rowid][slot]) {
		// Sometimes there is a double message for the same slot, just ignore it.
		a.ignoredCount++
		return
	}
	a.buffers[rowid][slot] = observation.Value
}

// StartTime is the time of slot 0.
func (a *TimeseriesAccumulator) StartTime() time.Time {
	return a.startTs
}

// IgnoredCount is the number of observations that were not recorded.
func (a *TimeseriesAccumulator) IgnoredCount() int {
	return a.ignoredCount
}

// Matrix builds the matrix of everything observed so far. It fails with
// a DataShapeError when any timeseries is missing a sample.
func (a *TimeseriesAccumulator) Matrix() (*TimeseriesMatrix, error) {
	if len(a.buffers) == 0 {
		return nil, datatypes.DataShapeError{Row: -1, Reason: "no observations"}
	}
	rows := make([][]float64, len(a.buffers))
	for i := range a.buffers {
		a.growRow(i, a.slotCount)
		for j, v := range a.buffers[i] {
			if math.IsNaN(v) {
				return nil, datatypes.DataShapeError{
					Row: i,
					Reason: fmt.Sprintf("timeseries %s has no sample for %v",
						a.Tsids[i].MetricName, a.startTs.Add(time.Duration(j)*a.sampleTime).UTC()),
				}
			}
		}
		rows[i] = a.buffers[i]
	}
	m, err := NewTimeseriesMatrix(rows)
	if err != nil {
		return nil, err
	}
	m.Tsids = append([]datatypes.TsId(nil), a.Tsids...)
	a.logger.Printf("accumulated %d timeseries with %d samples each starting at %v, ignored %d observations\n",
		len(rows), a.slotCount, a.startTs.UTC().Format("20060102150405"), a.ignoredCount)
	return m, nil
}
