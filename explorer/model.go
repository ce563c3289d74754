package explorer

import (
	"time"

	explorerlib "github.com/kpaschen/windowjoin/lib/explorer"
)

const (
	WindowExists   = "exists"
	WindowRead     = "read"
	WindowRetrying = "retrying"
	WindowError    = "error"
	WindowDeleted  = "deleted"
)

// Window collects metadata about a window whose results file was found.
type Window struct {
	Batch    int64  `json:"batch"`
	ID       int    `json:"id"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Status   string `json:"status"`
	Filename string `json:"filename"`

	metricsCacheByRowId map[int]*explorerlib.Metric
	// Maps fingerprints to row ids.
	metricsCache map[uint64]int
	subgraphs    *explorerlib.SubgraphMemberships
	modTime      time.Time
}
