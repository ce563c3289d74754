package explorer

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/prometheus/common/model"
)

type Metric struct {
	Fingerprint        uint64 // this is a stable id for the metric.
	RowId              int
	LabelSet           model.LabelSet
	PrometheusGraphURL string // computed on demand
	Constant           bool
}

// Expression renders the metric as a PromQL selector, labels in sort order.
func (m *Metric) Expression() string {
	names := make([]string, 0, len(m.LabelSet))
	for name := range m.LabelSet {
		if name == model.MetricNameLabel {
			continue
		}
		names = append(names, string(name))
	}
	sort.Strings(names)
	labels := make([]string, len(names))
	for i, name := range names {
		labels[i] = fmt.Sprintf("%s=%q", name, string(m.LabelSet[model.LabelName(name)]))
	}
	return fmt.Sprintf("%s{%s}", m.LabelSet[model.MetricNameLabel], strings.Join(labels, ", "))
}

// ComputePrometheusGraphURL sets PrometheusGraphURL to a link that graphs
// this metric. rangeInput and endInput are optional.
func (m *Metric) ComputePrometheusGraphURL(baseURL string, rangeInput string, endInput string) {
	if len(m.LabelSet) == 0 {
		m.PrometheusGraphURL = fmt.Sprintf("%s/graph", baseURL)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/graph?g0.expr=%s&g0.tab=0&g0.display_mode=lines&g0.show_exemplars=0",
		baseURL, url.QueryEscape(m.Expression()))
	if rangeInput != "" {
		fmt.Fprintf(&b, "&g0.range_input=%s", url.QueryEscape(rangeInput))
	}
	if endInput != "" {
		fmt.Fprintf(&b, "&g0.end_input=%s&g0.moment_input=%s",
			url.QueryEscape(endInput), url.QueryEscape(endInput))
	}
	m.PrometheusGraphURL = b.String()
}

// SubgraphMemberships assigns every correlated row to a connected
// component of the correlation graph.
type SubgraphMemberships struct {
	// Rows maps timeseries ids to subgraph ids
	Rows map[int]int
	// Sizes holds the size of each subgraph
	Sizes          map[int]int
	nextSubgraphId int
}

func NewSubgraphMemberships() *SubgraphMemberships {
	return &SubgraphMemberships{
		Rows:  make(map[int]int),
		Sizes: make(map[int]int),
	}
}

// GetGraphId returns the subgraph of row, or -1.
func (s *SubgraphMemberships) GetGraphId(row int) int {
	graphId, exists := s.Rows[row]
	if !exists {
		return -1
	}
	return graphId
}

// addEdge puts source and target into the same subgraph, merging
// subgraphs where necessary.
func (s *SubgraphMemberships) addEdge(source int, target int) {
	sourceGraph := s.GetGraphId(source)
	targetGraph := s.GetGraphId(target)
	switch {
	case sourceGraph == -1 && targetGraph == -1:
		s.Rows[source] = s.nextSubgraphId
		s.Rows[target] = s.nextSubgraphId
		s.Sizes[s.nextSubgraphId] = 2
		s.nextSubgraphId++
	case sourceGraph == targetGraph:
	case sourceGraph == -1:
		s.Rows[source] = targetGraph
		s.Sizes[targetGraph]++
	case targetGraph == -1:
		s.Rows[target] = sourceGraph
		s.Sizes[sourceGraph]++
	default:
		// Merge the smaller graph into the larger one.
		if s.Sizes[sourceGraph] < s.Sizes[targetGraph] {
			sourceGraph, targetGraph = targetGraph, sourceGraph
		}
		for row, g := range s.Rows {
			if g == targetGraph {
				s.Rows[row] = sourceGraph
			}
		}
		s.Sizes[sourceGraph] += s.Sizes[targetGraph]
		delete(s.Sizes, targetGraph)
	}
}

type Edge struct {
	Source  int     `json:"source"`
	Target  int     `json:"target"`
	Pearson float32 `json:"pearson"`
}
