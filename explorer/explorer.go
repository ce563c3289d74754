package explorer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/common/model"
)

// Types for the REST API
type timeseriesIdResponse struct {
	Rowid int `json:"rowid"`
}

type windowListResponse struct {
	Windows []Window `json:"windows"`
}

type subgraphResponse struct {
	Id   int `json:"id"`
	Size int `json:"size"`
}

type subgraphListResponse struct {
	Batch     int64              `json:"batch"`
	Window    int                `json:"window"`
	Subgraphs []subgraphResponse `json:"subgraphs"`
}

type TimeseriesResponse struct {
	Rowid              int               `json:"rowid"`
	Labels             map[string]string `json:"labels"`
	Pearson            float32           `json:"pearson"`
	PrometheusGraphURL string            `json:"prometheusGraphURL,omitempty"`
}

type correlatedTimeseriesResponse struct {
	Batch      int64                `json:"batch"`
	Window     int                  `json:"window"`
	Rowid      int                  `json:"rowid"`
	Correlates []TimeseriesResponse `json:"correlates"`
}

type subgraphNodeResponse struct {
	Id       int    `json:"id"`
	Title    string `json:"title"`
	SubTitle string `json:"subtitle,omitempty"`
}

type subgraphEdgeResponse struct {
	Id       int    `json:"id"`
	Source   int    `json:"source"`
	Target   int    `json:"target"`
	Mainstat string `json:"mainstat,omitempty"`
}

type subgraphNodesResponse struct {
	Nodes []subgraphNodeResponse `json:"nodes"`
}

type subgraphEdgesResponse struct {
	Edges []subgraphEdgeResponse `json:"edges"`
}

// RegisterRoutes adds the explorer endpoints to router.
func (c *CorrelationExplorer) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/getWindows", c.GetWindows).Methods("GET")
	router.HandleFunc("/getSubgraphs", c.GetSubgraphs).Methods("GET")
	router.HandleFunc("/getSubgraphNodes", c.GetSubgraphNodes).Methods("GET")
	router.HandleFunc("/getSubgraphEdges", c.GetSubgraphEdges).Methods("GET")
	router.HandleFunc("/getTimeseriesId", c.GetTimeseriesId).Methods("GET")
	router.HandleFunc("/getCorrelatedSeries", c.GetCorrelatedSeries).Methods("GET")
}

func writeJSON(w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (c *CorrelationExplorer) GetWindows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, windowListResponse{Windows: c.windows()})
}

func (c *CorrelationExplorer) GetSubgraphs(w http.ResponseWriter, r *http.Request) {
	window, status, err := c.getWindowParam(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	resp := subgraphListResponse{
		Batch:     window.Batch,
		Window:    window.ID,
		Subgraphs: make([]subgraphResponse, 0, len(window.subgraphs.Sizes)),
	}
	for graphId, graphSize := range window.subgraphs.Sizes {
		resp.Subgraphs = append(resp.Subgraphs,
			subgraphResponse{Id: graphId, Size: graphSize})
	}
	sort.Slice(resp.Subgraphs, func(i, j int) bool { return resp.Subgraphs[i].Id < resp.Subgraphs[j].Id })
	writeJSON(w, resp)
}

// Get the nodes list for one subgraph.
func (c *CorrelationExplorer) GetSubgraphNodes(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	window, status, err := c.getWindowParam(params)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	subgraphId, err := getIntParam(params, "subgraph")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size, ok := window.subgraphs.Sizes[subgraphId]
	if !ok {
		http.Error(w, fmt.Sprintf("no subgraph %d in window %d", subgraphId, window.ID), http.StatusNotFound)
		return
	}

	resp := subgraphNodesResponse{
		Nodes: make([]subgraphNodeResponse, 0, size),
	}
	for row, graphId := range window.subgraphs.Rows {
		if graphId != subgraphId {
			continue
		}
		node := subgraphNodeResponse{
			Id:    row,
			Title: fmt.Sprintf("%d", row),
		}
		if m, exists := window.metricsCacheByRowId[row]; exists && len(m.LabelSet) > 0 {
			node.Title = string(m.LabelSet[model.MetricNameLabel])
			node.SubTitle = m.Expression()
		}
		resp.Nodes = append(resp.Nodes, node)
	}
	sort.Slice(resp.Nodes, func(i, j int) bool { return resp.Nodes[i].Id < resp.Nodes[j].Id })
	writeJSON(w, resp)
}

// Get the edges list for one subgraph.
func (c *CorrelationExplorer) GetSubgraphEdges(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	window, status, err := c.getWindowParam(params)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	subgraphId, err := getIntParam(params, "subgraph")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := window.subgraphs.Sizes[subgraphId]; !ok {
		http.Error(w, fmt.Sprintf("no subgraph %d in window %d", subgraphId, window.ID), http.StatusNotFound)
		return
	}
	edges, err := c.retrieveEdges(window, subgraphId)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := subgraphEdgesResponse{
		Edges: make([]subgraphEdgeResponse, len(edges)),
	}
	for i, e := range edges {
		resp.Edges[i] = subgraphEdgeResponse{
			Id:       i,
			Source:   e.Source,
			Target:   e.Target,
			Mainstat: fmt.Sprintf("%.3f", e.Pearson),
		}
	}
	writeJSON(w, resp)
}

func getIntParam(params url.Values, name string) (int, error) {
	value, ok := params[name]
	if !ok {
		return -1, fmt.Errorf("missing %s parameter", name)
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value[0]), 10, 32)
	if err != nil {
		return -1, fmt.Errorf("failed to parse an integer out of %+v", value[0])
	}
	return int(parsed), nil
}

// getWindowParam returns the window named by the batch and window
// parameters. Without a batch parameter the latest batch is used, and
// without a window parameter the latest window of that batch.
func (c *CorrelationExplorer) getWindowParam(params url.Values) (*Window, int, error) {
	latestBatch, ok := c.getLatestBatch()
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("no windows available")
	}
	batch := latestBatch
	if value, ok := params["batch"]; ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(value[0]), 10, 64)
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("failed to parse a batch id out of %+v", value[0])
		}
		batch = parsed
	}
	if _, ok := params["window"]; !ok {
		window := c.getLatestWindowOfBatch(batch)
		if window == nil {
			return nil, http.StatusNotFound, fmt.Errorf("no windows available for batch %d", batch)
		}
		return window, http.StatusOK, nil
	}
	id, err := getIntParam(params, "window")
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	window := c.getWindow(batch, id)
	if window == nil {
		return nil, http.StatusNotFound, fmt.Errorf("no results for window %d of batch %d", id, batch)
	}
	return window, http.StatusOK, nil
}

// Assume urlValue is of the form
// {__name__="kube_pod_container_info", container="grafana"}
// Note the keys are not quoted, that's why you cannot just unmarshal this with json.
// we assume there are no nested objects and parse this as just a key-value map.
func parseUrlDataIntoMetric(urlValue string) (*model.Metric, error) {
	if len(urlValue) < 2 || urlValue[0] != '{' {
		return nil, fmt.Errorf("expected value to start with '{'")
	}
	if urlValue[len(urlValue)-1] != '}' {
		return nil, fmt.Errorf("expected value to end with '}'")
	}

	encodedLabelSet := urlValue[1 : len(urlValue)-1]

	ret := make(model.Metric)

	parts := strings.Split(encodedLabelSet, ", ")
	for _, part := range parts {
		keyvalue := strings.SplitN(part, "=", 2)
		if len(keyvalue) != 2 {
			return nil, fmt.Errorf("bad key-value pair: %s", part)
		}
		ret[model.LabelName(strings.TrimSpace(keyvalue[0]))] = model.LabelValue(strings.Trim(keyvalue[1], `'"`))
	}

	return &ret, nil
}

// getMetric finds the row id of a timeseries, either from the rowid
// parameter or by the fingerprint of the ts parameter. It returns -1 if
// the window has no such timeseries.
func (c *CorrelationExplorer) getMetric(params url.Values, window *Window) (int, error) {
	if _, ok := params["rowid"]; ok {
		rowid, err := getIntParam(params, "rowid")
		if err != nil {
			return -1, err
		}
		if _, exists := window.metricsCacheByRowId[rowid]; !exists {
			return -1, nil
		}
		return rowid, nil
	}
	labelset, ok := params["ts"]
	if !ok {
		return -1, fmt.Errorf("missing ts parameter")
	}
	metric, err := parseUrlDataIntoMetric(labelset[0])
	if err != nil {
		c.logger.Printf("failed to parse ts parameter %s: %v\n", labelset[0], err)
		return -1, err
	}
	rowid, exists := window.metricsCache[uint64(metric.Fingerprint())]
	if !exists {
		return -1, nil
	}
	return rowid, nil
}

func (c *CorrelationExplorer) GetTimeseriesId(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	window, status, err := c.getWindowParam(params)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	metricRowId, err := c.getMetric(params, window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if metricRowId == -1 {
		http.Error(w, "no such timeseries", http.StatusNotFound)
		return
	}
	writeJSON(w, timeseriesIdResponse{Rowid: metricRowId})
}

func (c *CorrelationExplorer) GetCorrelatedSeries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	window, status, err := c.getWindowParam(params)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	metricRowId, err := c.getMetric(params, window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if metricRowId == -1 {
		http.Error(w, "no such timeseries", http.StatusNotFound)
		return
	}

	correlated, err := c.retrieveCorrelatedTimeseries(window, metricRowId)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := correlatedTimeseriesResponse{
		Batch:      window.Batch,
		Window:     window.ID,
		Rowid:      metricRowId,
		Correlates: make([]TimeseriesResponse, 0, len(correlated)),
	}
	for rowid, pearson := range correlated {
		ts := TimeseriesResponse{
			Rowid:   rowid,
			Pearson: pearson,
			Labels:  make(map[string]string),
		}
		if m, exists := window.metricsCacheByRowId[rowid]; exists {
			for k, v := range m.LabelSet {
				ts.Labels[string(k)] = string(v)
			}
			if c.prometheusBaseURL != "" && len(m.LabelSet) > 0 {
				// The cached metric is shared between requests.
				metric := *m
				metric.ComputePrometheusGraphURL(c.prometheusBaseURL, "", "")
				ts.PrometheusGraphURL = metric.PrometheusGraphURL
			}
		}
		resp.Correlates = append(resp.Correlates, ts)
	}
	sort.Slice(resp.Correlates, func(i, j int) bool { return resp.Correlates[i].Rowid < resp.Correlates[j].Rowid })
	writeJSON(w, resp)
}
