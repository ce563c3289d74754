package explorer

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	explorerlib "github.com/kpaschen/windowjoin/lib/explorer"
)

const (
	WINDOW_CACHE_SIZE = 10
)

// CorrelationExplorer serves the results files in FilenameBase. It keeps
// the metadata and correlation subgraphs of the most recent windows in
// memory.
type CorrelationExplorer struct {
	FilenameBase      string
	windowCache       []*Window
	prometheusBaseURL string

	maxAgeSeconds int
	ticker        *time.Ticker
	done          chan struct{}
	logger        *log.Logger

	// Guards windowCache.
	mu sync.RWMutex
}

func NewCorrelationExplorer(filenameBase string, logger *log.Logger) *CorrelationExplorer {
	if logger == nil {
		logger = log.Default()
	}
	return &CorrelationExplorer{
		FilenameBase: filenameBase,
		windowCache:  make([]*Window, WINDOW_CACHE_SIZE),
		logger:       logger,
	}
}

// Initialize scans the results directory once and then every scanInterval.
// Files older than maxAgeSeconds are deleted; 0 keeps them forever.
func (c *CorrelationExplorer) Initialize(baseUrl string, maxAgeSeconds int, scanInterval time.Duration) error {
	c.prometheusBaseURL = baseUrl
	c.maxAgeSeconds = maxAgeSeconds
	if err := c.scanResultFiles(); err != nil {
		return err
	}
	if scanInterval <= 0 {
		return nil
	}
	c.ticker = time.NewTicker(scanInterval)
	c.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-c.ticker.C:
				if err := c.scanResultFiles(); err != nil {
					c.logger.Printf("failed to scan %s: %v\n", c.FilenameBase, err)
				}
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

func (c *CorrelationExplorer) Stop() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.done)
	c.ticker = nil
}

// parseWindowFromFilename understands both correlations_<batch>_<window>_<start>-<end>.pq
// and correlations_<window>_<start>-<end>.pq; the latter is batch 0.
func parseWindowFromFilename(filename string) (*Window, error) {
	var batch int64
	var window, start, end int
	n, err := fmt.Sscanf(filename, "correlations_%d_%d_%d-%d.pq", &batch, &window, &start, &end)
	if n != 4 || err != nil {
		batch = 0
		n, err = fmt.Sscanf(filename, "correlations_%d_%d-%d.pq", &window, &start, &end)
		if n != 3 || err != nil {
			return nil, fmt.Errorf("failed to parse window information out of filename %s", filename)
		}
	}
	return &Window{
		Batch:               batch,
		ID:                  window,
		Start:               start,
		End:                 end,
		Status:              WindowExists,
		Filename:            filename,
		metricsCache:        make(map[uint64]int),
		metricsCacheByRowId: make(map[int]*explorerlib.Metric),
	}, nil
}

func (c *CorrelationExplorer) scanResultFiles() error {
	entries, err := os.ReadDir(c.FilenameBase)
	if err != nil {
		return err
	}
	type resultFile struct {
		window  *Window
		modTime time.Time
	}
	files := make([]resultFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		window, err := parseWindowFromFilename(e.Name())
		if err != nil {
			// This is not a results file.
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		age := int(time.Since(info.ModTime()).Seconds())
		if c.maxAgeSeconds > 0 && age > c.maxAgeSeconds {
			fullPath := filepath.Join(c.FilenameBase, e.Name())
			c.logger.Printf("deleting %s, it is %d seconds old\n", fullPath, age)
			if err = os.Remove(fullPath); err != nil {
				c.logger.Printf("failed to remove %s: %v\n", fullPath, err)
			}
			c.markDeleted(e.Name())
			continue
		}
		window.modTime = info.ModTime()
		files = append(files, resultFile{window: window, modTime: info.ModTime()})
	}
	// Newest first, and only as many as fit into the cache.
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	if len(files) > WINDOW_CACHE_SIZE {
		files = files[:WINDOW_CACHE_SIZE]
	}

	for _, f := range files {
		cached := c.lookupFile(f.window.Filename)
		if cached != nil && !f.modTime.After(cached.modTime) {
			if cached.Status != WindowRetrying {
				continue
			}
		}
		if err := c.readResultFile(f.window); err != nil {
			c.logger.Printf("failed to read result file %s: %v\n", f.window.Filename, err)
			if time.Since(f.modTime) > time.Hour {
				f.window.Status = WindowError
			} else {
				f.window.Status = WindowRetrying
			}
		} else {
			f.window.Status = WindowRead
			c.logger.Printf("added window %d of batch %d with %d timeseries\n",
				f.window.ID, f.window.Batch, len(f.window.metricsCacheByRowId))
		}
		c.addWindowCacheEntry(f.window)
	}
	return nil
}

func (c *CorrelationExplorer) lookupFile(filename string) *Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.windowCache {
		if w != nil && w.Filename == filename && w.Status != WindowDeleted {
			return w
		}
	}
	return nil
}

func (c *CorrelationExplorer) markDeleted(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windowCache {
		if w != nil && w.Filename == filename {
			w.Status = WindowDeleted
		}
	}
}

func (c *CorrelationExplorer) readResultFile(window *Window) error {
	parquetExplorer := explorerlib.NewParquetExplorer(c.FilenameBase, c.logger)
	if err := parquetExplorer.Initialize(window.Filename); err != nil {
		return err
	}
	defer parquetExplorer.Close()
	metrics, err := parquetExplorer.GetMetrics()
	if err != nil {
		return err
	}
	window.metricsCacheByRowId = metrics
	for rowid, m := range metrics {
		if m.Fingerprint == 0 {
			continue
		}
		window.metricsCache[m.Fingerprint] = rowid
	}
	window.subgraphs, err = parquetExplorer.GetSubgraphs()
	return err
}

// addWindowCacheEntry replaces an entry for the same batch and window id, a free or
// deleted slot, or the least recently modified entry, in that order.
func (c *CorrelationExplorer) addWindowCacheEntry(window *Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := -1
	oldest := -1
	for i, w := range c.windowCache {
		if w != nil && w.Batch == window.Batch && w.ID == window.ID {
			c.windowCache[i] = window
			return
		}
		if w == nil || w.Status == WindowDeleted {
			if free == -1 {
				free = i
			}
			continue
		}
		if oldest == -1 || w.modTime.Before(c.windowCache[oldest].modTime) {
			oldest = i
		}
	}
	if free >= 0 {
		c.windowCache[free] = window
		return
	}
	c.windowCache[oldest] = window
}

// getWindow returns a window that has been read, by batch and id.
func (c *CorrelationExplorer) getWindow(batch int64, id int) *Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.windowCache {
		if w != nil && w.Batch == batch && w.ID == id && w.Status == WindowRead {
			return w
		}
	}
	return nil
}

func laterWindow(a *Window, b *Window) bool {
	if a.Batch != b.Batch {
		return a.Batch > b.Batch
	}
	return a.ID > b.ID
}

// getLatestBatch returns the highest batch with a window that has been read.
func (c *CorrelationExplorer) getLatestBatch() (int64, bool) {
	latest := c.getLatestWindow()
	if latest == nil {
		return 0, false
	}
	return latest.Batch, true
}

// getLatestWindow returns the last window of the latest batch that has been read.
func (c *CorrelationExplorer) getLatestWindow() *Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *Window
	for _, w := range c.windowCache {
		if w == nil || w.Status != WindowRead {
			continue
		}
		if latest == nil || laterWindow(w, latest) {
			latest = w
		}
	}
	return latest
}

// getLatestWindowOfBatch returns the read window with the highest id in batch.
func (c *CorrelationExplorer) getLatestWindowOfBatch(batch int64) *Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *Window
	for _, w := range c.windowCache {
		if w == nil || w.Status != WindowRead || w.Batch != batch {
			continue
		}
		if latest == nil || w.ID > latest.ID {
			latest = w
		}
	}
	return latest
}

func (c *CorrelationExplorer) windows() []Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make([]Window, 0, len(c.windowCache))
	for _, w := range c.windowCache {
		if w == nil || w.Status == WindowDeleted {
			continue
		}
		ret = append(ret, *w)
	}
	sort.Slice(ret, func(i, j int) bool { return laterWindow(&ret[j], &ret[i]) })
	return ret
}

// retrieveCorrelatedTimeseries reads the rows correlated with tsRowId from
// the results file of window.
func (c *CorrelationExplorer) retrieveCorrelatedTimeseries(window *Window, tsRowId int) (map[int]float32, error) {
	metric, exists := window.metricsCacheByRowId[tsRowId]
	if !exists {
		return nil, fmt.Errorf("no metric with id %d", tsRowId)
	}
	if metric.Constant {
		c.logger.Printf("metric %d is constant in window %d\n", tsRowId, window.ID)
		return map[int]float32{}, nil
	}
	if window.subgraphs.GetGraphId(tsRowId) == -1 {
		// This timeseries is not correlated with anything.
		return map[int]float32{}, nil
	}
	parquetExplorer := explorerlib.NewParquetExplorer(c.FilenameBase, c.logger)
	if err := parquetExplorer.Initialize(window.Filename); err != nil {
		return nil, err
	}
	defer parquetExplorer.Close()
	return parquetExplorer.CorrelatedWith(tsRowId)
}

// retrieveEdges reads the edges of one subgraph.
func (c *CorrelationExplorer) retrieveEdges(window *Window, graphId int) ([]explorerlib.Edge, error) {
	parquetExplorer := explorerlib.NewParquetExplorer(c.FilenameBase, c.logger)
	if err := parquetExplorer.Initialize(window.Filename); err != nil {
		return nil, err
	}
	defer parquetExplorer.Close()
	edgeChan := make(chan []*explorerlib.Edge, 1)
	errChan := make(chan error, 1)
	go func() {
		errChan <- parquetExplorer.GetEdges(edgeChan)
	}()
	ret := make([]explorerlib.Edge, 0)
	for edges := range edgeChan {
		for _, e := range edges {
			if window.subgraphs.GetGraphId(e.Source) == graphId {
				ret = append(ret, *e)
			}
		}
	}
	return ret, <-errChan
}
