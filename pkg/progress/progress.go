// Package progress tracks live counters for a graph expansion run: atomic counters consulted by
// every worker goroutine, mirrored into Prometheus gauges for scraping, and periodically logged
// as a single-line snapshot.
package progress

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Tracker holds the atomic counters for one expansion run, plus derived throughput.
type Tracker struct {
	expanded  atomic.Int64
	inserted  atomic.Int64
	duplicate atomic.Int64
	edges     atomic.Int64
	frontier  atomic.Int64
	depth     atomic.Int64

	start time.Time

	expandedGauge  prometheus.Counter
	insertedGauge  prometheus.Counter
	duplicateGauge prometheus.Counter
	edgesGauge     prometheus.Counter
	frontierGauge  prometheus.Gauge
	depthGauge     prometheus.Gauge
}

// NewTracker creates a Tracker and registers its Prometheus collectors with registry.
func NewTracker(registry prometheus.Registerer) *Tracker {
	t := &Tracker{
		start: time.Now(),
		expandedGauge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesstree_expanded_total", Help: "Vertices expanded.",
		}),
		insertedGauge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesstree_inserted_total", Help: "Vertices newly inserted into storage.",
		}),
		duplicateGauge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesstree_duplicates_total", Help: "Child positions that already existed.",
		}),
		edgesGauge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesstree_edges_total", Help: "Edges written.",
		}),
		frontierGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chesstree_frontier_size", Help: "Size of the most recently expanded frontier.",
		}),
		depthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chesstree_depth_completed", Help: "Deepest ply completed so far.",
		}),
	}
	if registry != nil {
		registry.MustRegister(t.expandedGauge, t.insertedGauge, t.duplicateGauge, t.edgesGauge, t.frontierGauge, t.depthGauge)
	}
	return t
}

func (t *Tracker) RecordExpanded()  { t.expanded.Add(1); t.expandedGauge.Inc() }
func (t *Tracker) RecordInserted()  { t.inserted.Add(1); t.insertedGauge.Inc() }
func (t *Tracker) RecordDuplicate() { t.duplicate.Add(1); t.duplicateGauge.Inc() }
func (t *Tracker) RecordEdge()      { t.edges.Add(1); t.edgesGauge.Inc() }

// RecordFrontier records the legal-move count of a just-expanded vertex as the current
// frontier size.
func (t *Tracker) RecordFrontier(n int) {
	t.frontier.Store(int64(n))
	t.frontierGauge.Set(float64(n))
}

// RecordDepthCompleted records the deepest ply completed so far, monotonically.
func (t *Tracker) RecordDepthCompleted(d int) {
	for {
		cur := t.depth.Load()
		if int64(d) <= cur || t.depth.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
	t.depthGauge.Set(float64(t.depth.Load()))
}

// Snapshot is a point-in-time read of every counter plus derived throughput and process memory.
type Snapshot struct {
	Expanded        int64
	Inserted        int64
	Duplicates      int64
	Edges           int64
	Frontier        int64
	DepthCompleted  int64
	ThroughputPerS  float64
	ProcessRSSBytes uint64
}

// Snapshot reads every counter and computes throughput since the tracker was created.
func (t *Tracker) Snapshot() Snapshot {
	elapsed := time.Since(t.start).Seconds()
	expanded := t.expanded.Load()

	var throughput float64
	if elapsed > 0 {
		throughput = float64(expanded) / elapsed
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return Snapshot{
		Expanded:        expanded,
		Inserted:        t.inserted.Load(),
		Duplicates:      t.duplicate.Load(),
		Edges:           t.edges.Load(),
		Frontier:        t.frontier.Load(),
		DepthCompleted:  t.depth.Load(),
		ThroughputPerS:  throughput,
		ProcessRSSBytes: ms.Sys,
	}
}

// RunReporter emits a single-line log snapshot every interval until ctx is cancelled.
func (t *Tracker) RunReporter(ctx context.Context, log *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := t.Snapshot()
			log.Info("expansion progress",
				zap.Int64("expanded", s.Expanded),
				zap.Int64("inserted", s.Inserted),
				zap.Int64("duplicates", s.Duplicates),
				zap.Int64("edges", s.Edges),
				zap.Int64("frontier", s.Frontier),
				zap.Int64("depth_completed", s.DepthCompleted),
				zap.Float64("throughput_per_s", s.ThroughputPerS),
				zap.Uint64("rss_bytes", s.ProcessRSSBytes),
			)
		}
	}
}
