package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_store_hits_total",
		Help: "Total number of store lookups that found a ready tile",
	})

	StoreMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_store_misses_total",
		Help: "Total number of store lookups that missed",
	})

	StoreEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_store_evictions_total",
		Help: "Total number of tiles evicted from the store",
	})

	StoreStaleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_store_stale_completions_total",
		Help: "Total number of load completions dropped as stale",
	})

	StoreReadyBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "earthmap_store_ready_bytes",
		Help: "Bytes currently held by ready tiles",
	})

	StoreRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "earthmap_store_records",
		Help: "Number of tile records in the store",
	})

	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "earthmap_load_duration_seconds",
		Help:    "Duration of tile fetch+decode in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"result"})

	LoadsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_loads_dropped_total",
		Help: "Total number of load submissions dropped due to backpressure",
	})

	LoadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "earthmap_loads_in_flight",
		Help: "Number of tile loads currently executing",
	})

	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "earthmap_frame_duration_seconds",
		Help:    "Duration of the per-frame scheduling pass in seconds",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
	})

	FrameRenderTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "earthmap_frame_render_tiles",
		Help: "Number of tiles emitted in the last render list",
	})

	ElevationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_elevation_cache_hits_total",
		Help: "Total number of elevation queries served from cached cells",
	})

	ElevationCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earthmap_elevation_cache_misses_total",
		Help: "Total number of elevation queries that loaded a cell",
	})

	ElevationCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "earthmap_elevation_cache_bytes",
		Help: "Bytes currently held by cached elevation cells",
	})
)
