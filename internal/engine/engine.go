package engine

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/camera"
	"github.com/vinadenenko/earth-map/internal/lod"
	"github.com/vinadenenko/earth-map/internal/metrics"
	"github.com/vinadenenko/earth-map/internal/store"
	"github.com/vinadenenko/earth-map/internal/tile"
)

// RenderTile pairs a key with its uploadable payload. The slice emitted
// by Frame is the engine's sole output; the renderer consumes it as-is.
type RenderTile struct {
	Key     tile.Key
	Payload store.Payload
}

// Submitter hands load work to the async loader. Implemented by
// loader.Loader; a stub in tests.
type Submitter interface {
	Submit(key tile.Key, prio int) bool
}

// Options tunes the per-frame scheduling pass.
type Options struct {
	ThresholdPx float64
	MaxLevel    uint32
	Clock       func() time.Time
}

// Records the camera stopped wanting are aged out periodically rather
// than per frame; the map scan is cheap but pointless at frame rate.
const (
	sweepInterval = 120
	sweepMaxAge   = 30 * time.Second
)

// Engine is the frame scheduler: one Frame call per rendered frame,
// always from the same goroutine. It owns all store state transitions.
type Engine struct {
	st  *store.Store
	ld  Submitter
	sel *lod.Selector
	log *zap.Logger

	// Written by the frame thread, read by the debug server.
	frame      atomic.Uint64
	lastRender atomic.Int64

	now func() time.Time
}

func New(st *store.Store, ld Submitter, opts Options, log *zap.Logger) *Engine {
	if opts.MaxLevel == 0 {
		opts.MaxLevel = 19
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	unavailable := func(k tile.Key) bool {
		return st.Lookup(k).Permanent
	}
	return &Engine{
		st:  st,
		ld:  ld,
		sel: lod.New(opts.ThresholdPx, opts.MaxLevel, unavailable),
		log: log,
		now: opts.Clock,
	}
}

// Frame runs one scheduling pass: drain completions, select the desired
// set, request what's missing, emit the render list with ancestor
// substitution, evict to budget. Never blocks on I/O.
func (e *Engine) Frame(snap camera.Snapshot) []RenderTile {
	start := time.Now()
	now := e.now()
	frame := e.frame.Add(1)

	if drained := e.st.Drain(now); drained > 0 {
		e.log.Debug("applied load completions", zap.Int("count", drained))
	}
	res := e.sel.Select(snap)

	render := make([]RenderTile, 0, len(res.Render))
	emitted := make(map[tile.Key]struct{}, len(res.Render))

	for _, k := range res.Render {
		rec := e.st.Lookup(k)
		if rec.State == store.StateReady {
			e.st.Touch(k, frame)
			if _, dup := emitted[k]; !dup {
				emitted[k] = struct{}{}
				render = append(render, RenderTile{Key: k, Payload: rec.Payload})
			}
			metrics.StoreHits.Inc()
			continue
		}
		metrics.StoreMisses.Inc()

		// EnsureRequested also stamps the record as wanted this frame,
		// which keeps it out of Sweep's reach while it stays in view.
		requested := e.st.EnsureRequested(k, now)
		if !rec.Permanent && (requested || rec.State == store.StateRequested) {
			e.ld.Submit(k, int(k.Level))
		}

		// Graceful degradation: cover the hole with the nearest Ready
		// ancestor while the tile itself loads (or forever, when it is
		// permanently unavailable).
		if anc, ok := e.readyAncestor(k); ok {
			e.st.Touch(anc.Key, frame)
			if _, dup := emitted[anc.Key]; !dup {
				emitted[anc.Key] = struct{}{}
				render = append(render, RenderTile{Key: anc.Key, Payload: anc.Payload})
			}
		}
	}

	e.st.EvictToBudget(res.Protected)
	if frame%sweepInterval == 0 {
		e.st.Sweep(now, sweepMaxAge)
	}

	e.lastRender.Store(int64(len(render)))
	metrics.FrameRenderTiles.Set(float64(len(render)))
	metrics.FrameDuration.Observe(time.Since(start).Seconds())
	return render
}

func (e *Engine) readyAncestor(k tile.Key) (store.Snapshot, bool) {
	for k.Level > 0 {
		k = k.Parent()
		if snap := e.st.Lookup(k); snap.State == store.StateReady {
			return snap, true
		}
	}
	return store.Snapshot{}, false
}

// FrameCount reports how many frames have been scheduled.
func (e *Engine) FrameCount() uint64 { return e.frame.Load() }

// Stats is the observability view served by the debug endpoint.
type Stats struct {
	Frame      uint64      `json:"frame"`
	LastRender int         `json:"last_render_tiles"`
	Store      store.Stats `json:"store"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Frame:      e.frame.Load(),
		LastRender: int(e.lastRender.Load()),
		Store:      e.st.Stats(),
	}
}
