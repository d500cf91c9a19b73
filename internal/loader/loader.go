package loader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/decode"
	"github.com/vinadenenko/earth-map/internal/fetch"
	"github.com/vinadenenko/earth-map/internal/metrics"
	"github.com/vinadenenko/earth-map/internal/store"
	"github.com/vinadenenko/earth-map/internal/tile"
)

type job struct {
	key  tile.Key
	prio int
}

// Loader runs fetch+decode off the frame thread on a bounded worker
// pool. The submission queue is bounded too: when full, the submission
// with the lowest priority loses, so urgent (visible, fine) tiles are
// never starved by speculative ones. Dropped submissions are simply
// retried by the scheduler on a later frame.
type Loader struct {
	source  fetch.Source
	decoder decode.Decoder
	st      *store.Store
	log     *zap.Logger

	maxQueue int
	workers  int

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	queued map[tile.Key]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options tunes the pool. Zero values fall back to defaults.
type Options struct {
	Workers   int
	QueueSize int
}

func New(source fetch.Source, decoder decode.Decoder, st *store.Store, opts Options, log *zap.Logger) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		source:   source,
		decoder:  decoder,
		st:       st,
		log:      log,
		maxQueue: opts.QueueSize,
		workers:  opts.Workers,
		queued:   make(map[tile.Key]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the worker goroutines.
func (l *Loader) Start() {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	l.log.Info("Loader started",
		zap.Int("workers", l.workers),
		zap.Int("queue_size", l.maxQueue))
}

// Submit queues a load for a key whose record is in Requested state.
// Returns false if the key is already queued or was dropped under
// backpressure. Higher prio values win queue slots.
func (l *Loader) Submit(key tile.Key, prio int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	if _, ok := l.queued[key]; ok {
		return false
	}

	if len(l.jobs) >= l.maxQueue {
		victim := l.lowestLocked()
		if l.jobs[victim].prio >= prio {
			metrics.LoadsDropped.Inc()
			return false
		}
		delete(l.queued, l.jobs[victim].key)
		l.jobs[victim] = l.jobs[len(l.jobs)-1]
		l.jobs = l.jobs[:len(l.jobs)-1]
		metrics.LoadsDropped.Inc()
	}

	l.jobs = append(l.jobs, job{key: key, prio: prio})
	l.queued[key] = struct{}{}
	l.cond.Signal()
	return true
}

// QueueLen reports the number of queued, not yet started jobs.
func (l *Loader) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// Close drops queued work and waits for in-flight loads to finish.
// The context is cancelled only after the workers return, so a fetch
// that already started runs to completion and its result still lands
// in the store's pending queue.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.jobs = nil
	l.queued = make(map[tile.Key]struct{})
	l.mu.Unlock()

	l.cond.Broadcast()
	l.wg.Wait()
	l.cancel()
	l.log.Info("Loader stopped")
}

func (l *Loader) lowestLocked() int {
	lowest := 0
	for i, j := range l.jobs {
		if j.prio < l.jobs[lowest].prio {
			lowest = i
		}
	}
	return lowest
}

func (l *Loader) highestLocked() int {
	highest := 0
	for i, j := range l.jobs {
		if j.prio > l.jobs[highest].prio {
			highest = i
		}
	}
	return highest
}

func (l *Loader) worker() {
	defer l.wg.Done()

	for {
		l.mu.Lock()
		for len(l.jobs) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		idx := l.highestLocked()
		j := l.jobs[idx]
		l.jobs[idx] = l.jobs[len(l.jobs)-1]
		l.jobs = l.jobs[:len(l.jobs)-1]
		delete(l.queued, j.key)
		l.mu.Unlock()

		// The record must still be Requested; anything else means the
		// key was completed or invalidated while queued.
		if !l.st.MarkLoading(j.key) {
			continue
		}
		l.load(j.key)
	}
}

func (l *Loader) load(key tile.Key) {
	id := uuid.NewString()
	start := time.Now()
	metrics.LoadsInFlight.Inc()
	defer metrics.LoadsInFlight.Dec()

	data, err := l.source.Fetch(l.ctx, key)
	if err != nil {
		metrics.LoadDuration.WithLabelValues("fetch_error").Observe(time.Since(start).Seconds())
		l.log.Debug("tile fetch failed",
			zap.String("job", id),
			zap.Stringer("tile", key),
			zap.Error(err))
		l.st.Complete(key, nil, err)
		return
	}

	payload, err := l.decoder.Decode(data)
	if err != nil {
		metrics.LoadDuration.WithLabelValues("decode_error").Observe(time.Since(start).Seconds())
		l.log.Debug("tile decode failed",
			zap.String("job", id),
			zap.Stringer("tile", key),
			zap.Error(err))
		l.st.Complete(key, nil, err)
		return
	}

	metrics.LoadDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	l.log.Debug("tile loaded",
		zap.String("job", id),
		zap.Stringer("tile", key),
		zap.Int("bytes", payload.ByteSize()),
		zap.Duration("took", time.Since(start)))
	l.st.Complete(key, payload, nil)
}
