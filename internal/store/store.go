package store

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/metrics"
	"github.com/vinadenenko/earth-map/internal/tile"
)

// State is the lifecycle state of a tile record.
type State int

const (
	StateAbsent State = iota
	StateRequested
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "absent"
	}
}

// Payload is a decoded tile buffer ready for upload. Implementations
// live in the decode package; the store only needs the size.
type Payload interface {
	ByteSize() int
}

// Snapshot is a read-only view of a record, safe to hold across frames.
type Snapshot struct {
	Key       tile.Key
	State     State
	Payload   Payload
	Retries   int
	NextRetry time.Time
	Permanent bool
}

type record struct {
	key         tile.Key
	state       State
	payload     Payload
	size        int64
	lastTouched uint64
	lastWanted  time.Time
	retries     int
	nextRetry   time.Time
	permanent   bool
	elem        *list.Element // position in lru while Ready
}

type completion struct {
	key     tile.Key
	payload Payload
	err     error
}

// Store owns every tile record and enforces the byte budget. All state
// transitions happen on the frame thread; workers only call Complete,
// which enqueues into a pending list drained once per frame by Drain.
type Store struct {
	mu          sync.RWMutex
	budget      int64
	readyBytes  int64
	records     map[tile.Key]*record
	lru         *list.List // Ready records, most recently touched at front
	retryCap    int
	backoffBase time.Duration
	log         *zap.Logger

	pendMu  sync.Mutex
	pending []completion
}

// Options tunes failure handling. Zero values fall back to defaults.
type Options struct {
	RetryCap    int
	BackoffBase time.Duration
}

func New(budget int64, opts Options, log *zap.Logger) *Store {
	if opts.RetryCap <= 0 {
		opts.RetryCap = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	return &Store{
		budget:      budget,
		records:     make(map[tile.Key]*record),
		lru:         list.New(),
		retryCap:    opts.RetryCap,
		backoffBase: opts.BackoffBase,
		log:         log,
	}
}

// Lookup returns a snapshot of the record, StateAbsent if none exists.
// Never blocks on I/O.
func (s *Store) Lookup(key tile.Key) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return Snapshot{Key: key}
	}
	return Snapshot{
		Key:       key,
		State:     rec.state,
		Payload:   rec.payload,
		Retries:   rec.retries,
		NextRetry: rec.nextRetry,
		Permanent: rec.permanent,
	}
}

// EnsureRequested creates a Requested record if the key is absent, or
// re-arms a Failed record whose backoff has elapsed. Returns true when
// the caller should submit a load. Idempotent: a second call before the
// load completes returns false.
func (s *Store) EnsureRequested(key tile.Key, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = &record{key: key, state: StateRequested, lastWanted: now}
		metrics.StoreRecords.Set(float64(len(s.records)))
		return true
	}
	rec.lastWanted = now
	if rec.state == StateFailed && !rec.permanent && !now.Before(rec.nextRetry) {
		rec.state = StateRequested
		return true
	}
	return false
}

// MarkLoading transitions Requested to Loading before handing the key to
// the loader. Returns false if the record is not in Requested state, in
// which case the caller must not submit.
func (s *Store) MarkLoading(key tile.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.state != StateRequested {
		return false
	}
	rec.state = StateLoading
	return true
}

// Complete reports a finished load. Safe to call from worker goroutines;
// the transition is applied by the next Drain on the frame thread.
// Ownership of the payload moves to the store.
func (s *Store) Complete(key tile.Key, payload Payload, err error) {
	s.pendMu.Lock()
	s.pending = append(s.pending, completion{key: key, payload: payload, err: err})
	s.pendMu.Unlock()
}

// Drain applies all queued completions. Called once per frame by the
// frame thread before scheduling. Completions for records that are no
// longer Loading (evicted, invalidated) are dropped silently.
func (s *Store) Drain(now time.Time) int {
	s.pendMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendMu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, c := range batch {
		rec, ok := s.records[c.key]
		if !ok || rec.state != StateLoading {
			metrics.StoreStaleCompletions.Inc()
			continue
		}
		if c.err != nil {
			rec.state = StateFailed
			rec.retries++
			rec.nextRetry = now.Add(s.backoffBase << (rec.retries - 1))
			if rec.retries > s.retryCap {
				rec.permanent = true
				s.log.Warn("tile permanently unavailable",
					zap.Stringer("tile", c.key),
					zap.Int("retries", rec.retries),
					zap.Error(c.err))
			}
		} else {
			rec.state = StateReady
			rec.payload = c.payload
			rec.size = int64(c.payload.ByteSize())
			rec.retries = 0
			rec.elem = s.lru.PushFront(rec)
			s.readyBytes += rec.size
			metrics.StoreReadyBytes.Set(float64(s.readyBytes))
		}
		applied++
	}
	return applied
}

// Touch marks a Ready record as used this frame. No-op for any other
// state.
func (s *Store) Touch(key tile.Key, frame uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.state != StateReady {
		return
	}
	rec.lastTouched = frame
	s.lru.MoveToFront(rec.elem)
}

// EvictToBudget removes least-recently-touched Ready records outside the
// protected set until ready bytes fit the budget. Among equally recent
// candidates, finer tiles go first so coarse fallback imagery survives
// longest. Loading records are never touched. Returns the number of
// evicted tiles. If every Ready tile is protected the store may stay
// over budget.
func (s *Store) EvictToBudget(protected map[tile.Key]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readyBytes <= s.budget {
		return 0
	}

	candidates := make([]*record, 0, s.lru.Len())
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		rec := e.Value.(*record)
		if _, ok := protected[rec.key]; ok {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].lastTouched != candidates[j].lastTouched {
			return candidates[i].lastTouched < candidates[j].lastTouched
		}
		return candidates[i].key.Level > candidates[j].key.Level
	})

	evicted := 0
	for _, rec := range candidates {
		if s.readyBytes <= s.budget {
			break
		}
		s.removeLocked(rec)
		evicted++
	}
	if evicted > 0 {
		metrics.StoreEvictions.Add(float64(evicted))
		s.log.Debug("evicted tiles",
			zap.Int("count", evicted),
			zap.Int64("ready_bytes", s.readyBytes))
	}
	return evicted
}

func (s *Store) removeLocked(rec *record) {
	s.readyBytes -= rec.size
	s.lru.Remove(rec.elem)
	delete(s.records, rec.key)
	metrics.StoreReadyBytes.Set(float64(s.readyBytes))
	metrics.StoreRecords.Set(float64(len(s.records)))
}

// Invalidate drops a record outright. Loading records are left alone so
// an in-flight worker result is handled by the stale-completion path
// after the record is recreated, never by a dangling pointer.
func (s *Store) Invalidate(key tile.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.state == StateLoading {
		return
	}
	if rec.state == StateReady {
		s.removeLocked(rec)
		return
	}
	delete(s.records, key)
	metrics.StoreRecords.Set(float64(len(s.records)))
}

// Sweep drops Requested and Failed records that no frame has wanted
// for longer than maxAge. Without it a record created for a tile the
// camera moved away from, or whose submission was dropped under
// backpressure, would sit in the map for the rest of the session.
// Ready records are owned by the eviction path and Loading records by
// the completion path, so both are left alone. Returns the number of
// records removed.
func (s *Store) Sweep(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for key, rec := range s.records {
		if rec.state != StateRequested && rec.state != StateFailed {
			continue
		}
		if now.Sub(rec.lastWanted) < maxAge {
			continue
		}
		delete(s.records, key)
		swept++
	}
	if swept > 0 {
		metrics.StoreRecords.Set(float64(len(s.records)))
		s.log.Debug("swept stale records", zap.Int("count", swept))
	}
	return swept
}

// SetBudget changes the byte budget. Takes effect on the next
// EvictToBudget pass.
func (s *Store) SetBudget(budget int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budget
}

// Stats is a coarse view for the debug surface.
type Stats struct {
	Records    int   `json:"records"`
	ReadyBytes int64 `json:"ready_bytes"`
	Budget     int64 `json:"budget"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records:    len(s.records),
		ReadyBytes: s.readyBytes,
		Budget:     s.budget,
	}
}
