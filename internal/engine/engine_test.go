package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/camera"
	"github.com/vinadenenko/earth-map/internal/lod"
	"github.com/vinadenenko/earth-map/internal/store"
	"github.com/vinadenenko/earth-map/internal/tile"
)

type fakeSubmitter struct {
	subs []tile.Key
}

func (f *fakeSubmitter) Submit(key tile.Key, prio int) bool {
	f.subs = append(f.subs, key)
	return true
}

func (f *fakeSubmitter) count(key tile.Key) int {
	n := 0
	for _, k := range f.subs {
		if k == key {
			n++
		}
	}
	return n
}

type testPayload int

func (p testPayload) ByteSize() int { return int(p) }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func makeReady(t *testing.T, st *store.Store, key tile.Key, size int, now time.Time) {
	t.Helper()
	st.EnsureRequested(key, now)
	if !st.MarkLoading(key) {
		t.Fatalf("MarkLoading(%v) = false", key)
	}
	st.Complete(key, testPayload(size), nil)
	st.Drain(now)
}

func farCamera() camera.Snapshot {
	return camera.LookAt(mgl64.Vec3{0, 0, 2e7}, mgl64.Vec3{0, 0, 0}, 800, 600, math.Pi/3)
}

func cameraOver(key tile.Key, altitude float64) camera.Snapshot {
	min, max := lod.MercatorBox(key)
	center := min.Add(max).Mul(0.5)
	eye := mgl64.Vec3{center[0], center[1], altitude}
	return camera.LookAt(eye, mgl64.Vec3{center[0], center[1], 0}, 800, 600, math.Pi/3)
}

func TestFrameRequestsMissingTiles(t *testing.T) {
	st := store.New(1<<26, store.Options{}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 2, MaxLevel: 19, Clock: clock.now}, zap.NewNop())

	render := e.Frame(farCamera())
	if len(render) != 0 {
		t.Fatalf("rendered %d tiles from an empty store", len(render))
	}
	if len(sub.subs) == 0 {
		t.Fatalf("no load submissions for missing tiles")
	}
	for _, k := range sub.subs {
		if got := st.Lookup(k).State; got != store.StateRequested {
			t.Fatalf("submitted key %v in state %v", k, got)
		}
	}
}

func TestReadyTileRendered(t *testing.T) {
	st := store.New(1<<26, store.Options{}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	// Huge threshold: the root alone satisfies the error bound.
	e := New(st, sub, Options{ThresholdPx: 1e6, MaxLevel: 19, Clock: clock.now}, zap.NewNop())

	makeReady(t, st, tile.Root(), 1000, clock.t)
	render := e.Frame(farCamera())

	if len(render) != 1 || render[0].Key != tile.Root() {
		t.Fatalf("render = %v", render)
	}
	if render[0].Payload.ByteSize() != 1000 {
		t.Fatalf("payload size = %d", render[0].Payload.ByteSize())
	}
	if e.FrameCount() != 1 {
		t.Fatalf("frame count = %d", e.FrameCount())
	}
	if s := e.Stats(); s.LastRender != 1 || s.Frame != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestAncestorSubstitution(t *testing.T) {
	st := store.New(1<<26, store.Options{}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 0.01, MaxLevel: 1, Clock: clock.now}, zap.NewNop())

	makeReady(t, st, tile.Root(), 1000, clock.t)
	render := e.Frame(farCamera())

	// Desired level-1 tiles are not ready: the root substitutes for all
	// of them, deduplicated to a single entry.
	if len(render) != 1 || render[0].Key != tile.Root() {
		t.Fatalf("render = %v", render)
	}
	if len(sub.subs) == 0 {
		t.Fatalf("missing tiles not submitted while substituting")
	}
	for _, k := range sub.subs {
		if k.Level != 1 {
			t.Fatalf("submitted %v, want level-1 tiles only", k)
		}
	}
}

func TestBackoffGatesResubmission(t *testing.T) {
	st := store.New(1<<26, store.Options{RetryCap: 5, BackoffBase: time.Second}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 1e6, MaxLevel: 19, Clock: clock.now}, zap.NewNop())

	root := tile.Root()
	e.Frame(farCamera())
	if sub.count(root) != 1 {
		t.Fatalf("root submitted %d times", sub.count(root))
	}

	st.MarkLoading(root)
	st.Complete(root, nil, errors.New("503"))

	// Backoff not elapsed: the next frame must not resubmit.
	e.Frame(farCamera())
	if sub.count(root) != 1 {
		t.Fatalf("resubmitted during backoff")
	}

	clock.advance(2 * time.Second)
	e.Frame(farCamera())
	if sub.count(root) != 2 {
		t.Fatalf("root submitted %d times after backoff elapsed", sub.count(root))
	}
}

func TestPermanentFailureFallsBackToAncestor(t *testing.T) {
	st := store.New(1<<26, store.Options{RetryCap: 3, BackoffBase: 100 * time.Millisecond}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 2, MaxLevel: 5, Clock: clock.now}, zap.NewNop())

	target := tile.Key{Level: 5, Row: 3, Col: 7}
	ancestor := target.Parent() // level 4, row 1, col 3
	makeReady(t, st, ancestor, 500, clock.t)

	snap := cameraOver(target, 2000)
	fetchErr := errors.New("fetch: gateway timeout")

	// Four failed attempts against a retry cap of 3. Each failure is
	// drained on the following frame, which starts the backoff window.
	for attempt := 1; attempt <= 4; attempt++ {
		e.Frame(snap)
		if sub.count(target) != attempt {
			t.Fatalf("attempt %d: target submitted %d times", attempt, sub.count(target))
		}
		st.MarkLoading(target)
		st.Complete(target, nil, fetchErr)
		e.Frame(snap)
		clock.advance(time.Minute)
	}

	render := e.Frame(snap)

	if !st.Lookup(target).Permanent {
		t.Fatalf("target not permanent after 4 failures")
	}
	if sub.count(target) != 4 {
		t.Fatalf("permanent tile resubmitted: %d", sub.count(target))
	}

	foundAncestor := false
	for _, rt := range render {
		if rt.Key == target {
			t.Fatalf("permanently failed tile in render list")
		}
		if rt.Key == ancestor {
			foundAncestor = true
		}
	}
	if !foundAncestor {
		t.Fatalf("level-4 ancestor not substituted, render = %v", render)
	}
}

func TestFrameSweepsAbandonedRecords(t *testing.T) {
	st := store.New(1<<26, store.Options{}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 1e6, MaxLevel: 19, Clock: clock.now}, zap.NewNop())

	// Requested once, then the camera never looks at it again.
	stray := tile.Key{Level: 9, Row: 100, Col: 100}
	st.EnsureRequested(stray, clock.t)

	clock.advance(sweepMaxAge + time.Second)
	for i := 0; i < sweepInterval; i++ {
		e.Frame(farCamera())
	}

	if got := st.Lookup(stray).State; got != store.StateAbsent {
		t.Fatalf("abandoned record survived the sweep: %v", got)
	}
	// The root stays in view, is restamped every frame, and survives.
	if got := st.Lookup(tile.Root()).State; got != store.StateRequested {
		t.Fatalf("in-view record swept: %v", got)
	}
}

func TestFrameEvictsToBudget(t *testing.T) {
	st := store.New(1500, store.Options{}, zap.NewNop())
	sub := &fakeSubmitter{}
	clock := &fakeClock{t: time.Now()}
	e := New(st, sub, Options{ThresholdPx: 1e6, MaxLevel: 19, Clock: clock.now}, zap.NewNop())

	// Root is desired and protected; the deep tile is neither.
	makeReady(t, st, tile.Root(), 1000, clock.t)
	stray := tile.Key{Level: 9, Row: 100, Col: 100}
	makeReady(t, st, stray, 1000, clock.t)

	e.Frame(farCamera())

	if got := st.Lookup(stray).State; got != store.StateAbsent {
		t.Fatalf("unprotected tile survived eviction: %v", got)
	}
	if got := st.Lookup(tile.Root()).State; got != store.StateReady {
		t.Fatalf("protected root evicted: %v", got)
	}
}
