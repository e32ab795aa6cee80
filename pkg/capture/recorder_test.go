package capture

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/queue"
)

type fakeGate struct {
	enabled atomic.Bool
	dim     atomic.Int32
}

func (g *fakeGate) Enabled() bool          { return g.enabled.Load() }
func (g *fakeGate) ActiveDimension() int32 { return g.dim.Load() }

type fakeTicks struct {
	tick atomic.Int32
}

func (f *fakeTicks) CurrentTick() int32 { return f.tick.Load() }

type fakeWorld struct {
	chunks []event.Pos
}

func (w *fakeWorld) EachResident(fn func(dimension, x, z int32)) {
	for _, p := range w.chunks {
		fn(p.Dimension, p.X, p.Z)
	}
}

func newTestRecorder() (*Recorder, *fakeGate, *fakeTicks, *queue.Queue) {
	gate := &fakeGate{}
	ticks := &fakeTicks{}
	q := queue.New()
	return NewRecorder(gate, q, ticks, nil), gate, ticks, q
}

func TestRecordDisabledIsNoop(t *testing.T) {
	rec, _, _, q := newTestRecorder()

	rec.Loaded(1, 2, 0, "")
	rec.Record(event.Generated, 1, 2, 0, "x")
	rec.RecordActive(event.Unloaded, 1, 2, "")

	assert.Equal(t, 0, q.Len())
}

func TestRecordBuildsEvent(t *testing.T) {
	rec, gate, ticks, q := newTestRecorder()
	gate.enabled.Store(true)
	ticks.tick.Store(42)

	rec.Populated(3, 4, -1, "worldgen")

	events := q.DrainAll()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, int32(3), e.X)
	assert.Equal(t, int32(4), e.Z)
	assert.Equal(t, int32(42), e.Tick)
	assert.Equal(t, int32(-1), e.Dimension)
	assert.Equal(t, event.Populated, e.Type)
	assert.Equal(t, "worldgen", e.Metadata.Annotation)
	require.NotEmpty(t, e.Metadata.Trace)

	// The trace must reach back to this test function
	joined := strings.Join(e.Metadata.Trace, "\n")
	assert.Contains(t, joined, "TestRecordBuildsEvent")
	assert.Contains(t, joined, "recorder_test.go:")
}

func TestRecordClampsNegativeTick(t *testing.T) {
	rec, gate, ticks, q := newTestRecorder()
	gate.enabled.Store(true)
	ticks.tick.Store(-7)

	rec.Loaded(0, 0, 0, "")

	events := q.DrainAll()
	require.Len(t, events, 1)
	assert.Equal(t, int32(0), events[0].Tick)
}

func TestNamedHooksUseMatchingTypes(t *testing.T) {
	rec, gate, _, q := newTestRecorder()
	gate.enabled.Store(true)

	rec.AlreadyLoaded(0, 0, 0, "")
	rec.Loaded(0, 0, 0, "")
	rec.Generated(0, 0, 0, "")
	rec.Populated(0, 0, 0, "")
	rec.UnloadScheduled(0, 0, 0, "")
	rec.Unloaded(0, 0, 0, "")

	events := q.DrainAll()
	require.Len(t, events, len(event.Types))
	for i, e := range events {
		assert.Equal(t, event.Types[i], e.Type)
	}
}

func TestRecordActiveUsesGateDimension(t *testing.T) {
	rec, gate, _, q := newTestRecorder()
	gate.enabled.Store(true)
	gate.dim.Store(1)

	rec.RecordActive(event.Loaded, 5, 5, "")

	events := q.DrainAll()
	require.Len(t, events, 1)
	assert.Equal(t, int32(1), events[0].Dimension)
}

func TestRecordResident(t *testing.T) {
	rec, gate, _, q := newTestRecorder()
	world := &fakeWorld{chunks: []event.Pos{{Dimension: 0, X: 1, Z: 1}, {Dimension: -1, X: 2, Z: 3}}}

	assert.Equal(t, 0, rec.RecordResident(world), "disabled capture must skip enumeration")

	gate.enabled.Store(true)
	assert.Equal(t, 2, rec.RecordResident(world))

	events := q.DrainAll()
	require.Len(t, events, 2)
	assert.Equal(t, event.AlreadyLoaded, events[1].Type)
	assert.Equal(t, event.Pos{Dimension: -1, X: 2, Z: 3}, events[1].Pos())
}

// N records from a single producer drain as exactly N events in call order
func TestSingleProducerOrder(t *testing.T) {
	rec, gate, ticks, q := newTestRecorder()
	gate.enabled.Store(true)

	const n = 500
	for i := 0; i < n; i++ {
		ticks.tick.Store(int32(i / 10))
		rec.Loaded(int32(i), 0, 0, "")
	}

	events := q.DrainAll()
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int32(i), e.X)
	}
}

func TestConcurrentRecord(t *testing.T) {
	rec, gate, _, q := newTestRecorder()
	gate.enabled.Store(true)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int32) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rec.Unloaded(p, int32(i), 0, "")
			}
		}(int32(p))
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

func BenchmarkRecordDisabled(b *testing.B) {
	rec, _, _, _ := newTestRecorder()
	for i := 0; i < b.N; i++ {
		rec.Loaded(1, 2, 0, "")
	}
}
