// Package sim is a small simulated world used to drive the chunk debug
// recorder in demos and integration tests.
//
// Each dimension has one walker. Chunks within Radius of a walker are kept
// resident; chunks that fall out of range are scheduled for unload and
// unloaded UnloadDelay ticks later unless the walker comes back first.
package sim

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/chunkdebug/pkg/capture"
	"github.com/nicktill/chunkdebug/pkg/event"
)

// Config describes the simulated world
type Config struct {
	Dimensions  []int32
	Radius      int32
	UnloadDelay int32
	Seed        int64
}

// DefaultConfig is the overworld, the nether and the end with a small view radius
func DefaultConfig() Config {
	return Config{
		Dimensions:  []int32{0, -1, 1},
		Radius:      2,
		UnloadDelay: 3,
		Seed:        1,
	}
}

type chunk struct {
	scheduledAt int32
	scheduled   bool
}

type walker struct {
	x, z int32
}

// World implements capture.TickSource and capture.Enumerator
type World struct {
	config Config
	tick   atomic.Int32

	mu        sync.Mutex
	hooks     capture.Hooks
	rng       *rand.Rand
	walkers   map[int32]*walker
	resident  map[event.Pos]*chunk
	generated map[event.Pos]bool
}

// NewWorld creates an empty world. Nothing is resident until the first Step.
func NewWorld(cfg Config) *World {
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = []int32{0}
	}
	if cfg.Radius < 0 {
		cfg.Radius = 0
	}
	if cfg.UnloadDelay < 1 {
		cfg.UnloadDelay = 1
	}

	w := &World{
		config:    cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		walkers:   make(map[int32]*walker, len(cfg.Dimensions)),
		resident:  make(map[event.Pos]*chunk),
		generated: make(map[event.Pos]bool),
	}
	for _, d := range cfg.Dimensions {
		w.walkers[d] = &walker{}
	}
	return w
}

// SetHooks installs the lifecycle callbacks fired by Step
func (w *World) SetHooks(h capture.Hooks) {
	w.mu.Lock()
	w.hooks = h
	w.mu.Unlock()
}

// CurrentTick returns the simulation tick
func (w *World) CurrentTick() int32 {
	return w.tick.Load()
}

// EachResident calls fn for every resident chunk, ordered by dimension, x, z.
// fn runs without the world lock held.
func (w *World) EachResident(fn func(dimension, x, z int32)) {
	w.mu.Lock()
	positions := sortedPositions(w.resident)
	w.mu.Unlock()

	for _, p := range positions {
		fn(p.Dimension, p.X, p.Z)
	}
}

// ResidentCount returns the number of resident chunks
func (w *World) ResidentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.resident)
}

// Step advances the world by one tick: walkers move, chunks in range load,
// chunks out of range are scheduled and later unloaded.
func (w *World) Step() {
	tick := w.tick.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()

	wanted := make(map[event.Pos]bool)
	for _, d := range w.config.Dimensions {
		wk := w.walkers[d]
		// The first tick loads the spawn area without moving
		if tick > 1 {
			wk.x += int32(w.rng.Intn(3) - 1)
			wk.z += int32(w.rng.Intn(3) - 1)
		}
		r := w.config.Radius
		for x := wk.x - r; x <= wk.x+r; x++ {
			for z := wk.z - r; z <= wk.z+r; z++ {
				wanted[event.Pos{Dimension: d, X: x, Z: z}] = true
			}
		}
	}

	for _, p := range sortedPositions(wanted) {
		if c, ok := w.resident[p]; ok {
			c.scheduled = false
			continue
		}
		w.resident[p] = &chunk{}
		if w.generated[p] {
			w.fire(p, (capture.Hooks).Loaded)
			continue
		}
		w.generated[p] = true
		w.fire(p, (capture.Hooks).Generated)
		w.fire(p, (capture.Hooks).Populated)
	}

	for _, p := range sortedPositions(w.resident) {
		if wanted[p] {
			continue
		}
		c := w.resident[p]
		switch {
		case !c.scheduled:
			c.scheduled = true
			c.scheduledAt = tick
			w.fire(p, (capture.Hooks).UnloadScheduled)
		case tick-c.scheduledAt >= w.config.UnloadDelay:
			delete(w.resident, p)
			w.fire(p, (capture.Hooks).Unloaded)
		}
	}
}

// Run steps the world every interval until ctx is done
func (w *World) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🌍 Simulated world started (%d dimensions, tick every %v)", len(w.config.Dimensions), interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Simulated world stopped at tick %d", w.CurrentTick())
			return
		case <-ticker.C:
			w.Step()
		}
	}
}

func (w *World) fire(p event.Pos, hook func(capture.Hooks, int32, int32, int32, string)) {
	if w.hooks == nil {
		return
	}
	hook(w.hooks, p.X, p.Z, p.Dimension, "")
}

func sortedPositions[V any](m map[event.Pos]V) []event.Pos {
	out := make([]event.Pos, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return out
}
