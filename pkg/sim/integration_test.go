package sim_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/chunkdebug/pkg/control"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/sim"
)

func TestRecordingSimulatedWorld(t *testing.T) {
	world := sim.NewWorld(sim.Config{Dimensions: []int32{0}, Radius: 1, UnloadDelay: 2, Seed: 3})
	m := control.New(control.Config{DumpDir: t.TempDir(), Ticks: world, Resident: world})
	defer m.Close()
	world.SetHooks(m.Recorder())

	// Chunks resident before the session are reported as the baseline
	world.Step()
	require.NoError(t, m.Start(nil))
	for i := 0; i < 20; i++ {
		world.Step()
	}
	path, err := m.Stop(nil)
	require.NoError(t, err)

	// Steps after stop are not captured
	world.Step()
	assert.Equal(t, 0, m.QueueLen())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	events, err := event.ReadLines(f)
	require.NoError(t, err)
	require.Greater(t, len(events), 9)

	for i := 0; i < 9; i++ {
		assert.Equal(t, event.AlreadyLoaded, events[i].Type)
		assert.Equal(t, int32(1), events[i].Tick)
	}
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Tick, events[i].Tick)
	}
}
