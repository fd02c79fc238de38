package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWorker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, game.PhaseNarration)
	w := New(f.proc, time.Hour, 5, discardLogger(), "")
	assert.Contains(t, w.ID(), "worker-")

	require.NoError(t, w.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestWorker_PollDrainsBatch(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	for i := 0; i < 3; i++ {
		f.addEntry(t, "aria@example.com", &f.ariaID, "Avanzo.")
	}

	w := New(f.proc, time.Hour, 2, discardLogger(), "worker-test")
	w.poll()

	stats, err := f.proc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ProcessedToday)
	assert.Equal(t, 1, stats.Pending)

	w.poll()
	stats, err = f.proc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ProcessedToday)
	assert.Zero(t, stats.Pending)
}

func TestWorker_PollAfterStopIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, game.PhaseNarration)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Avanzo.")

	w := New(f.proc, time.Hour, 2, discardLogger(), "worker-test")
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop(context.Background()))

	w.poll()
	stats, err := f.proc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}
