package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTestStore(t)

	var name string
	err := store.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='samples'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "samples", name)
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(Sample{
			TakenAt:       base.Add(time.Duration(i) * time.Minute),
			FPS:           30 - float64(i),
			DepthDrops:    int64(i),
			VideoDrops:    0,
			WatchdogTrips: 0,
			LED:           "green",
			OccupiedZones: i,
		}))
	}

	samples, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[0].TakenAt.Before(samples[1].TakenAt))
	assert.Equal(t, 30.0, samples[0].FPS)
}

func TestRecentRespectsLimit(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(Sample{TakenAt: time.Now(), FPS: 30, LED: "green"}))
	}

	samples, err := store.Recent(2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestSamplerRecordsOnTick(t *testing.T) {
	store := openTestStore(t)
	calls := 0
	sampler := NewSampler(store, 5*time.Millisecond, func() Sample {
		calls++
		return Sample{TakenAt: time.Now(), FPS: 30, LED: "green"}
	})

	stop := make(chan struct{})
	go sampler.Run(stop)
	time.Sleep(30 * time.Millisecond)
	close(stop)

	samples, err := store.Recent(100)
	require.NoError(t, err)
	assert.NotEmpty(t, samples)
}
