package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProducesDepthFramesWhenStarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMock(5 * time.Millisecond)
	defer m.Close()

	require.NoError(t, m.StartDepth(ctx))

	select {
	case f := <-m.Frames():
		assert.Equal(t, Depth, f.Kind)
		assert.NotEmpty(t, f.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for depth frame")
	}
}

func TestMockStopsProducingAfterStopDepth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMock(5 * time.Millisecond)
	defer m.Close()

	require.NoError(t, m.StartDepth(ctx))
	<-m.Frames()
	require.NoError(t, m.StopDepth(ctx))

	// Drain any already-buffered frame, then confirm no more arrive.
	drained := false
	for !drained {
		select {
		case <-m.Frames():
		case <-time.After(50 * time.Millisecond):
			drained = true
		}
	}
}

func TestMockSetTiltClamps(t *testing.T) {
	ctx := context.Background()
	m := NewMock(time.Millisecond)
	defer m.Close()

	require.NoError(t, m.SetTilt(ctx, 90))
	assert.Equal(t, 15, m.tilt)

	require.NoError(t, m.SetTilt(ctx, -90))
	assert.Equal(t, -15, m.tilt)
}
