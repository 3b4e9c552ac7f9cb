package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrogenlogic/zoned/internal/camera"
)

func startPipeline(t *testing.T, p *Pipeline, ctx context.Context) {
	t.Helper()
	go p.ServeDepth(ctx)
	go p.ServeVideo(ctx)
	go p.Run(ctx)
}

func TestPipelinePublishesDepthFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := camera.NewMock(2 * time.Millisecond)
	defer mock.Close()
	require.NoError(t, mock.StartDepth(ctx))

	p := New(mock, 1024, 1024)
	startPipeline(t, p, ctx)

	require.Eventually(t, func() bool {
		return p.GetDepth() != nil
	}, time.Second, 5*time.Millisecond)

	assert.Greater(t, p.Stats().DepthFrames, int64(0))
}

func TestPipelineGetDepthReturnsACopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := camera.NewMock(2 * time.Millisecond)
	defer mock.Close()
	require.NoError(t, mock.StartDepth(ctx))

	p := New(mock, 1024, 1024)
	startPipeline(t, p, ctx)

	require.Eventually(t, func() bool {
		return p.GetDepth() != nil
	}, time.Second, 5*time.Millisecond)

	a := p.GetDepth()
	a[0] = 0xFF
	b := p.GetDepth()
	assert.NotEqual(t, a, b, "mutating a returned frame must not affect subsequent reads")
}

func TestPipelineLEDTracksRecentActivity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := camera.NewMock(2 * time.Millisecond)
	defer mock.Close()
	require.NoError(t, mock.StartDepth(ctx))

	p := New(mock, 1024, 1024)
	startPipeline(t, p, ctx)

	require.Eventually(t, func() bool {
		return p.Stats().DepthFrames > 0
	}, time.Second, 5*time.Millisecond)

	// A client-facing depth readout opens the depth LED hold window.
	p.ReadDepth()
	p.updateLED(ctx)

	p.ledMu.Lock()
	led := p.currentLED
	p.ledMu.Unlock()
	assert.Equal(t, camera.LEDYellow, led)
}

func TestPipelineRequestTiltIsDebounced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := camera.NewMock(2 * time.Millisecond)
	defer mock.Close()

	p := New(mock, 1024, 1024)
	p.RequestTilt(10)
	p.applyTilt(ctx)
	assert.Equal(t, 10, p.lastTilt)

	p.RequestTilt(10)
	p.applyTilt(ctx)
	assert.Equal(t, 10, p.lastTilt)
}
