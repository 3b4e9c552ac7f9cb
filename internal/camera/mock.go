package camera

import (
	"context"
	"sync"
	"time"

	"github.com/nitrogenlogic/zoned/internal/coords"
)

// Mock is a synthetic Driver used by tests and by the daemon's
// --camera=mock mode. It generates frames at a fixed rate filled with a
// single repeating depth/brightness value, optionally overridable per test.
type Mock struct {
	mu          sync.Mutex
	depthOn     bool
	videoOn     bool
	led         LED
	tilt        int
	frames      chan Frame
	stop        chan struct{}
	stopOnce    sync.Once
	rate        time.Duration
	fixedDepth  int
	fixedBright byte
}

// NewMock creates a Mock driver producing frames at the given rate.
func NewMock(rate time.Duration) *Mock {
	if rate <= 0 {
		rate = 33 * time.Millisecond
	}
	return &Mock{
		frames:      make(chan Frame, 4),
		stop:        make(chan struct{}),
		rate:        rate,
		fixedDepth:  600,
		fixedBright: 128,
	}
}

// SetFixedDepth controls the packed-11-bit depth value every pixel of a
// generated depth frame carries.
func (m *Mock) SetFixedDepth(pxz int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedDepth = pxz
}

func (m *Mock) StartDepth(ctx context.Context) error {
	m.mu.Lock()
	already := m.depthOn
	m.depthOn = true
	m.mu.Unlock()
	if !already {
		go m.runDepth(ctx)
	}
	return nil
}

func (m *Mock) StopDepth(ctx context.Context) error {
	m.mu.Lock()
	m.depthOn = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) StartVideo(ctx context.Context) error {
	m.mu.Lock()
	already := m.videoOn
	m.videoOn = true
	m.mu.Unlock()
	if !already {
		go m.runVideo(ctx)
	}
	return nil
}

func (m *Mock) StopVideo(ctx context.Context) error {
	m.mu.Lock()
	m.videoOn = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) SetLED(ctx context.Context, led LED) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.led = led
	return nil
}

func (m *Mock) SetTilt(ctx context.Context, degrees int) error {
	if degrees < -15 {
		degrees = -15
	}
	if degrees > 15 {
		degrees = 15
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tilt = degrees
	return nil
}

func (m *Mock) Frames() <-chan Frame {
	return m.frames
}

func (m *Mock) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Mock) runDepth(ctx context.Context) {
	ticker := time.NewTicker(m.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			on := m.depthOn
			pxz := m.fixedDepth
			m.mu.Unlock()
			if !on {
				continue
			}
			buf := make([]byte, coords.FrameWidth*coords.FrameHeight*11/8+8)
			fillDepth(buf, pxz)
			select {
			case m.frames <- Frame{Kind: Depth, Data: buf}:
			default:
			}
		}
	}
}

func (m *Mock) runVideo(ctx context.Context) {
	ticker := time.NewTicker(m.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			on := m.videoOn
			bright := m.fixedBright
			m.mu.Unlock()
			if !on {
				continue
			}
			buf := make([]byte, coords.FrameWidth*coords.FrameHeight)
			for i := range buf {
				buf[i] = bright
			}
			select {
			case m.frames <- Frame{Kind: Video, Data: buf}:
			default:
			}
		}
	}
}

func fillDepth(buf []byte, val int) {
	for px := 0; px < coords.FrameWidth*coords.FrameHeight; px++ {
		bitStart := px * 11
		for b := 0; b < 11; b++ {
			bitpos := bitStart + b
			bit := (val >> uint(10-b)) & 1
			byteIdx := bitpos / 8
			bitIdx := 7 - (bitpos % 8)
			if bit == 1 {
				buf[byteIdx] |= 1 << uint(bitIdx)
			}
		}
	}
}
