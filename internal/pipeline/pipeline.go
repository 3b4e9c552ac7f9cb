// Package pipeline moves raw frames from a camera.Driver to the rest of the
// daemon: it decouples the driver's delivery rate from consumers by holding
// only the most recently completed frame of each kind, drops frames under
// backpressure rather than blocking the driver, and drives the camera's LED
// from recent client frame readouts and its tilt motor from tilt requests.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/nitrogenlogic/zoned/internal/camera"
)

// mailboxTimeout is how long the driver goroutine waits for a worker to pick
// up the previous frame before dropping the new one.
const mailboxTimeout = time.Millisecond

const (
	depthLEDHold = 2 * time.Second
	videoLEDHold = 3 * time.Second
)

// Stats reports pipeline throughput counters.
type Stats struct {
	DepthFrames int64
	VideoFrames int64
	DepthDrops  int64
	VideoDrops  int64
}

// bufferPool hands out reusable byte slices sized for a single frame, so the
// worker goroutines don't allocate on every publish.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (p *bufferPool) get() []byte {
	return *(p.pool.Get().(*[]byte))
}

func (p *bufferPool) put(b []byte) {
	p.pool.Put(&b)
}

// Pipeline reads frames from a camera.Driver, publishes the most recent frame
// of each kind for readers, and drives LED/tilt based on recent activity.
type Pipeline struct {
	drv camera.Driver

	depthMu    sync.RWMutex
	depthFrame []byte
	depthMbox  chan []byte

	videoMu    sync.RWMutex
	videoFrame []byte
	videoMbox  chan []byte

	depthPool *bufferPool
	videoPool *bufferPool

	statsMu sync.Mutex
	stats   Stats

	ledMu      sync.Mutex
	endDepth   time.Time
	endVideo   time.Time
	currentLED camera.LED

	tiltMu      sync.Mutex
	requestTilt int
	lastTilt    int
}

// New creates a Pipeline driven by drv. depthFrameSize and videoFrameSize are
// the byte sizes of a raw depth/video frame, used to size the buffer pool.
func New(drv camera.Driver, depthFrameSize, videoFrameSize int) *Pipeline {
	return &Pipeline{
		drv:        drv,
		depthMbox:  make(chan []byte, 1),
		videoMbox:  make(chan []byte, 1),
		depthPool:  newBufferPool(depthFrameSize),
		videoPool:  newBufferPool(videoFrameSize),
		currentLED: camera.LEDGreen,
	}
}

// Run drains the driver's Frames channel, routes each frame to its mailbox
// with drop-on-backpressure, and runs the LED/tilt state machine. It blocks
// until ctx is done. If the driver's frame channel closes first, frame
// routing stops but Run keeps driving the LED and tilt until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.routeFrames(ctx)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			p.updateLED(ctx)
			p.applyTilt(ctx)
		}
	}
}

func (p *Pipeline) routeFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-p.drv.Frames():
			if !ok {
				return
			}
			switch f.Kind {
			case camera.Depth:
				p.offer(p.depthMbox, f.Data, &p.stats.DepthDrops)
			case camera.Video:
				p.offer(p.videoMbox, f.Data, &p.stats.VideoDrops)
			}
		}
	}
}

// offer attempts to hand buf to the mailbox, waiting up to mailboxTimeout for
// a prior frame to be consumed. On timeout the frame is dropped and counted.
func (p *Pipeline) offer(mbox chan []byte, buf []byte, dropCounter *int64) {
	select {
	case mbox <- buf:
		return
	default:
	}

	timer := time.NewTimer(mailboxTimeout)
	defer timer.Stop()
	select {
	case mbox <- buf:
	case <-timer.C:
		p.statsMu.Lock()
		*dropCounter++
		p.statsMu.Unlock()
	}
}

// ServeDepth consumes mailbox deliveries, publishing each as the latest
// depth frame and recycling the previous buffer back to the pool. It should
// run in its own goroutine for the lifetime of the pipeline.
func (p *Pipeline) ServeDepth(ctx context.Context) {
	p.serve(ctx, p.depthMbox, p.depthPool, &p.depthMu, &p.depthFrame, &p.stats.DepthFrames, camera.Depth)
}

// ServeVideo is the video-stream counterpart to ServeDepth.
func (p *Pipeline) ServeVideo(ctx context.Context) {
	p.serve(ctx, p.videoMbox, p.videoPool, &p.videoMu, &p.videoFrame, &p.stats.VideoFrames, camera.Video)
}

func (p *Pipeline) serve(ctx context.Context, mbox chan []byte, pool *bufferPool, mu *sync.RWMutex, slot *[]byte, counter *int64, kind camera.FrameKind) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-mbox:
			if !ok {
				return
			}
			mu.Lock()
			old := *slot
			*slot = buf
			mu.Unlock()
			if old != nil {
				pool.put(old)
			}

			p.statsMu.Lock()
			*counter++
			p.statsMu.Unlock()
		}
	}
}

// GetDepth returns a copy of the most recently published depth frame, or nil
// if none has arrived yet. It does not affect the LED hold window; it is
// for internal consumers (the zone scanner) that look at every frame
// regardless of whether any client has asked for one.
func (p *Pipeline) GetDepth() []byte {
	p.depthMu.RLock()
	defer p.depthMu.RUnlock()
	return cloneFrame(p.depthFrame)
}

// GetVideo is the video counterpart to GetDepth.
func (p *Pipeline) GetVideo() []byte {
	p.videoMu.RLock()
	defer p.videoMu.RUnlock()
	return cloneFrame(p.videoFrame)
}

// ReadDepth returns a copy of the most recently published depth frame and
// kicks the depth LED hold window, matching get_depth's dual role of
// buffer readout and LED liveness signal. Callers should only use this for
// an actual client-facing readout, not internal scanning.
func (p *Pipeline) ReadDepth() []byte {
	frame := p.GetDepth()
	p.kick(camera.Depth)
	return frame
}

// ReadVideo is the video counterpart to ReadDepth.
func (p *Pipeline) ReadVideo() []byte {
	frame := p.GetVideo()
	p.kick(camera.Video)
	return frame
}

// PeekVideo returns the most recently published video frame without kicking
// the LED hold window or affecting the on-demand stream lifecycle. It is for
// passive inspection, such as the admin debug preview endpoint.
func (p *Pipeline) PeekVideo() []byte {
	return p.GetVideo()
}

func cloneFrame(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Stats returns a snapshot of the pipeline's throughput counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// kick extends the LED hold window for the stream kind whose frame was just
// read out to a client. The LED itself transitions lazily in updateLED.
func (p *Pipeline) kick(kind camera.FrameKind) {
	p.ledMu.Lock()
	defer p.ledMu.Unlock()
	now := time.Now()
	switch kind {
	case camera.Depth:
		p.endDepth = now.Add(depthLEDHold)
	case camera.Video:
		p.endVideo = now.Add(videoLEDHold)
	}
}

// updateLED recomputes the desired LED color from the hold windows set by
// kick, and forwards only actual transitions to the camera driver: video
// activity takes priority (red), then depth activity (yellow), else idle
// (green).
func (p *Pipeline) updateLED(ctx context.Context) {
	p.ledMu.Lock()
	now := time.Now()
	var want camera.LED
	switch {
	case now.Before(p.endVideo):
		want = camera.LEDRed
	case now.Before(p.endDepth):
		want = camera.LEDYellow
	default:
		want = camera.LEDGreen
	}
	changed := want != p.currentLED
	if changed {
		p.currentLED = want
	}
	p.ledMu.Unlock()

	if changed {
		p.drv.SetLED(ctx, want)
	}
}

// LED returns the camera's current indicator state.
func (p *Pipeline) LED() camera.LED {
	p.ledMu.Lock()
	defer p.ledMu.Unlock()
	return p.currentLED
}

// RequestVideo starts the video stream on demand. Video frames are rare and
// client-driven: the stream runs only while a client has asked for one.
func (p *Pipeline) RequestVideo(ctx context.Context) error {
	return p.drv.StartVideo(ctx)
}

// StopVideo stops the video stream, called once the requested frame has been
// delivered to every client waiting on it.
func (p *Pipeline) StopVideo(ctx context.Context) error {
	return p.drv.StopVideo(ctx)
}

// RequestTilt asks the pipeline to move the camera to the given angle in
// degrees on the next tilt-debounce tick. Safe to call concurrently.
func (p *Pipeline) RequestTilt(degrees int) {
	p.tiltMu.Lock()
	defer p.tiltMu.Unlock()
	p.requestTilt = degrees
}

// applyTilt forwards a tilt change to the driver only when the requested
// angle differs from the last one actually sent, matching the reference's
// debounce against redundant motor commands.
func (p *Pipeline) applyTilt(ctx context.Context) {
	p.tiltMu.Lock()
	want := p.requestTilt
	changed := want != p.lastTilt
	if changed {
		p.lastTilt = want
	}
	p.tiltMu.Unlock()

	if changed {
		p.drv.SetTilt(ctx, want)
	}
}
