// Command zoned is the zone-occupancy daemon: it drives a structured-light
// depth camera, classifies each frame against a set of user-defined 3D
// zones, and serves zone state and raw frames to TCP clients over a
// line-oriented text protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nitrogenlogic/zoned/internal/camera"
	"github.com/nitrogenlogic/zoned/internal/config"
	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/nitrogenlogic/zoned/internal/persist"
	"github.com/nitrogenlogic/zoned/internal/pipeline"
	"github.com/nitrogenlogic/zoned/internal/scan"
	"github.com/nitrogenlogic/zoned/internal/server"
	"github.com/nitrogenlogic/zoned/internal/telemetry"
	"github.com/nitrogenlogic/zoned/internal/version"
	"github.com/nitrogenlogic/zoned/internal/watchdog"
	"github.com/nitrogenlogic/zoned/internal/zones"
)

var (
	cameraFlag   = flag.String("camera", "mock", "camera backend: mock or serial")
	serialPort   = flag.String("serial-port", "/dev/ttyACM0", "control-channel serial port when --camera=serial")
	serialBaud   = flag.Int("serial-baud", 115200, "serial port baud rate when --camera=serial")
	mockRate     = flag.Duration("mock-rate", 33*time.Millisecond, "synthetic frame rate when --camera=mock")
	xskipFlag    = flag.Int("xskip", 2, "scan every Nth column when classifying zones")
	yskipFlag    = flag.Int("yskip", 2, "scan every Nth row when classifying zones")
	saveInterval = flag.Duration("save-interval", 2*time.Second, "how often zone state is flushed to disk when dirty")
	telemetryDB  = flag.String("telemetry-db", "telemetry.db", "path to the sqlite telemetry sample store")
)

// tiltState adapts Pipeline's fire-and-forget RequestTilt into the
// getter/setter shape server.TiltController and persist.TiltStore need.
type tiltState struct {
	mu  sync.Mutex
	cur int
	p   *pipeline.Pipeline
}

func newTiltState(p *pipeline.Pipeline) *tiltState {
	return &tiltState{p: p}
}

func (t *tiltState) Tilt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

func (t *tiltState) SetTilt(degrees int) {
	t.mu.Lock()
	t.cur = degrees
	t.mu.Unlock()
	t.p.RequestTilt(degrees)
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	// Tee to a debug log file in addition to stdout when KND_DEBUG_LOG
	// names one.
	if cfg.DebugLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DebugLogPath), 0o755); err != nil {
			log.Printf("warning: failed to create debug log directory for %s: %v", cfg.DebugLogPath, err)
		} else if f, err := os.OpenFile(cfg.DebugLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			log.Printf("warning: failed to open debug log %s: %v", cfg.DebugLogPath, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	log.Printf("zoned v%s (git SHA: %s)", version.Version, version.GitSHA)

	drv, err := openCamera()
	if err != nil {
		log.Fatalf("opening camera: %v", err)
	}
	defer drv.Close()

	tables := coords.NewTables()
	zl := zones.New(tables, *xskipFlag, *yskipFlag)

	depthFrameSize := coords.FrameWidth*coords.FrameHeight*11/8 + 8
	videoFrameSize := coords.FrameWidth * coords.FrameHeight
	pl := pipeline.New(drv, depthFrameSize, videoFrameSize)
	tilt := newTiltState(pl)

	// Persistence is only enabled when KND_SAVEDIR is set; zones are not
	// saved to or loaded from disk otherwise.
	var saver *persist.Saver
	if cfg.SaveDir != "" {
		if n, err := persist.Load(zl, tilt, cfg.SaveDir); err != nil {
			log.Printf("warning: failed to load saved zones from %s: %v", cfg.SaveDir, err)
		} else if n > 0 {
			log.Printf("loaded %d saved zones from %s", n, cfg.SaveDir)
		}

		saver, err = persist.New(zl, tilt, cfg.SaveDir, *saveInterval)
		if err != nil {
			log.Fatalf("initializing zone persistence: %v", err)
		}
	}

	store, err := telemetry.Open(*telemetryDB)
	if err != nil {
		log.Fatalf("opening telemetry store: %v", err)
	}
	defer store.Close()

	var fps fpsCounter

	srv := server.New(zl, tables, pl, tilt, fps.Get)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var escalated bool
	var wd *watchdog.Watchdog
	wd = watchdog.New(255*time.Millisecond, cfg.RunTimeout, func(elapsed time.Duration) {
		log.Printf("watchdog: timed out, %s since last depth frame", elapsed)
		if !escalated {
			escalated = true
			log.Printf("watchdog: notifying main thread (SIGUSR2)")
			syscall.Kill(os.Getpid(), syscall.SIGUSR2)
			stop()
		} else {
			log.Printf("watchdog: still unresponsive, terminating (SIGTERM)")
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
		wd.Kick()
	})
	wd.SetTimeout(cfg.InitTimeout)
	wd.Start()
	defer wd.Stop()

	sampler := telemetry.NewSampler(store, time.Second, func() telemetry.Sample {
		stats := pl.Stats()
		return telemetry.Sample{
			TakenAt:       time.Now(),
			FPS:           float64(fps.Get()),
			DepthDrops:    stats.DepthDrops,
			VideoDrops:    stats.VideoDrops,
			WatchdogTrips: wd.Trips(),
			LED:           pl.LED().String(),
			OccupiedZones: zl.OccupiedCount(),
		}
	})

	usr2 := make(chan os.Signal, 1)
	signal.Notify(usr2, syscall.SIGUSR2)
	go func() {
		for range usr2 {
			log.Printf("watchdog sent SIGUSR2: depth stream appears stuck")
		}
	}()

	if err := drv.StartDepth(ctx); err != nil {
		log.Fatalf("starting depth stream: %v", err)
	}
	// Video is rare and on-demand: the server starts it only when a client
	// issues getvideo/getbright, and stops it once that frame is delivered.

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := pl.Run(gctx)
		log.Printf("pipeline routine terminated: %v", err)
		return nil
	})

	g.Go(func() error {
		runScanLoop(gctx, pl, zl, srv, &fps, wd, cfg.RunTimeout)
		log.Printf("scan routine terminated")
		return nil
	})

	g.Go(func() error {
		err := srv.Serve(gctx, cfg.ListenAddr)
		if err != nil && gctx.Err() == nil {
			log.Printf("command server error: %v", err)
		}
		log.Printf("command server routine terminated")
		return nil
	})

	g.Go(func() error {
		if saver != nil {
			saver.Run(gctx.Done())
			if err := saver.Save(); err != nil {
				log.Printf("final zone save failed: %v", err)
			}
		} else {
			<-gctx.Done()
		}
		log.Printf("persistence routine terminated")
		return nil
	})

	g.Go(func() error {
		sampler.Run(gctx.Done())
		log.Printf("telemetry sampler terminated")
		return nil
	})

	g.Go(func() error {
		mux := http.NewServeMux()
		srv.AttachAdminRoutes(mux)

		admin := &http.Server{Addr: cfg.AdminListen, Handler: mux}
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("admin server error: %v", err)
			}
		}()

		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Printf("admin server shutdown error: %v", err)
		}
		log.Printf("admin server routine terminated")
		return nil
	})

	<-ctx.Done()
	log.Printf("shutting down")

	if err := g.Wait(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Printf("graceful shutdown complete")
}

func openCamera() (camera.Driver, error) {
	switch *cameraFlag {
	case "mock":
		return camera.NewMock(*mockRate), nil
	case "serial":
		return camera.OpenSerial(*serialPort, *serialBaud, nil)
	default:
		return nil, fmt.Errorf("unknown camera backend %q (want mock or serial)", *cameraFlag)
	}
}

// fpsCounter tracks an approximate depth-frame rate from scan-loop activity,
// mirroring the simple one-second-window counters the reference keeps for
// its status reporting.
type fpsCounter struct {
	mu    sync.Mutex
	count int
	rate  int
	last  time.Time
}

func (f *fpsCounter) tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if f.last.IsZero() {
		f.last = now
	}
	f.count++
	if now.Sub(f.last) >= time.Second {
		f.rate = f.count
		f.count = 0
		f.last = now
	}
}

func (f *fpsCounter) Get() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

// runScanLoop serves completed depth and video frames off the pipeline,
// classifies each depth frame against the zone list, kicks the watchdog on
// every depth frame received, and notifies the command server so it can fan
// out deltas and raw frames to subscribed clients.
func runScanLoop(ctx context.Context, pl *pipeline.Pipeline, zl *zones.ZoneList, srv *server.Server, fps *fpsCounter, wd *watchdog.Watchdog, runTimeout time.Duration) {
	go pl.ServeDepth(ctx)
	go pl.ServeVideo(ctx)

	timeoutApplied := false
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var lastStats pipeline.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pl.Stats()
			if stats.DepthFrames != lastStats.DepthFrames {
				if frame := pl.GetDepth(); frame != nil {
					scan.Depth(zl, frame)
					wd.Kick()
					if !timeoutApplied {
						wd.SetTimeout(runTimeout)
						timeoutApplied = true
					}
					fps.tick()
					srv.NotifyDepth()
				}
			}
			if stats.VideoFrames != lastStats.VideoFrames {
				if frame := pl.GetVideo(); frame != nil {
					scan.Video(zl, frame)
					srv.NotifyVideo()
				}
			}
			lastStats = stats
		}
	}
}
