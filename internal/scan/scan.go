// Package scan provides the entry points the frame pipeline uses to
// classify depth and video frames against a zone list. The classification
// algorithms themselves live on zones.ZoneList, which owns the locking and
// per-pixel depth-bounds cache they depend on; this package is the stable,
// narrow surface the pipeline is written against.
package scan

import "github.com/nitrogenlogic/zoned/internal/zones"

// Depth classifies one packed-11-bit depth frame against zl, updating
// every zone's occupancy state and returning a summary for telemetry.
func Depth(zl *zones.ZoneList, frame []byte) zones.DepthStats {
	return zl.ScanDepth(frame)
}

// Video accumulates brightness samples from a Bayer-pattern video frame
// into every zone, whatever its occupancy parameter.
func Video(zl *zones.ZoneList, frame []byte) {
	zl.ScanVideo(frame)
}
