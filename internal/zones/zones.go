// Package zones implements the zone list: user-defined 3D regions in
// world-space that are classified against every depth and video frame for
// occupancy.
package zones

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nitrogenlogic/zoned/internal/coords"
)

// Param identifies which accumulated quantity drives a zone's occupancy
// decision.
type Param int

const (
	ParamPop Param = iota
	ParamSA
	ParamBright
	ParamXC
	ParamYC
	ParamZC
)

func (p Param) String() string {
	switch p {
	case ParamPop:
		return "pop"
	case ParamSA:
		return "sa"
	case ParamBright:
		return "bright"
	case ParamXC:
		return "xc"
	case ParamYC:
		return "yc"
	case ParamZC:
		return "zc"
	default:
		return "unknown"
	}
}

// ParseParam converts a protocol-level parameter name into a Param.
func ParseParam(s string) (Param, error) {
	switch s {
	case "pop":
		return ParamPop, nil
	case "sa":
		return ParamSA, nil
	case "bright":
		return ParamBright, nil
	case "xc":
		return ParamXC, nil
	case "yc":
		return ParamYC, nil
	case "zc":
		return ParamZC, nil
	default:
		return 0, fmt.Errorf("invalid zone control parameter: %q", s)
	}
}

// paramRange describes the valid range and rising/falling defaults for one
// occupancy parameter.
type paramRange struct {
	min, max             int
	defRising, defFalling int
}

var paramRanges = [...]paramRange{
	ParamPop:    {min: 0, max: coords.FrameWidth * coords.FrameHeight, defRising: 160, defFalling: 140},
	ParamSA:     {min: 0, max: coords.FrameWidth * coords.FrameHeight * 150, defRising: 3000, defFalling: 1000},
	ParamBright: {min: 0, max: 1000, defRising: 350, defFalling: 150},
	ParamXC:     {min: 0, max: 1000, defRising: 600, defFalling: 400},
	ParamYC:     {min: 0, max: 1000, defRising: 600, defFalling: 400},
	ParamZC:     {min: 0, max: 1000, defRising: 600, defFalling: 400},
}

// Zone is a single rectangular occupancy-detection region, defined in
// world-space millimeters, with a parallel cache of screen-space pixel
// bounds used by the scanners.
type Zone struct {
	Name string

	// World-space bounds, millimeters.
	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64

	// Screen-space bounds cache, recomputed whenever the world bounds
	// change (and vice versa).
	PxXMin, PxXMax int
	PxYMin, PxYMax int
	PxZMin, PxZMax int

	OccupiedParam             Param
	RisingThreshold           int
	FallingThreshold          int
	RisingDelay, FallingDelay int
	Negate                    bool

	// Per-frame accumulators, reset at the start of each scan.
	Pop            int
	XSum, YSum, ZSum int64
	BSum           int

	MaxPop int

	Occupied     bool
	LastOccupied bool
	Count        int

	LastPop int
	NewZone bool
}

// XC, YC, ZC return the proportional (0-1000) center of gravity along each
// axis for the zone's last scan, or -1 if the zone's population was zero.
func (z *Zone) XC() int { return centerOf(z.Pop, z.XSum, z.XMin, z.XMax) }
func (z *Zone) YC() int { return centerOf(z.Pop, z.YSum, z.YMin, z.YMax) }
func (z *Zone) ZC() int { return centerOf(z.Pop, z.ZSum, z.ZMin, z.ZMax) }

func centerOf(pop int, sum int64, min, max float64) int {
	if pop <= 0 {
		return -1
	}
	return int((float64(sum)/float64(pop) - min) * 1000 / (max - min))
}

// SurfaceArea returns the zone's last-scan surface area in mm^2.
func (z *Zone) SurfaceArea() int {
	if z.Pop <= 0 {
		return 0
	}
	avgZ := int(z.ZSum / int64(z.Pop))
	return z.Pop * surfaceAreaMM(avgZ)
}

func surfaceAreaMM(zMM int) int {
	return int(float64(zMM) * float64(zMM) * 2.760888e-6)
}

// ZoneList is a mutex-protected collection of Zones plus the derived
// per-pixel depth-bounds map the scanners consult before doing any
// per-zone work.
type ZoneList struct {
	mu sync.Mutex

	tables *coords.Tables

	zones []*Zone

	XSkip, YSkip int

	// depthMap holds, per screen pixel covered by at least one zone, the
	// union of that zone's [PxZMin, PxZMax] bounds, used to skip pixels
	// that cannot possibly fall in any zone before doing per-zone work.
	depthMap     []depthBound
	zoneMapDirty bool

	Version   uint32
	MaxZone   int // index of the zone with the largest occupied surface area this scan, or -1
	Occupied  int // count of occupied zones
	OORTotal  int // out-of-range pixel count from the last depth scan
}

type depthBound struct {
	min, max int
}

// New creates an empty zone list that samples every xskip-th column and
// yskip-th row when scanning frames.
func New(tables *coords.Tables, xskip, yskip int) *ZoneList {
	if xskip < 1 {
		xskip = 1
	}
	if yskip < 1 {
		yskip = 1
	}
	return &ZoneList{
		tables:       tables,
		XSkip:        xskip,
		YSkip:        yskip,
		depthMap:     make([]depthBound, coords.FrameWidth*coords.FrameHeight),
		zoneMapDirty: true,
		MaxZone:      -1,
	}
}

// Clear removes every zone from the list.
func (zl *ZoneList) Clear() {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	zl.zones = nil
	zl.bumpNolock()
}

// Count returns the number of zones in the list.
func (zl *ZoneList) Count() int {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	return len(zl.zones)
}

// OccupiedCount returns the number of zones currently flagged occupied.
func (zl *ZoneList) OccupiedCount() int {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	return zl.Occupied
}

// GetVersion returns the zone list's current version number, bumped on
// every mutation.
func (zl *ZoneList) GetVersion() uint32 {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	return zl.Version
}

// PeakZone returns the name, population, and screen area of the zone with
// the largest occupied surface area in the last scan, or ok=false if no
// zone currently qualifies.
func (zl *ZoneList) PeakZone() (name string, pop, maxPop int, ok bool) {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	if zl.MaxZone < 0 || zl.MaxZone >= len(zl.zones) {
		return "", 0, 0, false
	}
	z := zl.zones[zl.MaxZone]
	return z.Name, z.Pop, z.MaxPop, true
}

// Each calls fn once per zone under the list's lock. fn must not mutate the
// zone list.
func (zl *ZoneList) Each(fn func(*Zone)) {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	for _, z := range zl.zones {
		fn(z)
	}
}

// Touch clears every zone's NewZone flag and snapshots LastPop/LastOccupied
// for delta-reporting to subscribers.
func (zl *ZoneList) Touch() {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	for _, z := range zl.zones {
		z.NewZone = false
		z.LastPop = z.Pop
		z.LastOccupied = z.Occupied
	}
}

// Find looks up a zone by exact name. The returned pointer is only valid
// while the caller holds no conflicting expectation about concurrent
// mutation; callers that need to mutate a found zone should use a method
// on ZoneList (SetBounds/SetAttr/Remove) that re-resolves the name under
// the lock rather than retaining this pointer across calls.
func (zl *ZoneList) Find(name string) *Zone {
	zl.mu.Lock()
	defer zl.mu.Unlock()
	return zl.findNolock(name)
}

func (zl *ZoneList) findNolock(name string) *Zone {
	for _, z := range zl.zones {
		if z.Name == name {
			return z
		}
	}
	return nil
}

// Add creates a new zone with the given world-space bounds. Returns an
// error if the name is invalid, already in use, or the bounds are
// malformed.
func (zl *ZoneList) Add(name string, xmin, ymin, zmin, xmax, ymax, zmax float64) (*Zone, error) {
	if name == "" {
		return nil, fmt.Errorf("name has zero length")
	}
	if len(name) >= 128 {
		return nil, fmt.Errorf("name is too long (%d bytes, want < 128)", len(name))
	}
	if strings.ContainsAny(name, "\r\n\t,") {
		return nil, fmt.Errorf("name contains invalid characters")
	}

	zl.mu.Lock()
	defer zl.mu.Unlock()

	for _, z := range zl.zones {
		if strings.EqualFold(z.Name, name) {
			return nil, fmt.Errorf("zone %q already exists", name)
		}
	}

	z := &Zone{Name: name}
	if err := zl.setBoundsNolock(z, xmin, ymin, zmin, xmax, ymax, zmax); err != nil {
		return nil, err
	}

	z.OccupiedParam = ParamPop
	z.RisingThreshold = paramRanges[ParamPop].defRising
	z.FallingThreshold = paramRanges[ParamPop].defFalling
	z.RisingDelay = 1
	z.FallingDelay = 1

	zl.zones = append(zl.zones, z)
	return z, nil
}

// Remove deletes the named zone. Returns an error if no such zone exists.
func (zl *ZoneList) Remove(name string) error {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	for i, z := range zl.zones {
		if z.Name == name {
			zl.zones = append(zl.zones[:i], zl.zones[i+1:]...)
			zl.bumpNolock()
			return nil
		}
	}
	return fmt.Errorf("zone %q not found", name)
}

// SetBounds replaces a zone's world-space bounds by name.
func (zl *ZoneList) SetBounds(name string, xmin, ymin, zmin, xmax, ymax, zmax float64) error {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	z := zl.findNolock(name)
	if z == nil {
		return fmt.Errorf("zone %q not found", name)
	}
	return zl.setBoundsNolock(z, xmin, ymin, zmin, xmax, ymax, zmax)
}

func (zl *ZoneList) setBoundsNolock(z *Zone, xmin, ymin, zmin, xmax, ymax, zmax float64) error {
	if xmin >= xmax || ymin >= ymax || zmin >= zmax {
		return fmt.Errorf("minimum must be < maximum")
	}
	if zmin <= 0 || zmax <= 0 {
		return fmt.Errorf("z must be > 0.0")
	}

	z.NewZone = true
	z.XMin, z.XMax = xmin, xmax
	z.YMin, z.YMax = ymin, ymax
	z.ZMin, z.ZMax = zmin, zmax

	zl.recalcScreenFromWorld(z)

	z.MaxPop = (z.PxYMax - z.PxYMin) * (z.PxXMax - z.PxXMin)
	if z.MaxPop <= 0 {
		z.MaxPop = 1
	}
	z.LastPop = -1
	z.Pop = 0
	z.Occupied = false

	zl.bumpNolock()
	return nil
}

// SetAttr mutates a single named attribute of a zone, following the wire
// protocol's attribute names and value parsing rules.
func (zl *ZoneList) SetAttr(name, attr, value string) error {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	z := zl.findNolock(name)
	if z == nil {
		return fmt.Errorf("zone %q not found", name)
	}

	var ival int
	switch value {
	case "true":
		ival = 1
	case "false":
		ival = 0
	default:
		ival, _ = strconv.Atoi(value)
	}

	const (
		recalcNone = iota
		recalcScreen
		recalcWorld
	)
	recalc := recalcNone

	switch attr {
	case "xmin":
		z.XMin = float64(ival)
		if z.XMax <= z.XMin {
			z.XMax = z.XMin + 1
		}
		recalc = recalcScreen
	case "xmax":
		z.XMax = float64(ival)
		if z.XMin >= z.XMax {
			z.XMin = z.XMax - 1
		}
		recalc = recalcScreen
	case "ymin":
		z.YMin = float64(ival)
		if z.YMax <= z.YMin {
			z.YMax = z.YMin + 1
		}
		recalc = recalcScreen
	case "ymax":
		z.YMax = float64(ival)
		if z.YMin >= z.YMax {
			z.YMin = z.YMax - 1
		}
		recalc = recalcScreen
	case "zmin":
		if ival <= 0 {
			return fmt.Errorf("zmin must be > 0.0")
		}
		z.ZMin = float64(ival)
		if z.ZMax <= z.ZMin {
			z.ZMax = z.ZMin + 1
		}
		recalc = recalcScreen
	case "zmax":
		if ival <= 1 {
			return fmt.Errorf("zmax must be > 0.001")
		}
		z.ZMax = float64(ival)
		if z.ZMin >= z.ZMax {
			z.ZMin = z.ZMax - 1
		}
		recalc = recalcScreen
	case "px_xmin":
		if ival < 0 || ival > coords.FrameWidth-2 {
			return fmt.Errorf("px_xmin must be between 0 and %d", coords.FrameWidth-2)
		}
		z.PxXMin = ival
		if z.PxXMax <= z.PxXMin {
			z.PxXMax = z.PxXMin + 1
		}
		recalc = recalcWorld
	case "px_xmax":
		if ival < 1 || ival > coords.FrameWidth-1 {
			return fmt.Errorf("px_xmax must be between 1 and %d", coords.FrameWidth-1)
		}
		z.PxXMax = ival
		if z.PxXMin >= z.PxXMax {
			z.PxXMin = z.PxXMax - 1
		}
		recalc = recalcWorld
	case "px_ymin":
		if ival < 0 || ival > coords.FrameHeight-2 {
			return fmt.Errorf("px_ymin must be between 0 and %d", coords.FrameHeight-2)
		}
		z.PxYMin = ival
		if z.PxYMax <= z.PxYMin {
			z.PxYMax = z.PxYMin + 1
		}
		recalc = recalcWorld
	case "px_ymax":
		if ival < 1 || ival > coords.FrameHeight-1 {
			return fmt.Errorf("px_ymax must be between 1 and %d inclusive", coords.FrameHeight-1)
		}
		z.PxYMax = ival
		if z.PxYMin >= z.PxYMax {
			z.PxYMin = z.PxYMax - 1
		}
		recalc = recalcWorld
	case "px_zmin":
		if ival < 0 || ival > coords.PxZMax {
			return fmt.Errorf("px_zmin must be between 0 and %d inclusive", coords.PxZMax)
		}
		z.PxZMin = ival
		if z.PxZMax < z.PxZMin {
			z.PxZMax = z.PxZMin
		}
		recalc = recalcWorld
	case "px_zmax":
		if ival < 0 || ival > coords.PxZMax {
			return fmt.Errorf("px_zmax must be between 0 and %d inclusive", coords.PxZMax)
		}
		z.PxZMax = ival
		if z.PxZMin > z.PxZMax {
			z.PxZMin = z.PxZMax
		}
		recalc = recalcWorld
	case "negate":
		if ival != 0 && ival != 1 {
			return fmt.Errorf("negate must be 0 or 1")
		}
		z.Negate = ival == 1
		z.Occupied = z.Negate
	case "param":
		p, err := ParseParam(value)
		if err != nil {
			return err
		}
		z.OccupiedParam = p
		z.Occupied = false
		z.Count = 0
		r := paramRanges[p]
		z.RisingThreshold = r.defRising
		z.FallingThreshold = r.defFalling
	case "on_level":
		r := paramRanges[z.OccupiedParam]
		z.RisingThreshold = clamp(r.min, r.max, ival)
		if z.FallingThreshold > z.RisingThreshold {
			z.FallingThreshold = z.RisingThreshold
		}
	case "off_level":
		r := paramRanges[z.OccupiedParam]
		z.FallingThreshold = clamp(r.min, r.max, ival)
		if z.RisingThreshold < z.FallingThreshold {
			z.RisingThreshold = z.FallingThreshold
		}
	case "on_delay":
		z.RisingDelay = maxInt(0, ival)
	case "off_delay":
		z.FallingDelay = maxInt(0, ival)
	default:
		return fmt.Errorf("unknown attribute: %q", attr)
	}

	switch recalc {
	case recalcScreen:
		zl.recalcScreenFromWorld(z)
	case recalcWorld:
		zl.recalcWorldFromScreen(z)
	}

	z.MaxPop = (z.PxYMax - z.PxYMin) * (z.PxXMax - z.PxXMin)
	if z.MaxPop <= 0 {
		z.MaxPop = 1
	}
	z.NewZone = true

	zl.bumpNolock()
	return nil
}

func (zl *ZoneList) recalcWorldFromScreen(z *Zone) {
	if z.PxXMax < coords.FrameWidth/2 {
		z.XMin = float64(coords.XWorld(z.PxXMax, int(z.ZMax)))
	} else {
		z.XMin = float64(coords.XWorld(z.PxXMax, int(z.ZMin)))
	}
	if z.PxXMin < coords.FrameWidth/2 {
		z.XMax = float64(coords.XWorld(z.PxXMin, int(z.ZMin)))
	} else {
		z.XMax = float64(coords.XWorld(z.PxXMin, int(z.ZMax)))
	}
	if z.PxYMax < coords.FrameHeight/2 {
		z.YMin = float64(coords.YWorld(z.PxYMax, int(z.ZMax)))
	} else {
		z.YMin = float64(coords.YWorld(z.PxYMax, int(z.ZMin)))
	}
	if z.PxYMin < coords.FrameHeight/2 {
		z.YMax = float64(coords.YWorld(z.PxYMin, int(z.ZMin)))
	} else {
		z.YMax = float64(coords.YWorld(z.PxYMin, int(z.ZMax)))
	}
	z.ZMin = float64(zl.tables.Depth(z.PxZMin))
	z.ZMax = float64(zl.tables.Depth(z.PxZMax))
}

func (zl *ZoneList) recalcScreenFromWorld(z *Zone) {
	xminZ := z.ZMax
	if z.XMax >= 0 {
		xminZ = z.ZMin
	}
	z.PxXMin = clamp(0, coords.FrameWidth-1, coords.XScreen(int(z.XMax), int(xminZ)))

	xmaxZ := z.ZMin
	if z.XMin >= 0 {
		xmaxZ = z.ZMax
	}
	z.PxXMax = clamp(0, coords.FrameWidth-1, coords.XScreen(int(z.XMin), int(xmaxZ)))

	yminZ := z.ZMax
	if z.YMax >= 0 {
		yminZ = z.ZMin
	}
	z.PxYMin = clamp(0, coords.FrameHeight-1, coords.YScreen(int(z.YMax), int(yminZ)))

	ymaxZ := z.ZMin
	if z.YMin >= 0 {
		ymaxZ = z.ZMax
	}
	z.PxYMax = clamp(0, coords.FrameHeight-1, coords.YScreen(int(z.YMin), int(ymaxZ)))

	z.PxZMin = zl.tables.ReverseDepth(int(z.ZMin))
	z.PxZMax = zl.tables.ReverseDepth(int(z.ZMax))
}

func (zl *ZoneList) bumpNolock() {
	zl.zoneMapDirty = true
	zl.Version++
	if zl.Version == ^uint32(0) {
		zl.Version = 0
	}
}

func clamp(min, max, v int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
