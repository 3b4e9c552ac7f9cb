package zones

import "github.com/nitrogenlogic/zoned/internal/coords"

// DepthStats summarizes the result of one depth-frame scan.
type DepthStats struct {
	OutOfRange int
	Occupied   int
	MaxZone    int
}

// updateZoneMap recomputes the per-pixel depth-bounds map: for every
// sampled pixel, the union of [PxZMin, PxZMax] across every zone whose
// screen-space bounding box covers that pixel. The scanner uses this to
// skip per-zone comparisons for pixels that cannot fall inside any zone at
// their observed depth.
func (zl *ZoneList) updateZoneMap() {
	for y := 0; y < coords.FrameHeight; y += zl.YSkip {
		row := y * coords.FrameWidth
		for x := 0; x < coords.FrameWidth; x += zl.XSkip {
			px := row + x
			bound := depthBound{min: 0xffff, max: 0}
			for _, z := range zl.zones {
				if z.PxXMin <= x && z.PxXMax >= x && z.PxYMin <= y && z.PxYMax >= y {
					if z.PxZMin < bound.min {
						bound.min = z.PxZMin
					}
					if z.PxZMax > bound.max {
						bound.max = z.PxZMax
					}
				}
			}
			zl.depthMap[px] = bound
		}
	}
	zl.zoneMapDirty = false
}

// ScanDepth classifies a single packed-11-bit depth frame against every
// zone in the list, updating each zone's population/center-of-gravity
// accumulators and resolving hysteresis-gated occupancy.
func (zl *ZoneList) ScanDepth(frame []byte) DepthStats {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	if zl.zoneMapDirty {
		zl.updateZoneMap()
	}

	zl.MaxZone = -1
	zl.Occupied = 0
	zl.OORTotal = 0
	skip := zl.XSkip * zl.YSkip

	for _, z := range zl.zones {
		z.Pop = 0
		z.XSum, z.YSum, z.ZSum = 0, 0, 0
	}

	for y := 0; y < coords.FrameHeight; y += zl.YSkip {
		row := y * coords.FrameWidth
		for x := 0; x < coords.FrameWidth; x += zl.XSkip {
			px := row + x
			pxz := coords.PxVal11(frame, px)
			if pxz == 2047 {
				zl.OORTotal += skip
				continue
			}

			bound := zl.depthMap[px]
			if pxz < bound.min || pxz > bound.max {
				continue
			}

			zw := zl.tables.Depth(pxz)
			xw := coords.XWorld(x, zw)
			yw := coords.YWorld(y, zw)

			for _, z := range zl.zones {
				if float64(xw) >= z.XMin && float64(xw) <= z.XMax &&
					float64(yw) >= z.YMin && float64(yw) <= z.YMax &&
					float64(zw) >= z.ZMin && float64(zw) <= z.ZMax {
					z.Pop += skip
					z.XSum += int64(skip) * int64(xw)
					z.YSum += int64(skip) * int64(yw)
					z.ZSum += int64(skip) * int64(zw)
				}
			}
		}
	}

	maxSA := 0
	for i, z := range zl.zones {
		sa := 0
		if z.Pop > 0 {
			sa = z.SurfaceArea()
		}
		threshold := z.RisingThreshold
		if z.Occupied {
			threshold = z.FallingThreshold
		}
		allowOccupied := z.Pop > 0

		var param int
		switch z.OccupiedParam {
		case ParamSA:
			param = sa
		case ParamBright:
			param = z.BSum * 256 / z.MaxPop
			allowOccupied = true
		case ParamXC:
			param = z.XC()
		case ParamYC:
			param = z.YC()
		case ParamZC:
			param = z.ZC()
		default:
			param = z.Pop
		}

		occupied := allowOccupied && param >= threshold

		if z.Occupied != occupied {
			z.Count++
		} else {
			z.Count = 0
		}

		if !z.Occupied && z.Count > z.RisingDelay {
			z.Occupied = true
			z.Count = 0
		} else if z.Occupied && z.Count > z.FallingDelay {
			z.Occupied = false
			z.Count = 0
		}

		if z.Occupied {
			zl.Occupied++
		}

		if sa > maxSA {
			zl.MaxZone = i
			maxSA = sa
		}
	}

	return DepthStats{OutOfRange: zl.OORTotal, Occupied: zl.Occupied, MaxZone: zl.MaxZone}
}

// ScanVideo accumulates green-channel Bayer brightness per zone from a
// video frame, sampling every 8th pixel in each dimension as the reference
// sensor's firmware does.
func (zl *ZoneList) ScanVideo(frame []byte) {
	zl.mu.Lock()
	defer zl.mu.Unlock()

	if zl.zoneMapDirty {
		zl.updateZoneMap()
	}

	for _, z := range zl.zones {
		z.BSum = 0
	}

	for y := 0; y < coords.FrameHeight; y += 8 {
		row := y * coords.FrameWidth
		for x := 1; x < coords.FrameWidth; x += 8 {
			b := int(frame[row+x])
			for _, z := range zl.zones {
				if x >= z.PxXMin && x <= z.PxXMax && y >= z.PxYMin && y <= z.PxYMax {
					z.BSum += b
				}
			}
		}
	}
}
