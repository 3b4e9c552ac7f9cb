package zones

import (
	"testing"

	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packFrame builds a packed-11-bit depth frame where every sampled pixel
// has the same value.
func packFrame(val int) []byte {
	buf := make([]byte, coords.FrameWidth*coords.FrameHeight*11/8+8)
	for px := 0; px < coords.FrameWidth*coords.FrameHeight; px++ {
		setPxVal11(buf, px, val)
	}
	return buf
}

func setPxVal11(buf []byte, pixel, val int) {
	bitStart := pixel * 11
	for b := 0; b < 11; b++ {
		bitpos := bitStart + b
		bit := (val >> uint(10-b)) & 1
		byteIdx := bitpos / 8
		bitIdx := 7 - (bitpos % 8)
		if bit == 1 {
			buf[byteIdx] |= 1 << uint(bitIdx)
		} else {
			buf[byteIdx] &^= 1 << uint(bitIdx)
		}
	}
}

func TestScanDepthOutOfRangeSkipped(t *testing.T) {
	tbl := coords.NewTables()
	zl := New(tbl, 4, 4)
	_, err := zl.Add("a", -5000, -5000, 500, 5000, 5000, 4000)
	require.NoError(t, err)

	frame := packFrame(2047)
	stats := zl.ScanDepth(frame)
	assert.Greater(t, stats.OutOfRange, 0)

	z := zl.Find("a")
	assert.Equal(t, 0, z.Pop)
}

func TestScanDepthPopulatesZoneInBounds(t *testing.T) {
	tbl := coords.NewTables()
	zl := New(tbl, 4, 4)
	// Pick a mid-range packed depth, compute its world depth, and size the
	// zone generously around the world-space projection of the full frame
	// at that depth so every sampled pixel falls inside it.
	pxz := 400
	zw := tbl.Depth(pxz)
	_, err := zl.Add("a", -100000, -100000, 1, 100000, 100000, float64(zw)+1000)

	require.NoError(t, err)

	frame := packFrame(pxz)
	stats := zl.ScanDepth(frame)
	assert.Equal(t, 0, stats.OutOfRange)

	z := zl.Find("a")
	assert.Greater(t, z.Pop, 0)
}

func TestScanDepthHysteresisDelaysTransition(t *testing.T) {
	tbl := coords.NewTables()
	zl := New(tbl, 8, 8)
	pxz := 400
	zw := tbl.Depth(pxz)
	_, err := zl.Add("a", -100000, -100000, 1, 100000, 100000, float64(zw)+1000)
	require.NoError(t, err)
	require.NoError(t, zl.SetAttr("a", "on_delay", "2"))

	frame := packFrame(pxz)
	zl.ScanDepth(frame)
	z := zl.Find("a")
	assert.False(t, z.Occupied, "should not occupy before delay elapses")

	zl.ScanDepth(frame)
	zl.ScanDepth(frame)
	z = zl.Find("a")
	assert.True(t, z.Occupied, "should occupy once count exceeds on_delay")
}

func TestScanVideoAccumulatesBrightness(t *testing.T) {
	tbl := coords.NewTables()
	zl := New(tbl, 4, 4)
	_, err := zl.Add("a", -100000, -100000, 1, 100000, 100000, 100000)
	require.NoError(t, err)
	require.NoError(t, zl.SetAttr("a", "px_xmin", "0"))
	require.NoError(t, zl.SetAttr("a", "px_xmax", "639"))
	require.NoError(t, zl.SetAttr("a", "px_ymin", "0"))
	require.NoError(t, zl.SetAttr("a", "px_ymax", "479"))

	frame := make([]byte, coords.FrameWidth*coords.FrameHeight)
	for i := range frame {
		frame[i] = 200
	}

	zl.ScanVideo(frame)
	z := zl.Find("a")
	assert.Greater(t, z.BSum, 0)
}
