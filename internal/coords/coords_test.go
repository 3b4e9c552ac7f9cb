package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTablesMonotonicallyNonDecreasing(t *testing.T) {
	tbl := NewTables()
	for i := 1; i <= PxZMax; i++ {
		require.GreaterOrEqualf(t, tbl.depth[i], tbl.depth[i-1], "depth table must be non-decreasing at index %d", i)
	}
}

func TestReverseDepthRoundTrip(t *testing.T) {
	tbl := NewTables()
	for pxz := 50; pxz <= PxZMax; pxz += 17 {
		zw := tbl.Depth(pxz)
		got := tbl.ReverseDepth(zw)
		assert.InDeltaf(t, pxz, got, 2, "reverse_lut(depth_lut[%d]=%d) = %d", pxz, zw, got)
	}
}

func TestXWorldXScreenRoundTrip(t *testing.T) {
	zw := 2000
	for x := 50; x < FrameWidth-50; x += 37 {
		xw := XWorld(x, zw)
		gotX := XScreen(xw, zw)
		assert.InDelta(t, x, gotX, 1)
	}
}

func TestYWorldUsesRowOffset(t *testing.T) {
	zw := 1500
	got := YWorld(100, zw)
	want := XWorld(100+rowOffset, zw)
	assert.Equal(t, want, got)
}

func TestPxVal11UnpacksSequentialValues(t *testing.T) {
	// Pack pixel values 0..10 at 11 bits each, MSB-first, and verify unpacking.
	vals := []int{0, 1, 2047, 1024, 5, 2046, 999, 1, 0, 2047, 512}
	buf := make([]byte, ((len(vals)+1)*11+7)/8+4)
	bitpos := 0
	for _, v := range vals {
		for b := 10; b >= 0; b-- {
			bit := (v >> uint(b)) & 1
			byteIdx := bitpos / 8
			bitIdx := 7 - (bitpos % 8)
			if bit == 1 {
				buf[byteIdx] |= 1 << uint(bitIdx)
			}
			bitpos++
		}
	}
	for i, want := range vals {
		got := PxVal11(buf, i)
		assert.Equal(t, want, got, "pixel %d", i)
	}
}
