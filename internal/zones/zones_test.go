package zones

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestList() *ZoneList {
	return New(coords.NewTables(), 2, 2)
}

func TestAddZoneRejectsBadBounds(t *testing.T) {
	zl := newTestList()

	_, err := zl.Add("a", 100, -100, 500, -100, 100, 1000)
	require.Error(t, err)

	_, err = zl.Add("b", -100, -100, 0, 100, 100, 1000)
	require.Error(t, err)
}

func TestAddZoneRejectsInvalidName(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("", -100, -100, 500, 100, 100, 1000)
	require.Error(t, err)

	_, err = zl.Add("bad\nname", -100, -100, 500, 100, 100, 1000)
	require.Error(t, err)
}

func TestAddZoneRejectsCommaAndOverlongNames(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a,b", -100, -100, 500, 100, 100, 1000)
	require.Error(t, err)

	_, err = zl.Add(strings.Repeat("x", 128), -100, -100, 500, 100, 100, 1000)
	require.Error(t, err)

	_, err = zl.Add(strings.Repeat("x", 127), -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)
}

func TestAddZoneRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("Zone1", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	_, err = zl.Add("zone1", -50, -50, 500, 50, 50, 1000)
	require.Error(t, err)
}

func TestAddZoneDefaultsToPopulationParam(t *testing.T) {
	zl := newTestList()
	z, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, ParamPop, z.OccupiedParam)
	assert.Equal(t, 1, z.RisingDelay)
	assert.Equal(t, 1, z.FallingDelay)
}

func TestVersionSkipsAllOnesValue(t *testing.T) {
	zl := newTestList()
	zl.Version = ^uint32(0) - 1
	zl.mu.Lock()
	zl.bumpNolock()
	zl.mu.Unlock()
	assert.NotEqual(t, ^uint32(0), zl.Version)
}

func TestSetAttrAdjustsOppositeBound(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	require.NoError(t, zl.SetAttr("a", "xmax", "-200"))
	z := zl.Find("a")
	require.NotNil(t, z)
	assert.Less(t, z.XMin, z.XMax)
}

func TestSetAttrOnLevelOnlyTouchesThresholdFields(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	before := *zl.Find("a")

	require.NoError(t, zl.SetAttr("a", "on_level", "42"))
	after := *zl.Find("a")

	diff := cmp.Diff(before, after, cmpopts.IgnoreFields(Zone{}, "RisingThreshold", "FallingThreshold"))
	assert.Empty(t, diff, "SetAttr(on_level) must not change any field besides the rising/falling thresholds")
	assert.Equal(t, 42, after.RisingThreshold)
}

func TestSetAttrRejectsNonPositiveZMin(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	err = zl.SetAttr("a", "zmin", "0")
	require.Error(t, err)
}

func TestSetAttrNegateSetsOccupiedDirectly(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	require.NoError(t, zl.SetAttr("a", "negate", "true"))
	z := zl.Find("a")
	assert.True(t, z.Occupied)
	assert.True(t, z.Negate)
}

func TestSetAttrParamResetsThresholds(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	require.NoError(t, zl.SetAttr("a", "param", "bright"))
	z := zl.Find("a")
	assert.Equal(t, ParamBright, z.OccupiedParam)
	assert.Equal(t, paramRanges[ParamBright].defRising, z.RisingThreshold)
	assert.Equal(t, paramRanges[ParamBright].defFalling, z.FallingThreshold)
}

func TestSetAttrOnLevelDragsOffLevel(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)

	require.NoError(t, zl.SetAttr("a", "on_level", "50"))
	z := zl.Find("a")
	assert.Equal(t, 50, z.RisingThreshold)
	assert.LessOrEqual(t, z.FallingThreshold, z.RisingThreshold)
}

func TestRemoveZone(t *testing.T) {
	zl := newTestList()
	_, err := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	require.NoError(t, err)
	require.NoError(t, zl.Remove("a"))
	assert.Nil(t, zl.Find("a"))
	assert.Equal(t, 0, zl.Count())
}

func TestRemoveZoneNotFound(t *testing.T) {
	zl := newTestList()
	err := zl.Remove("missing")
	require.Error(t, err)
}

func TestClearRemovesAllZones(t *testing.T) {
	zl := newTestList()
	_, _ = zl.Add("a", -100, -100, 500, 100, 100, 1000)
	_, _ = zl.Add("b", -50, -50, 500, 50, 50, 1000)
	zl.Clear()
	assert.Equal(t, 0, zl.Count())
}

func TestTouchSnapshotsLastPopAndOccupied(t *testing.T) {
	zl := newTestList()
	z, _ := zl.Add("a", -100, -100, 500, 100, 100, 1000)
	z.Pop = 42
	z.Occupied = true
	zl.Touch()
	assert.Equal(t, 42, z.LastPop)
	assert.True(t, z.LastOccupied)
	assert.False(t, z.NewZone)
}
