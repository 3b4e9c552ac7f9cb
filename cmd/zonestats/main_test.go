package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortAscending(t *testing.T) {
	xs := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	sortAscending(xs)
	assert.Equal(t, []float64{1, 1, 2, 3, 4, 5, 6, 9}, xs)
}

func TestSortAscendingEmptyAndSingle(t *testing.T) {
	var empty []float64
	sortAscending(empty)
	assert.Empty(t, empty)

	single := []float64{42}
	sortAscending(single)
	assert.Equal(t, []float64{42}, single)
}

func TestSum(t *testing.T) {
	assert.Equal(t, 10.0, sum([]float64{1, 2, 3, 4}))
	assert.Equal(t, 0.0, sum(nil))
}

func TestMax(t *testing.T) {
	assert.Equal(t, 9.0, max([]float64{3, 9, 1, 7}))
	assert.Equal(t, 0.0, max(nil))
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "telemetry.db", *dbPath)
	assert.Equal(t, 1000, *limit)
	assert.Equal(t, "zonestats.png", *pngOut)
	assert.Equal(t, "zonestats.html", *htmlOut)
}
